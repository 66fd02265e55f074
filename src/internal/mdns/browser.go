package custmdns

import (
	"context"
	"math"
	"net"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	custerror "github.com/opensentry/command/src/internal/error"
	"github.com/opensentry/command/src/internal/logger"
)

type Kind string

const (
	Added   Kind = "added"
	Removed Kind = "removed"
)

// Announcement is one service appearing on or leaving the network.
type Announcement struct {
	Kind     Kind
	Instance string
	HostName string
	Addrs    []net.IP
	Port     int
	Text     map[string]string
}

type Browser struct {
	serviceType string
	domain      string
	out         chan<- Announcement
}

type Options struct {
	serviceType string
	domain      string
}

type Optioner func(o *Options)

func WithServiceType(t string) Optioner {
	return func(o *Options) {
		o.serviceType = t
	}
}

func WithDomain(d string) Optioner {
	return func(o *Options) {
		o.domain = d
	}
}

func NewBrowser(out chan<- Announcement, options ...Optioner) *Browser {
	opts := &Options{
		serviceType: "_opensentry._tcp",
		domain:      "local.",
	}
	for _, o := range options {
		o(opts)
	}
	return &Browser{
		serviceType: opts.serviceType,
		domain:      opts.domain,
		out:         out,
	}
}

// Run browses until ctx is cancelled, restarting the resolver with backoff when it fails.
func (b *Browser) Run(ctx context.Context) error {
	err := retry.Do(
		func() error {
			return b.browse(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(math.MaxUint32),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil
		}),
		retry.OnRetry(func(n uint, err error) {
			logger.SWarn("mDNS browse failed, restarting",
				zap.Uint("attempt", n),
				zap.Error(err))
		}),
	)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (b *Browser) browse(ctx context.Context) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return custerror.FormatUnavailable("custmdns.browse: resolver err = %s", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			b.emit(ctx, FromEntry(entry))
		}
	}()

	logger.SInfo("mDNS browse started",
		zap.String("service", b.serviceType),
		zap.String("domain", b.domain))
	if err := resolver.Browse(ctx, b.serviceType, b.domain, entries); err != nil {
		return custerror.FormatUnavailable("custmdns.browse: err = %s", err)
	}

	<-ctx.Done()
	<-done
	return nil
}

func (b *Browser) emit(ctx context.Context, a Announcement) {
	select {
	case b.out <- a:
	case <-ctx.Done():
	}
}

// FromEntry converts a resolved entry. A zero TTL is the goodbye packet of a leaving service.
func FromEntry(entry *zeroconf.ServiceEntry) Announcement {
	a := Announcement{
		Kind:     Added,
		Instance: entry.Instance,
		HostName: strings.TrimSuffix(entry.HostName, "."),
		Port:     entry.Port,
		Text:     ParseText(entry.Text),
	}
	if entry.TTL == 0 {
		a.Kind = Removed
	}
	a.Addrs = append(a.Addrs, entry.AddrIPv4...)
	a.Addrs = append(a.Addrs, entry.AddrIPv6...)
	return a
}

// ParseText splits key=value TXT records. Keys are lower-cased; records without '=' map to "true".
func ParseText(records []string) map[string]string {
	text := make(map[string]string, len(records))
	for _, r := range records {
		if r == "" {
			continue
		}
		key, value, found := strings.Cut(r, "=")
		if !found {
			value = "true"
		}
		text[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	return text
}
