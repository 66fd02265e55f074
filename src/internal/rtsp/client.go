package custrtsp

import (
	"context"
	"crypto/tls"
	"time"

	rtsp "github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"

	custerror "github.com/opensentry/command/src/internal/error"
)

func New(timeout time.Duration) *rtsp.Client {
	if timeout <= 0 {
		timeout = time.Second * 3
	}
	return &rtsp.Client{
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		TLSConfig: &tls.Config{
			InsecureSkipVerify: true,
		},
	}
}

// Probe issues a DESCRIBE against streamUrl and reports whether the device
// answers with at least one media. It never reads media packets.
func Probe(ctx context.Context, streamUrl string, timeout time.Duration) error {
	u, err := base.ParseURL(streamUrl)
	if err != nil {
		return custerror.FormatInvalidArgument("custrtsp.Probe: url = %s err = %s", streamUrl, err)
	}

	client := New(timeout)
	done := make(chan error, 1)
	go func() {
		if err := client.Start(u.Scheme, u.Host); err != nil {
			done <- err
			return
		}
		defer client.Close()
		desc, _, err := client.Describe(u)
		if err != nil {
			done <- err
			return
		}
		if len(desc.Medias) == 0 {
			done <- custerror.FormatUnavailable("custrtsp.Probe: no medias announced")
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			return custerror.FormatUnavailable("custrtsp.Probe: err = %s", err)
		}
		return nil
	case <-ctx.Done():
		return custerror.FormatUnavailable("custrtsp.Probe: err = %s", ctx.Err())
	}
}
