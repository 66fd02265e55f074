package health

import (
	"errors"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	custcron "github.com/opensentry/command/src/internal/cron"
	custerror "github.com/opensentry/command/src/internal/error"
	"github.com/opensentry/command/src/internal/logger"
	"github.com/opensentry/command/src/registry"
)

type Halter interface {
	Halt(cameraId string)
}

// Monitor marks cameras offline once nothing has been heard from them for staleAfter.
type Monitor struct {
	registry   *registry.Registry
	halter     Halter
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time
	scheduler  *gocron.Scheduler
}

type Options struct {
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

type Optioner func(o *Options)

func WithInterval(d time.Duration) Optioner {
	return func(o *Options) {
		o.interval = d
	}
}

func WithStaleAfter(d time.Duration) Optioner {
	return func(o *Options) {
		o.staleAfter = d
	}
}

func WithClock(now func() time.Time) Optioner {
	return func(o *Options) {
		o.now = now
	}
}

func NewMonitor(r *registry.Registry, halter Halter, options ...Optioner) *Monitor {
	opts := &Options{
		interval:   10 * time.Second,
		staleAfter: 60 * time.Second,
		now:        time.Now,
	}
	for _, o := range options {
		o(opts)
	}
	return &Monitor{
		registry:   r,
		halter:     halter,
		interval:   opts.interval,
		staleAfter: opts.staleAfter,
		now:        opts.now,
	}
}

func (m *Monitor) Start() error {
	m.scheduler = custcron.New()
	if err := custcron.Every(m.scheduler, m.interval, "health-sweep", func() {
		m.Sweep(m.now())
	}); err != nil {
		return err
	}
	m.scheduler.StartAsync()
	logger.SInfo("health monitor started",
		zap.Duration("interval", m.interval),
		zap.Duration("staleAfter", m.staleAfter))
	return nil
}

func (m *Monitor) Stop() {
	if m.scheduler != nil {
		m.scheduler.Stop()
	}
}

// Sweep halts and marks offline every stale camera, returning their ids.
// The session is gone before the status changes.
func (m *Monitor) Sweep(now time.Time) []string {
	var marked []string
	for _, cameraId := range m.registry.Stale(now.Add(-m.staleAfter)) {
		if m.halter != nil {
			m.halter.Halt(cameraId)
		}
		change, err := m.registry.Transition(cameraId, registry.StatusOffline)
		if err != nil {
			if !errors.Is(err, custerror.ErrorNotFound) {
				logger.SError("health sweep transition",
					zap.String("cameraId", cameraId),
					zap.Error(err))
			}
			continue
		}
		logger.SInfo("camera went silent",
			zap.String("cameraId", cameraId),
			zap.String("from", string(change.From)))
		marked = append(marked, cameraId)
	}
	return marked
}
