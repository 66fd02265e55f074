package reconciler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opensentry/command/src/internal/logger"
	"github.com/opensentry/command/src/registry"
)

type Streams interface {
	Rearm(cameraId string) (bool, error)
	Halt(cameraId string)
}

// Reconciler keeps stream sessions in line with registry status. Registry
// observers run on the mutating goroutine, so changes are queued here and
// applied from Run.
type Reconciler struct {
	mu              sync.Mutex
	needConcilation []string
	needRemoval     []string

	streams  Streams
	interval time.Duration
}

type Options struct {
	interval time.Duration
}

type Optioner func(o *Options)

func WithInterval(d time.Duration) Optioner {
	return func(o *Options) {
		o.interval = d
	}
}

func NewReconciler(streams Streams, options ...Optioner) *Reconciler {
	opts := &Options{
		interval: 200 * time.Millisecond,
	}
	for _, o := range options {
		o(opts)
	}
	if streams == nil {
		logger.SFatal("stream supervisor is nil",
			zap.String("error", "stream supervisor is nil"))
	}
	return &Reconciler{
		needConcilation: make([]string, 0),
		needRemoval:     make([]string, 0),
		streams:         streams,
		interval:        opts.interval,
	}
}

// Observe is a registry.Observer.
func (c *Reconciler) Observe(change registry.Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case change.Removed:
		c.markForRemoval(change.CameraId)
	case change.From == registry.StatusOffline &&
		(change.To == registry.StatusOnline || change.To == registry.StatusDiscovered):
		c.markForReconcile(change.CameraId)
	}
}

func (c *Reconciler) Run(ctx context.Context) {
	logger.SDebug("reconciler loop started")
	for {
		c.reconcile()
		select {
		case <-ctx.Done():
			logger.SInfo("reconciler loop shutdown requested")
			return
		case <-time.After(c.interval):
		}
	}
}

func (c *Reconciler) reconcile() {
	c.mu.Lock()
	removal := c.needRemoval
	concilation := c.needConcilation
	c.needRemoval = []string{}
	c.needConcilation = []string{}
	c.mu.Unlock()

	for _, cameraId := range removal {
		c.streams.Halt(cameraId)
		logger.SDebug("released stream",
			zap.String("cameraId", cameraId))
	}
	for _, cameraId := range concilation {
		restarted, err := c.streams.Rearm(cameraId)
		if err != nil {
			logger.SError("error rearming stream",
				zap.String("cameraId", cameraId),
				zap.Error(err))
			continue
		}
		if restarted {
			logger.SInfo("rearmed stream",
				zap.String("cameraId", cameraId))
		}
	}
	if len(removal)+len(concilation) > 0 {
		logger.SDebug("stream reconciler reconciled",
			zap.Int("released", len(removal)),
			zap.Int("rearmed", len(concilation)))
	}
}

// The latest intent for a camera wins over a queued opposite one.
func (c *Reconciler) markForRemoval(cameraId string) {
	c.needConcilation = without(c.needConcilation, cameraId)
	for _, id := range c.needRemoval {
		if id == cameraId {
			return
		}
	}
	c.needRemoval = append(c.needRemoval, cameraId)
}

func (c *Reconciler) markForReconcile(cameraId string) {
	c.needRemoval = without(c.needRemoval, cameraId)
	for _, id := range c.needConcilation {
		if id == cameraId {
			return
		}
	}
	c.needConcilation = append(
		c.needConcilation,
		cameraId)
}

func without(ids []string, cameraId string) []string {
	kept := ids[:0]
	for _, id := range ids {
		if id != cameraId {
			kept = append(kept, id)
		}
	}
	return kept
}
