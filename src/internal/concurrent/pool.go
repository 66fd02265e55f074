package custcon

import (
	"log"

	"github.com/opensentry/command/src/internal/logger"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

type Options struct {
	nonblocking bool
	preAlloc    bool
}

type Optioner func(o *Options)

// WithNonblocking makes Submit return ants.ErrPoolOverload instead of waiting for a free worker.
func WithNonblocking() Optioner {
	return func(o *Options) {
		o.nonblocking = true
	}
}

func WithPreAlloc() Optioner {
	return func(o *Options) {
		o.preAlloc = true
	}
}

func New(size int, options ...Optioner) *ants.Pool {
	opts := &Options{}
	for _, o := range options {
		o(opts)
	}
	pool, err := ants.NewPool(
		size,
		ants.WithPreAlloc(opts.preAlloc),
		ants.WithNonblocking(opts.nonblocking),
		ants.WithLogger(logger.NewZapToAntsLogger(zap.L())),
	)
	if err != nil {
		log.Fatalf("pool.New: err = %s", err)
	}
	return pool
}
