package cache

import (
	"log"

	"github.com/dgraph-io/ristretto"
)

type Options struct {
	maxCost     int64
	numCounters int64
}

type Optioner func(o *Options)

// WithMaxCost bounds the cache by the total cost of its items, in bytes when callers pass len(data).
func WithMaxCost(c int64) Optioner {
	return func(o *Options) {
		o.maxCost = c
	}
}

func WithNumCounters(n int64) Optioner {
	return func(o *Options) {
		o.numCounters = n
	}
}

func New(options ...Optioner) *ristretto.Cache {
	opts := &Options{
		maxCost:     1 << 28,
		numCounters: 1e4,
	}
	for _, o := range options {
		o(opts)
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: opts.numCounters,
		MaxCost:     opts.maxCost,
		BufferItems: 64,
	})
	if err != nil {
		log.Fatalf("cache.New: err = %s", err)
	}
	return c
}
