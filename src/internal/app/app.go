package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/opensentry/command/src/internal/configs"
	"github.com/opensentry/command/src/internal/logger"
	"go.uber.org/zap"
)

// Server is a long running listener started before the factory hook and
// stopped after the shutdown hook.
type Server interface {
	Name() string
	Start() error
	Stop(ctx context.Context) error
}

func Run(shutdownTimeout time.Duration, registration RegistrationFunc) {
	ctx := context.Background()
	configs.Init(ctx)

	globalConfigs := configs.Get()

	loggerConfigs := globalConfigs.Logger
	logger.Init(ctx, logger.WithGlobalConfigs(&loggerConfigs))

	options := registration(globalConfigs, logger.Logger())

	opts := Options{}
	for _, optioner := range options {
		optioner(&opts)
	}

	logger := zap.L().Sugar()

	logger.Infof("Run: configs = %s", globalConfigs.String())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	if opts.factoryHook != nil {
		if err := opts.factoryHook(); err != nil {
			logger.Fatalf("Run: factoryHook err = %s", err)
			return
		}
	}

	for _, s := range opts.servers {
		s := s
		go func() {
			logger.Infof("Run: start server name = %s", s.Name())
			if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Infof("Run: start server err = %s", err)
			}
		}()
	}

	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, s := range opts.servers {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Infof("Run: stop server name = %s", s.Name())
			if err := s.Stop(ctx); err != nil {
				logger.Errorf("Run: stop server name = %s err = %s", s.Name(), err)
			}
		}()
	}
	wg.Wait()

	if opts.shutdownHook != nil {
		opts.shutdownHook(ctx)
	}

	zap.L().Sync()
	log.Print("Run: shutdown complete")
}

type RegistrationFunc func(configs *configs.Configs, logger *zap.Logger) []Optioner
type FactoryHook func() error
type ShutdownHook func(ctx context.Context)

type Options struct {
	servers []Server

	factoryHook  FactoryHook
	shutdownHook ShutdownHook
}

type Optioner func(opts *Options)

func WithHttpServer(server Server) Optioner {
	return func(opts *Options) {
		if server != nil {
			opts.servers = append(opts.servers, server)
		}
	}
}

func WithFactoryHook(cb FactoryHook) Optioner {
	return func(opts *Options) {
		opts.factoryHook = cb
	}
}

func WithShutdownHook(cb ShutdownHook) Optioner {
	return func(opts *Options) {
		opts.shutdownHook = cb
	}
}
