package custhttp

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/opensentry/command/src/internal/configs"
	custerror "github.com/opensentry/command/src/internal/error"
	"github.com/opensentry/command/src/internal/logger"
)

type HttpServer struct {
	app     *fiber.App
	name    string
	address string
	tls     configs.TlsConfig
}

type Options struct {
	globalConfigs *configs.HttpConfigs
	errorHandler  fiber.ErrorHandler
	registration  func(app *fiber.App)
	middlewares   []interface{}
}

type Optioner func(o *Options)

func WithGlobalConfigs(c *configs.HttpConfigs) Optioner {
	return func(o *Options) {
		o.globalConfigs = c
	}
}

func WithErrorHandler(h fiber.ErrorHandler) Optioner {
	return func(o *Options) {
		o.errorHandler = h
	}
}

func WithRegistration(r func(app *fiber.App)) Optioner {
	return func(o *Options) {
		o.registration = r
	}
}

func WithMiddleware(m ...interface{}) Optioner {
	return func(o *Options) {
		o.middlewares = append(o.middlewares, m...)
	}
}

func New(options ...Optioner) *HttpServer {
	opts := &Options{}
	for _, o := range options {
		o(opts)
	}
	if opts.globalConfigs == nil {
		opts.globalConfigs = &configs.HttpConfigs{}
	}
	if opts.errorHandler == nil {
		opts.errorHandler = GlobalErrorHandler()
	}

	app := fiber.New(fiber.Config{
		AppName:               opts.globalConfigs.Name,
		DisableStartupMessage: true,
		ErrorHandler:          opts.errorHandler,
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
	})
	for _, m := range opts.middlewares {
		app.Use(m)
	}
	if opts.registration != nil {
		opts.registration(app)
	}

	return &HttpServer{
		app:     app,
		name:    opts.globalConfigs.Name,
		address: fmt.Sprintf(":%d", opts.globalConfigs.Port),
		tls:     opts.globalConfigs.Tls,
	}
}

func (s *HttpServer) Name() string {
	return s.name
}

// App exposes the underlying fiber app, mostly for tests through app.Test.
func (s *HttpServer) App() *fiber.App {
	return s.app
}

func (s *HttpServer) Start() error {
	logger.SInfo("HttpServer.Start",
		zap.String("name", s.name),
		zap.String("address", s.address))
	if s.tls.IsEnabled() && s.tls.Cert != "" {
		return s.app.ListenTLS(s.address, s.tls.Cert, s.tls.Key)
	}
	return s.app.Listen(s.address)
}

func (s *HttpServer) Stop(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// CommonPublicMiddlewares returns panic recovery plus basic auth when credentials are configured.
func CommonPublicMiddlewares(c *configs.HttpConfigs) []interface{} {
	middlewares := []interface{}{
		recover.New(),
	}
	if c.Auth.Enabled() {
		middlewares = append(middlewares, basicauth.New(basicauth.Config{
			Users: map[string]string{
				c.Auth.Username: c.Auth.Token,
			},
		}))
	}
	return middlewares
}

type errorResponse struct {
	Code    uint32 `json:"code"`
	Message string `json:"message"`
}

// GlobalErrorHandler maps custerror codes to HTTP statuses.
func GlobalErrorHandler() fiber.ErrorHandler {
	return func(ctx *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return ctx.Status(fiberErr.Code).JSON(errorResponse{
				Code:    custerror.CodeInternal,
				Message: fiberErr.Message,
			})
		}

		code := custerror.CodeOf(err)
		status := StatusOf(code)
		if status >= fiber.StatusInternalServerError {
			logger.SError("http request failed",
				zap.String("path", ctx.Path()),
				zap.Error(err))
		} else {
			logger.SDebug("http request rejected",
				zap.String("path", ctx.Path()),
				zap.Error(err))
		}
		return ctx.Status(status).JSON(errorResponse{
			Code:    code,
			Message: err.Error(),
		})
	}
}

func StatusOf(code uint32) int {
	switch code {
	case custerror.CodeNotFound:
		return fiber.StatusNotFound
	case custerror.CodeInvalidArgument:
		return fiber.StatusBadRequest
	case custerror.CodeAlreadyExists:
		return fiber.StatusConflict
	case custerror.CodeUnavailable:
		return fiber.StatusServiceUnavailable
	case custerror.CodeResourceExhausted:
		return fiber.StatusTooManyRequests
	case custerror.CodeFailedPrecondition:
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}
