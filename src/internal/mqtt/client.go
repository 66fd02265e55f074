package custmqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/opensentry/command/src/internal/configs"
	custerror "github.com/opensentry/command/src/internal/error"
	"github.com/opensentry/command/src/internal/logger"
	"go.uber.org/zap"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// NewClient builds a connection manager that keeps reconnecting in the background.
// It does not wait for the first connection; subscriptions belong in WithOnReconnection.
func NewClient(ctx context.Context, options ...ClientOptioner) (*autopaho.ConnectionManager, error) {
	opts := &ClientOptions{}
	for _, opt := range options {
		opt(opts)
	}

	globalConfigs := opts.globalConfigs
	if globalConfigs == nil {
		return nil, custerror.FormatInvalidArgument("custmqtt.NewClient: missing configs")
	}

	router := paho.NewStandardRouter()
	if opts.register != nil {
		opts.register(router)
	}

	clientConfigs := autopaho.ClientConfig{
		KeepAlive:         20,
		ConnectRetryDelay: globalConfigs.ConnectRetryDelay,
		ConnectTimeout:    time.Second * 5,
		BrokerUrls: []*url.URL{
			brokerUrl(globalConfigs),
		},
		ClientConfig: paho.ClientConfig{
			ClientID: globalConfigs.Name,
			Router:   router,
		},
	}
	if clientConfigs.ConnectRetryDelay <= 0 {
		clientConfigs.ConnectRetryDelay = time.Second * 5
	}

	if globalConfigs.TlsEnabled {
		clientConfigs.TlsCfg = makeTlsConfigs(globalConfigs)
	}

	if globalConfigs.HasAuth() {
		clientConfigs.SetUsernamePassword(globalConfigs.Username, []byte(globalConfigs.Password))
	}

	backoff := newReconnectBackoff(clientConfigs.ConnectRetryDelay, globalConfigs.ConnectRetryMaxDelay)
	clientConfigs.OnConnectionUp = func(cm *autopaho.ConnectionManager, connack *paho.Connack) {
		backoff.reset()
		if opts.reconCallback != nil {
			opts.reconCallback(cm, connack)
		}
	}

	// autopaho waits a fixed ConnectRetryDelay after this callback returns,
	// so holding the callback stretches each retry into an exponential backoff.
	clientConfigs.OnConnectError = func(err error) {
		if opts.connErrCallback != nil {
			opts.connErrCallback(err)
		}
		extra := backoff.failed()
		if extra <= 0 {
			return
		}
		logger.SDebug("MQTT reconnect backing off",
			zap.Duration("delay", extra+clientConfigs.ConnectRetryDelay))
		timer := time.NewTimer(extra)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}

	if opts.clientErr != nil {
		clientConfigs.ClientConfig.OnClientError = opts.clientErr
	}

	if opts.serverDisconnect != nil {
		clientConfigs.ClientConfig.OnServerDisconnect = opts.serverDisconnect
	}

	connManager, err := autopaho.NewConnection(ctx, clientConfigs)
	if err != nil {
		logger.SError("MQTT connection failed",
			zap.Error(err))
		return nil, custerror.FormatUnavailable("custmqtt.NewClient: err = %s", err)
	}

	logger.SInfo("MQTT connection manager started",
		zap.String("broker", clientConfigs.BrokerUrls[0].String()),
		zap.String("clientId", globalConfigs.Name))
	return connManager, nil
}

func brokerUrl(globalConfigs *configs.EventStoreConfigs) *url.URL {
	connUrl := url.URL{}
	if globalConfigs.TlsEnabled {
		connUrl.Scheme = "tls"
	} else {
		connUrl.Scheme = "mqtt"
	}
	hostname := globalConfigs.Host

	if globalConfigs.Port > 0 {
		hostname = fmt.Sprintf("%s:%d", globalConfigs.Host, globalConfigs.Port)
	}
	connUrl.Host = hostname
	return &connUrl
}

// Devices on the LAN present self-signed certificates.
func makeTlsConfigs(globalConfigs *configs.EventStoreConfigs) *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
	}
}

type ClientOptions struct {
	globalConfigs    *configs.EventStoreConfigs
	reconCallback    func(cm *autopaho.ConnectionManager, connack *paho.Connack)
	connErrCallback  func(err error)
	serverDisconnect func(d *paho.Disconnect)
	clientErr        func(err error)
	register         RouterRegister
}

type ClientOptioner func(options *ClientOptions)

type RouterRegister func(router *paho.StandardRouter)

func WithClientGlobalConfigs(configs *configs.EventStoreConfigs) ClientOptioner {
	return func(options *ClientOptions) {
		options.globalConfigs = configs
	}
}

func WithOnReconnection(cb func(cm *autopaho.ConnectionManager, connack *paho.Connack)) ClientOptioner {
	return func(options *ClientOptions) {
		options.reconCallback = cb
	}
}

func WithOnConnectError(cb func(err error)) ClientOptioner {
	return func(options *ClientOptions) {
		options.connErrCallback = cb
	}
}

func WithOnServerDisconnect(cb func(d *paho.Disconnect)) ClientOptioner {
	return func(options *ClientOptions) {
		options.serverDisconnect = cb
	}
}

func WithClientError(cb func(err error)) ClientOptioner {
	return func(options *ClientOptions) {
		options.clientErr = cb
	}
}

func WithHandlerRegister(cb RouterRegister) ClientOptioner {
	return func(options *ClientOptions) {
		options.register = cb
	}
}

// reconnectBackoff doubles the delay between failed connects from base up to max.
type reconnectBackoff struct {
	base time.Duration
	max  time.Duration

	mu       sync.Mutex
	failures int
}

func newReconnectBackoff(base time.Duration, max time.Duration) *reconnectBackoff {
	if max < base {
		max = base
	}
	return &reconnectBackoff{base: base, max: max}
}

// failed records a failure and returns the delay to add to the fixed base.
func (b *reconnectBackoff) failed() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	delay := b.base
	for i := 0; i < b.failures && delay < b.max; i++ {
		delay *= 2
	}
	if delay > b.max {
		delay = b.max
	}
	b.failures++
	return delay - b.base
}

func (b *reconnectBackoff) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}
