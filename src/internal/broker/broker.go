package custbroker

import (
	"context"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"go.uber.org/zap"

	"github.com/opensentry/command/src/internal/configs"
	custerror "github.com/opensentry/command/src/internal/error"
	"github.com/opensentry/command/src/internal/logger"
)

// Broker is an in-process MQTT broker for deployments without one on the LAN.
type Broker struct {
	server  *mqtt.Server
	address string
}

func New(c *configs.BrokerConfigs) (*Broker, error) {
	server := mqtt.New(nil)
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, custerror.FormatInternalError("custbroker.New: add hook err = %s", err)
	}
	tcp := listeners.NewTCP("opensentry-tcp", c.Address, nil)
	if err := server.AddListener(tcp); err != nil {
		return nil, custerror.FormatInternalError("custbroker.New: add listener err = %s", err)
	}
	return &Broker{
		server:  server,
		address: c.Address,
	}, nil
}

func (b *Broker) Name() string {
	return "mqtt-broker"
}

func (b *Broker) Start() error {
	logger.SInfo("embedded MQTT broker starting",
		zap.String("address", b.address))
	return b.server.Serve()
}

func (b *Broker) Stop(ctx context.Context) error {
	return b.server.Close()
}
