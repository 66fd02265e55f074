package custmqtt

import (
	"context"
	"testing"
	"time"

	"github.com/opensentry/command/src/internal/configs"
)

func TestBrokerUrl(t *testing.T) {
	cases := []struct {
		name     string
		configs  configs.EventStoreConfigs
		expected string
	}{
		{"plain", configs.EventStoreConfigs{Host: "localhost", Port: 1883}, "mqtt://localhost:1883"},
		{"tls", configs.EventStoreConfigs{Host: "broker.lan", Port: 8883, TlsEnabled: true}, "tls://broker.lan:8883"},
		{"no port", configs.EventStoreConfigs{Host: "broker.lan"}, "mqtt://broker.lan"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := brokerUrl(&c.configs).String(); got != c.expected {
				t.Errorf("expected %s, got %s", c.expected, got)
			}
		})
	}
}

func TestNewClientRequiresConfigs(t *testing.T) {
	if _, err := NewClient(context.Background()); err == nil {
		t.Error("expected error without configs")
	}
}

func TestReconnectBackoffGrowsAndResets(t *testing.T) {
	backoff := newReconnectBackoff(5*time.Second, 40*time.Second)
	expected := []time.Duration{0, 5 * time.Second, 15 * time.Second, 35 * time.Second, 35 * time.Second}
	for i, want := range expected {
		if got := backoff.failed(); got != want {
			t.Fatalf("attempt %d: expected extra delay %v, got %v", i, want, got)
		}
	}
	backoff.reset()
	if got := backoff.failed(); got != 0 {
		t.Fatalf("expected no extra delay after reset, got %v", got)
	}
}

func TestReconnectBackoffMaxBelowBase(t *testing.T) {
	backoff := newReconnectBackoff(10*time.Second, time.Second)
	for i := 0; i < 3; i++ {
		if got := backoff.failed(); got != 0 {
			t.Fatalf("attempt %d: expected no extra delay, got %v", i, got)
		}
	}
}
