package service

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/opensentry/command/src/control"
	"github.com/opensentry/command/src/correlator"
	"github.com/opensentry/command/src/discovery"
	custerror "github.com/opensentry/command/src/internal/error"
	custmdns "github.com/opensentry/command/src/internal/mdns"
	"github.com/opensentry/command/src/registry"
	"github.com/opensentry/command/src/stream"
)

type fakeSource struct {
	closed chan struct{}
	once   sync.Once
}

func (s *fakeSource) Next(timeout time.Duration) ([]byte, error) {
	select {
	case <-s.closed:
		return nil, custerror.FormatUnavailable("closed")
	case <-time.After(time.Millisecond):
		return []byte{0xFF, 0xD8, 0xFF, 0xD9}, nil
	}
}

func (s *fakeSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeDialer struct {
	mu   sync.Mutex
	urls []string
}

func (d *fakeDialer) Dial(ctx context.Context, cameraId string, conn registry.Connection) (stream.Source, error) {
	d.mu.Lock()
	d.urls = append(d.urls, conn.URL())
	d.mu.Unlock()
	return &fakeSource{closed: make(chan struct{})}, nil
}

type fakeCommander struct {
	sent []string
}

func (c *fakeCommander) SendCommand(ctx context.Context, cameraId string, command string) error {
	c.sent = append(c.sent, cameraId+":"+command)
	return nil
}

type fixture struct {
	registry  *registry.Registry
	streams   *stream.Supervisor
	channel   *control.Channel
	listener  *discovery.Listener
	commander *fakeCommander
	dialer    *fakeDialer
	fleet     *FleetService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	r := registry.New()
	dialer := &fakeDialer{}
	streams := stream.NewSupervisor(r, dialer, stream.WithConfig(stream.Config{
		MaxFailures: 3,
		BackoffBase: time.Millisecond,
		BackoffMax:  time.Millisecond,
		ReadTimeout: 50 * time.Millisecond,
	}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		streams.Shutdown(ctx)
	})
	commander := &fakeCommander{}
	return &fixture{
		registry:  r,
		streams:   streams,
		channel:   control.New(r, correlator.New(r), control.WithHalter(streams)),
		listener:  discovery.NewListener(r, nil, registry.Credentials{}),
		commander: commander,
		dialer:    dialer,
		fleet:     NewFleetService(r, streams, commander),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDiscoveryToStreaming(t *testing.T) {
	f := newFixture(t)

	err := f.listener.Handle(custmdns.Announcement{
		Kind:     custmdns.Added,
		HostName: "cam1.local",
		Addrs:    []net.IP{net.ParseIP("10.0.0.12")},
		Text: map[string]string{
			"camera_id":    "cam1",
			"video_port":   "8554",
			"capabilities": "streaming",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	record, _ := f.fleet.GetCamera("cam1")
	if record.Status != registry.StatusDiscovered {
		t.Fatalf("expected discovered, got %s", record.Status)
	}

	err = f.channel.HandlePublish(&paho.Publish{
		Topic:   "opensentry/cam1/status",
		Payload: []byte(`{"camera_id":"cam1","online":true}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	record, _ = f.fleet.GetCamera("cam1")
	if record.Status != registry.StatusOnline {
		t.Fatalf("expected online, got %s", record.Status)
	}

	if err := f.fleet.SendCommand(context.Background(), "cam1", control.CommandStart); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "streaming", func() bool {
		record, _ := f.fleet.GetCamera("cam1")
		return record.Status == registry.StatusStreaming
	})
	if len(f.commander.sent) != 1 || f.commander.sent[0] != "cam1:start" {
		t.Errorf("expected start to be published, got %v", f.commander.sent)
	}
	f.dialer.mu.Lock()
	url := f.dialer.urls[0]
	f.dialer.mu.Unlock()
	if url != "rtsp://10.0.0.12:8554/cam1" {
		t.Errorf("unexpected dial url %s", url)
	}

	frame, err := f.fleet.GetCurrentFrame("cam1")
	if err != nil || len(frame.Data) == 0 {
		t.Errorf("expected a frame, got %v", err)
	}

	if err := f.fleet.SendCommand(context.Background(), "cam1", control.CommandStop); err != nil {
		t.Fatal(err)
	}
	record, _ = f.fleet.GetCamera("cam1")
	if record.Status != registry.StatusIdle {
		t.Errorf("expected idle after stop, got %s", record.Status)
	}
}

func TestForgetRemovesCameraAndSession(t *testing.T) {
	f := newFixture(t)
	f.registry.Upsert("cam1", registry.Patch{})
	if err := f.fleet.SendCommand(context.Background(), "cam1", control.CommandStart); err != nil {
		t.Fatal(err)
	}

	if err := f.fleet.Forget("cam1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.fleet.GetCamera("cam1"); !errors.Is(err, custerror.ErrorNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if len(f.streams.Sessions()) != 0 || f.streams.Armed("cam1") {
		t.Error("expected session to be torn down")
	}
	if err := f.fleet.Forget("cam1"); !errors.Is(err, custerror.ErrorNotFound) {
		t.Errorf("expected not found on second forget, got %v", err)
	}
	if err := f.fleet.SendCommand(context.Background(), "cam1", control.CommandStart); !errors.Is(err, custerror.ErrorNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestSendCommandValidation(t *testing.T) {
	f := newFixture(t)
	f.registry.Upsert("cam1", registry.Patch{})
	if err := f.fleet.SendCommand(context.Background(), "cam1", "explode"); !errors.Is(err, custerror.ErrorInvalidArgument) {
		t.Errorf("expected invalid argument, got %v", err)
	}
	if len(f.commander.sent) != 0 {
		t.Errorf("expected nothing published, got %v", f.commander.sent)
	}
}

func TestFrameWithoutStream(t *testing.T) {
	f := newFixture(t)
	f.registry.Upsert("cam1", registry.Patch{})

	if _, err := f.fleet.GetCurrentFrame("cam1"); !errors.Is(err, custerror.ErrorUnavailable) {
		t.Errorf("expected unavailable, got %v", err)
	}
	if _, err := f.fleet.Snapshot("ghost"); !errors.Is(err, custerror.ErrorNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := f.fleet.StartRecording("cam1"); !errors.Is(err, custerror.ErrorFailedPrecondition) {
		t.Errorf("expected failed precondition, got %v", err)
	}
	status, err := f.fleet.RecordingStatus("cam1")
	if err != nil || status != nil {
		t.Errorf("expected no recording, got %+v, %v", status, err)
	}
	if _, err := f.fleet.GetRecording("nope"); !errors.Is(err, custerror.ErrorNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestShutdownCommandHaltsSession(t *testing.T) {
	f := newFixture(t)
	f.registry.Upsert("cam1", registry.Patch{})
	f.fleet.SendCommand(context.Background(), "cam1", control.CommandStart)
	waitFor(t, "streaming", func() bool {
		record, _ := f.fleet.GetCamera("cam1")
		return record.Status == registry.StatusStreaming
	})
	if err := f.fleet.SendCommand(context.Background(), "cam1", control.CommandShutdown); err != nil {
		t.Fatal(err)
	}
	if len(f.streams.Sessions()) != 0 {
		t.Error("expected no sessions after shutdown")
	}
	if !f.streams.Armed("cam1") {
		t.Error("expected camera to stay armed for its return")
	}
	record, _ := f.fleet.GetCamera("cam1")
	if record.Status != registry.StatusOffline {
		t.Fatalf("expected offline after shutdown, got %s", record.Status)
	}

	// a heartbeat brings the camera back without claiming a stream
	err := f.channel.HandlePublish(&paho.Publish{
		Topic:   "opensentry/cam1/status",
		Payload: []byte(`{"status":"online"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	record, _ = f.fleet.GetCamera("cam1")
	if record.Status != registry.StatusOnline {
		t.Errorf("expected online after heartbeat, got %s", record.Status)
	}
}
