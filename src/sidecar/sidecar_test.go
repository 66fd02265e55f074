package sidecar

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"

	"github.com/opensentry/command/src/internal/configs"
	custerror "github.com/opensentry/command/src/internal/error"
	custhttp "github.com/opensentry/command/src/internal/http"
	"github.com/opensentry/command/src/models/rest"
	"github.com/opensentry/command/src/registry"
	"github.com/opensentry/command/src/service"
	"github.com/opensentry/command/src/stream"
)

var jpeg = []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD9}

type fakeSource struct {
	closed chan struct{}
	once   sync.Once
}

func (s *fakeSource) Next(timeout time.Duration) ([]byte, error) {
	select {
	case <-s.closed:
		return nil, custerror.FormatUnavailable("closed")
	case <-time.After(time.Millisecond):
		return append([]byte(nil), jpeg...), nil
	}
}

func (s *fakeSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeDialer struct{}

func (fakeDialer) Dial(ctx context.Context, cameraId string, conn registry.Connection) (stream.Source, error) {
	return &fakeSource{closed: make(chan struct{})}, nil
}

type fakeEncoder struct{}

func (fakeEncoder) WriteFrame(frame []byte) error { return nil }

func (fakeEncoder) Finish() ([]byte, error) { return []byte("mp4-bytes"), nil }

type fakeCommander struct{}

func (fakeCommander) SendCommand(ctx context.Context, cameraId string, command string) error {
	return nil
}

func newApp(t *testing.T, auth configs.BasicAuthConfigs) (*fiber.App, *registry.Registry) {
	t.Helper()
	r := registry.New()
	streams := stream.NewSupervisor(r, fakeDialer{},
		stream.WithConfig(stream.Config{ReadTimeout: 50 * time.Millisecond}),
		stream.WithEncoders(func(string) (stream.Encoder, error) { return fakeEncoder{}, nil }))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		streams.Shutdown(ctx)
	})

	httpConfigs := &configs.HttpConfigs{Name: "test", Auth: auth}
	server := custhttp.New(
		custhttp.WithGlobalConfigs(httpConfigs),
		custhttp.WithErrorHandler(custhttp.GlobalErrorHandler()),
		custhttp.WithRegistration(NewHttpSidecar(service.NewFleetService(r, streams, fakeCommander{})).Registration()),
		custhttp.WithMiddleware(custhttp.CommonPublicMiddlewares(httpConfigs)...),
	)
	return server.App(), r
}

func do(t *testing.T, app *fiber.App, method string, path string, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, 2000)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		t.Fatalf("decode %s: %s", data, err)
	}
}

func waitStreaming(t *testing.T, r *registry.Registry, cameraId string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if record, _ := r.Get(cameraId); record.Status == registry.StatusStreaming {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("camera never started streaming")
}

func TestHealthAndList(t *testing.T) {
	app, r := newApp(t, configs.BasicAuthConfigs{})
	name := "Porch"
	r.Upsert("cam2", registry.Patch{})
	r.Upsert("cam1", registry.Patch{Name: &name, Connection: &registry.Connection{
		Host: "10.0.0.1", Port: 8554, Path: "cam1", Username: "u", Password: "secret",
	}})

	var health rest.HealthResponse
	decode(t, do(t, app, http.MethodGet, "/api/health", ""), &health)
	if health.Status != "ok" || health.Cameras != 2 {
		t.Errorf("unexpected health %+v", health)
	}

	resp := do(t, app, http.MethodGet, "/api/cameras", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(data), "secret") {
		t.Error("expected credentials to stay out of responses")
	}
	var list rest.ListCamerasResponse
	if err := sonic.Unmarshal(data, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Cameras) != 2 || list.Cameras[0].CameraId != "cam1" || list.Cameras[0].Name != "Porch" {
		t.Errorf("unexpected list %+v", list)
	}
}

func TestCameraNotFound(t *testing.T) {
	app, _ := newApp(t, configs.BasicAuthConfigs{})
	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/cameras/ghost"},
		{http.MethodDelete, "/api/cameras/ghost"},
		{http.MethodGet, "/api/cameras/ghost/frame"},
		{http.MethodGet, "/api/recordings/nope"},
	} {
		resp := do(t, app, tc.method, tc.path, "")
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s %s: expected 404, got %d", tc.method, tc.path, resp.StatusCode)
		}
	}
}

func TestCommandValidation(t *testing.T) {
	app, r := newApp(t, configs.BasicAuthConfigs{})
	r.Upsert("cam1", registry.Patch{})

	if resp := do(t, app, http.MethodPost, "/api/cameras/cam1/command", `{"command":"dance"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	if resp := do(t, app, http.MethodPost, "/api/cameras/cam1/command", `not json`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	if resp := do(t, app, http.MethodGet, "/api/cameras/cam1/frame", ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before streaming, got %d", resp.StatusCode)
	}
}

func TestStreamFrameAndRecording(t *testing.T) {
	app, r := newApp(t, configs.BasicAuthConfigs{})
	r.Upsert("cam1", registry.Patch{})

	if resp := do(t, app, http.MethodPost, "/api/cameras/cam1/command", `{"command":"start"}`); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	waitStreaming(t, r, "cam1")

	resp := do(t, app, http.MethodGet, "/api/cameras/cam1/frame", "")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/jpeg" {
		t.Fatalf("unexpected frame response %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if data, _ := io.ReadAll(resp.Body); string(data) != string(jpeg) {
		t.Errorf("unexpected frame bytes %v", data)
	}

	resp = do(t, app, http.MethodGet, "/api/cameras/cam1/snapshot", "")
	if !strings.HasPrefix(resp.Header.Get("Content-Disposition"), `attachment; filename="snapshot_cam1_`) {
		t.Errorf("unexpected disposition %q", resp.Header.Get("Content-Disposition"))
	}

	resp = do(t, app, http.MethodPost, "/api/cameras/cam1/recording/start", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var started rest.RecordingStateResponse
	decode(t, resp, &started)

	var status rest.RecordingStatusResponse
	decode(t, do(t, app, http.MethodGet, "/api/cameras/cam1/recording", ""), &status)
	if status.Recording == nil || status.Recording.Id != started.Id {
		t.Errorf("unexpected recording status %+v", status)
	}

	if resp := do(t, app, http.MethodPost, "/api/cameras/cam1/recording/start", ""); resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for a second recording, got %d", resp.StatusCode)
	}

	var finished rest.RecordingResponse
	decode(t, do(t, app, http.MethodPost, "/api/cameras/cam1/recording/stop", ""), &finished)
	if finished.Id != started.Id || finished.Bytes != len("mp4-bytes") {
		t.Errorf("unexpected recording %+v", finished)
	}

	resp = do(t, app, http.MethodGet, "/api/recordings/"+started.Id, "")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "video/mp4" {
		t.Errorf("unexpected recording download %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	if resp := do(t, app, http.MethodDelete, "/api/cameras/cam1", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}
	if resp := do(t, app, http.MethodGet, "/api/cameras/cam1", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after forget, got %d", resp.StatusCode)
	}
}

func TestBasicAuth(t *testing.T) {
	app, _ := newApp(t, configs.BasicAuthConfigs{Username: "admin", Token: "hunter2"})

	if resp := do(t, app, http.MethodGet, "/api/health", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.SetBasicAuth("admin", "hunter2")
	resp, err := app.Test(req, 2000)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}
