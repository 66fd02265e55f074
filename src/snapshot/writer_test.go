package snapshot

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/opensentry/command/src/internal/configs"
	custdb "github.com/opensentry/command/src/internal/db"
	"github.com/opensentry/command/src/registry"
)

func newWriter(t *testing.T, r *registry.Registry) *Writer {
	t.Helper()
	ctx := context.Background()
	conn, err := custdb.New(ctx, custdb.WithGlobalConfigs(&configs.SnapshotConfigs{
		Path: filepath.Join(t.TempDir(), "snapshot.db"),
	}))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { custdb.Stop(ctx, conn) })

	w := NewWriter(conn, r, 0)
	if err := w.Init(ctx); err != nil {
		t.Fatal(err)
	}
	return w
}

func TestWriteReplacesTable(t *testing.T) {
	ctx := context.Background()
	r := registry.New()
	w := newWriter(t, r)

	r.Upsert("cam1", registry.Patch{
		Capabilities: []registry.Capability{registry.CapabilityStreaming, registry.CapabilityMotionDetection},
		Connection:   &registry.Connection{Scheme: "rtsp", Host: "10.0.0.2", Port: 8554, Path: "cam1"},
	})
	r.Upsert("cam2", registry.Patch{})
	r.SetRecording("cam2", &registry.RecordingState{Id: "rec-1"})

	n, err := w.Write(ctx)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 rows, got %d, %v", n, err)
	}
	rows, err := w.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %+v", rows)
	}
	if rows[0].CameraId != "cam1" || rows[0].Capabilities != "streaming,motion_detection" || rows[0].Port != 8554 {
		t.Errorf("unexpected row %+v", rows[0])
	}
	if rows[1].RecordingId != "rec-1" || rows[1].Status != "discovered" {
		t.Errorf("unexpected row %+v", rows[1])
	}

	r.Remove("cam1")
	if _, err := w.Write(ctx); err != nil {
		t.Fatal(err)
	}
	rows, _ = w.Load(ctx)
	if len(rows) != 1 || rows[0].CameraId != "cam2" {
		t.Errorf("expected only cam2 after forget, got %+v", rows)
	}
}

func TestWriteEmptyRegistry(t *testing.T) {
	w := newWriter(t, registry.New())
	n, err := w.Write(context.Background())
	if err != nil || n != 0 {
		t.Errorf("expected empty write, got %d, %v", n, err)
	}
}
