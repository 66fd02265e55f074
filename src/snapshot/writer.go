package snapshot

import (
	"context"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-co-op/gocron"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	custcron "github.com/opensentry/command/src/internal/cron"
	custdb "github.com/opensentry/command/src/internal/db"
	custerror "github.com/opensentry/command/src/internal/error"
	"github.com/opensentry/command/src/internal/logger"
	"github.com/opensentry/command/src/models/db"
	"github.com/opensentry/command/src/registry"
)

// Writer exports the registry into the cameras table for offline inspection.
// Each write replaces the whole table.
type Writer struct {
	db        *sqlx.DB
	registry  *registry.Registry
	interval  time.Duration
	scheduler *gocron.Scheduler
}

func NewWriter(conn *sqlx.DB, r *registry.Registry, interval time.Duration) *Writer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Writer{
		db:       conn,
		registry: r,
		interval: interval,
	}
}

func (w *Writer) Init(ctx context.Context) error {
	return custdb.Migrate(ctx, w.db, db.CameraSchema)
}

func (w *Writer) Write(ctx context.Context) (int, error) {
	records := w.registry.List()

	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, custerror.FormatInternalError("snapshot.Write: begin err = %s", err)
	}
	defer tx.Rollback()

	query, args, err := sq.Delete(db.Camera{}.TableName()).ToSql()
	if err != nil {
		return 0, custerror.FormatInternalError("snapshot.Write: build delete err = %s", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return 0, custerror.FormatInternalError("snapshot.Write: delete err = %s", err)
	}

	if len(records) > 0 {
		insert := sq.Insert(db.Camera{}.TableName()).Columns(db.Camera{}.Fields()...)
		for _, r := range records {
			insert = insert.Values(FromRecord(r).Values()...)
		}
		query, args, err := insert.ToSql()
		if err != nil {
			return 0, custerror.FormatInternalError("snapshot.Write: build insert err = %s", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, custerror.FormatInternalError("snapshot.Write: insert err = %s", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, custerror.FormatInternalError("snapshot.Write: commit err = %s", err)
	}
	return len(records), nil
}

func (w *Writer) Load(ctx context.Context) ([]db.Camera, error) {
	query, args, err := sq.Select(db.Camera{}.Fields()...).
		From(db.Camera{}.TableName()).
		OrderBy("camera_id").
		ToSql()
	if err != nil {
		return nil, custerror.FormatInternalError("snapshot.Load: build err = %s", err)
	}
	var cameras []db.Camera
	if err := w.db.SelectContext(ctx, &cameras, query, args...); err != nil {
		return nil, custerror.FormatInternalError("snapshot.Load: err = %s", err)
	}
	return cameras, nil
}

func (w *Writer) Start() error {
	w.scheduler = custcron.New()
	if err := custcron.Every(w.scheduler, w.interval, "registry-snapshot", func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.interval)
		defer cancel()
		n, err := w.Write(ctx)
		if err != nil {
			logger.SError("registry snapshot failed", zap.Error(err))
			return
		}
		logger.SDebug("registry snapshot written", zap.Int("cameras", n))
	}); err != nil {
		return err
	}
	w.scheduler.StartAsync()
	return nil
}

func (w *Writer) Stop() {
	if w.scheduler != nil {
		w.scheduler.Stop()
	}
}

func FromRecord(r registry.CameraRecord) db.Camera {
	capabilities := make([]string, 0, len(r.Capabilities))
	for _, c := range r.Capabilities {
		capabilities = append(capabilities, string(c))
	}
	row := db.Camera{
		CameraId:     r.CameraId,
		Name:         r.Name,
		NodeType:     string(r.NodeType),
		Status:       string(r.Status),
		Capabilities: strings.Join(capabilities, ","),
		Scheme:       r.Connection.Scheme,
		Host:         r.Connection.Host,
		Port:         r.Connection.Port,
		Path:         r.Connection.Path,
		Source:       string(r.Source),
		LastSeen:     r.LastSeen.UnixMilli(),
	}
	if r.Recording != nil {
		row.RecordingId = r.Recording.Id
	}
	return row
}
