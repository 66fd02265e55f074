package custdb

import (
	"context"

	_ "github.com/glebarez/go-sqlite"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/opensentry/command/src/internal/configs"
	custerror "github.com/opensentry/command/src/internal/error"
	"github.com/opensentry/command/src/internal/logger"
)

type Options struct {
	globalConfigs *configs.SnapshotConfigs
}

type Optioner func(o *Options)

func WithGlobalConfigs(c *configs.SnapshotConfigs) Optioner {
	return func(o *Options) {
		o.globalConfigs = c
	}
}

// New opens the pure Go SQLite database at the configured path.
func New(ctx context.Context, options ...Optioner) (*sqlx.DB, error) {
	opts := &Options{}
	for _, o := range options {
		o(opts)
	}
	if opts.globalConfigs == nil || opts.globalConfigs.Path == "" {
		return nil, custerror.FormatInvalidArgument("custdb.New: missing database path")
	}

	db, err := sqlx.ConnectContext(ctx, "sqlite", opts.globalConfigs.Path)
	if err != nil {
		return nil, custerror.FormatUnavailable("custdb.New: err = %s", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	logger.SInfo("sqlite database opened",
		zap.String("path", opts.globalConfigs.Path))
	return db, nil
}

// Migrate runs each statement in order inside one transaction.
func Migrate(ctx context.Context, db *sqlx.DB, statements ...string) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return custerror.FormatInternalError("custdb.Migrate: begin err = %s", err)
	}
	for _, s := range statements {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			tx.Rollback()
			return custerror.FormatInternalError("custdb.Migrate: err = %s", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return custerror.FormatInternalError("custdb.Migrate: commit err = %s", err)
	}
	return nil
}

func Stop(ctx context.Context, db *sqlx.DB) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		logger.SError("custdb.Stop: close err", zap.Error(err))
	}
}
