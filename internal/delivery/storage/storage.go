package storage

import (
	"log/slog"

	"github.com/Steliosgeox/kktires-crm-sub002/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

// errDetailLimit bounds error text stored on job and recipient rows.
const errDetailLimit = 500

// Storage handles all database operations for the delivery engine.
// Every mutation is a narrow, status-gated statement so that re-running
// any step after a crash converges instead of duplicating work.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a Storage instance.
func NewStorage(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// NewStorageWithDB creates a Storage over an existing handle. Used by
// tests that inject a mock connection.
func NewStorageWithDB(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{db: db, logger: logger}
}
