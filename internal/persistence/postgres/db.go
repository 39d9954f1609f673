package postgres

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/radarlab/radar/internal/apperr"
	"github.com/radarlab/radar/internal/config"
	"github.com/radarlab/radar/internal/persistence"
)

// Connect opens the connection pool and verifies connectivity.
func Connect(cfg config.StorageConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, apperr.New(apperr.KindTransientIO, fmt.Errorf("failed to connect to postgres: %w", err))
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	return db, nil
}

// NewRepository wires all PostgreSQL repositories over one pool.
func NewRepository(db *sqlx.DB, cfg config.StorageConfig) *persistence.Repository {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	return &persistence.Repository{
		News:    NewNewsRepo(db, timeout),
		Sources: NewSourceRepo(db, timeout),
		Issuers: NewIssuerRepo(db, timeout),
		Aliases: NewAliasRepo(db, timeout),
		Events:  NewEventRepo(db, timeout),
		Outbox:  NewOutboxRepo(db, timeout),
	}
}
