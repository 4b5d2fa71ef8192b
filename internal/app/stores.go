// Package app assembles the process from configuration: stores for the
// selected driver, services, transports and the background loops that the
// server and maintenance CLI run.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	adminstore "regdesk/internal/admin/store"
	"regdesk/internal/moderation"
	"regdesk/internal/outbox"
	outboxstore "regdesk/internal/outbox/store"
	"regdesk/internal/platform/config"
	"regdesk/internal/platform/database"
	regmodels "regdesk/internal/registration/models"
	regstore "regdesk/internal/registration/store"
	"regdesk/pkg/domain"
	"regdesk/pkg/platform/tx"
)

// RegistrationStore is everything the process does with registrations and
// events, across the moderation service, the dialogue and maintenance.
type RegistrationStore interface {
	moderation.RegistrationStore
	ListByPrincipal(ctx context.Context, principal domain.PrincipalID) ([]*regmodels.Registration, error)
	Purge(ctx context.Context, f regmodels.PurgeFilter) (int, error)
	CreateEvent(ctx context.Context, ev *regmodels.Event) error
	ListEvents(ctx context.Context, activeOnly bool) ([]*regmodels.Event, error)
	ActiveFutureEvents(ctx context.Context, from time.Time) ([]*regmodels.Event, error)
	SetEventActive(ctx context.Context, id domain.EventID, active bool, at time.Time) error
}

// Stores groups the record stores for one configured driver.
type Stores struct {
	Registrations RegistrationStore
	Admins        moderation.AdminStore
	Outbox        outbox.Store
	Tx            tx.Runner

	// DB is nil for the memory driver.
	DB *sqlx.DB
}

// OpenStores connects to the configured database, migrating it when asked.
func OpenStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Stores, error) {
	if cfg.Database.Driver == config.DriverMemory {
		log.Warn("using in-memory stores; data is lost on restart")
		return &Stores{
			Registrations: regstore.NewInMemory(),
			Admins:        adminstore.NewInMemory(),
			Outbox:        outboxstore.NewInMemory(),
			Tx:            tx.Passthrough,
		}, nil
	}

	db, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db, log); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return &Stores{
		Registrations: regstore.NewSQL(db),
		Admins:        adminstore.NewSQL(db),
		Outbox:        outboxstore.NewSQL(db),
		Tx:            database.NewTxRunner(db, cfg.Database.TxTimeout),
		DB:            db,
	}, nil
}

// Ping reports database reachability. The memory driver is always up.
func (s *Stores) Ping(ctx context.Context) error {
	if s.DB == nil {
		return nil
	}
	return s.DB.PingContext(ctx)
}

func (s *Stores) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}
