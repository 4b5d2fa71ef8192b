package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"regdesk/internal/platform/database"
	"regdesk/internal/registration/models"
	"regdesk/pkg/domain"
	"regdesk/pkg/platform/sentinel"
)

const registrationColumns = `id, principal_id, username, full_name, weapon_type, category, age_group,
	phone, experience, event_id, status, admin_comment, created_at, updated_at`

const eventColumns = `id, name, event_date, description, is_active, created_at, updated_at`

// SQL persists registrations and events through sqlx. It joins the
// transaction carried in ctx when there is one.
type SQL struct {
	db *sqlx.DB
}

func NewSQL(db *sqlx.DB) *SQL {
	return &SQL{db: db}
}

func (s *SQL) q(ctx context.Context) sqlx.ExtContext {
	return database.Execer(ctx, s.db)
}

func (s *SQL) Create(ctx context.Context, reg *models.Registration) error {
	query := s.db.Rebind(`INSERT INTO registrations
		(principal_id, username, full_name, weapon_type, category, age_group, phone, experience,
		 event_id, status, admin_comment, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)
	var eventID sql.NullInt64
	if reg.EventID != nil {
		eventID = sql.NullInt64{Int64: int64(*reg.EventID), Valid: true}
	}
	row := s.q(ctx).QueryRowxContext(ctx, query,
		int64(reg.PrincipalID), reg.Username, reg.FullName, reg.WeaponType, reg.Category, reg.AgeGroup,
		reg.Phone, reg.Experience, eventID, string(reg.Status), reg.AdminComment,
		dbTime(reg.CreatedAt), dbTime(reg.UpdatedAt))
	var id int64
	if err := row.Scan(&id); err != nil {
		return fmt.Errorf("insert registration: %w", err)
	}
	reg.ID = domain.RegistrationID(id)
	return nil
}

func (s *SQL) FindByID(ctx context.Context, id domain.RegistrationID) (*models.Registration, error) {
	var reg models.Registration
	err := sqlx.GetContext(ctx, s.q(ctx), &reg,
		s.db.Rebind(`SELECT `+registrationColumns+` FROM registrations WHERE id = ?`), int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find registration %d: %w", id, err)
	}
	return &reg, nil
}

func (s *SQL) ListByStatus(ctx context.Context, status models.Status) ([]*models.Registration, error) {
	if status == "" {
		return s.list(ctx, `SELECT `+registrationColumns+` FROM registrations ORDER BY created_at DESC, id DESC`)
	}
	return s.list(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE status = ? ORDER BY created_at DESC, id DESC`, string(status))
}

func (s *SQL) ListByPrincipal(ctx context.Context, principal domain.PrincipalID) ([]*models.Registration, error) {
	return s.list(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE principal_id = ? ORDER BY created_at DESC, id DESC`, int64(principal))
}

func (s *SQL) list(ctx context.Context, query string, args ...any) ([]*models.Registration, error) {
	out := make([]*models.Registration, 0)
	if err := sqlx.SelectContext(ctx, s.q(ctx), &out, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	return out, nil
}

func (s *SQL) UpdateStatus(ctx context.Context, id domain.RegistrationID, change models.StatusChange) error {
	query := `UPDATE registrations SET status = ?, admin_comment = ?, updated_at = ? WHERE id = ?`
	args := []any{string(change.Status), change.Comment, dbTime(change.UpdatedAt), int64(id)}
	if change.FromStatus != "" {
		query += ` AND status = ?`
		args = append(args, string(change.FromStatus))
	}
	res, err := s.q(ctx).ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("update registration %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if change.FromStatus == "" {
		return sentinel.ErrNotFound
	}
	// Zero rows: either the row is gone or another writer moved it first.
	if _, err := s.FindByID(ctx, id); err != nil {
		return err
	}
	return sentinel.ErrInvalidState
}

func (s *SQL) DistinctPrincipals(ctx context.Context) ([]domain.PrincipalID, error) {
	out := make([]domain.PrincipalID, 0)
	if err := sqlx.SelectContext(ctx, s.q(ctx), &out,
		`SELECT DISTINCT principal_id FROM registrations ORDER BY principal_id`); err != nil {
		return nil, fmt.Errorf("distinct principals: %w", err)
	}
	return out, nil
}

func (s *SQL) Stats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{ByStatus: map[models.Status]int{
		models.StatusPending: 0, models.StatusConfirmed: 0, models.StatusRejected: 0,
	}}

	var byStatus []struct {
		Status models.Status `db:"status"`
		Count  int           `db:"count"`
	}
	if err := sqlx.SelectContext(ctx, s.q(ctx), &byStatus,
		`SELECT status, COUNT(*) AS count FROM registrations GROUP BY status`); err != nil {
		return nil, fmt.Errorf("stats by status: %w", err)
	}
	for _, row := range byStatus {
		stats.ByStatus[row.Status] = row.Count
		stats.Total += row.Count
	}

	if err := sqlx.SelectContext(ctx, s.q(ctx), &stats.ByWeapon, s.db.Rebind(`
		SELECT weapon_type,
		       COUNT(*) AS total,
		       SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS confirmed
		FROM registrations
		GROUP BY weapon_type
		ORDER BY weapon_type`), string(models.StatusConfirmed)); err != nil {
		return nil, fmt.Errorf("stats by weapon: %w", err)
	}
	return stats, nil
}

func (s *SQL) Purge(ctx context.Context, f models.PurgeFilter) (int, error) {
	var (
		res sql.Result
		err error
	)
	switch {
	case f.RejectedOnly:
		res, err = s.q(ctx).ExecContext(ctx, s.db.Rebind(`DELETE FROM registrations WHERE status = ?`), string(models.StatusRejected))
	case !f.CreatedBefore.IsZero():
		res, err = s.q(ctx).ExecContext(ctx, s.db.Rebind(`DELETE FROM registrations WHERE created_at < ?`), dbTime(f.CreatedBefore))
	case f.EventID != 0:
		res, err = s.q(ctx).ExecContext(ctx, s.db.Rebind(`DELETE FROM registrations WHERE event_id = ?`), int64(f.EventID))
	default:
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("purge registrations: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQL) CreateEvent(ctx context.Context, ev *models.Event) error {
	row := s.q(ctx).QueryRowxContext(ctx, s.db.Rebind(`INSERT INTO events
		(name, event_date, description, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		ev.Name, dbTime(ev.EventDate), ev.Description, ev.IsActive, dbTime(ev.CreatedAt), dbTime(ev.UpdatedAt))
	var id int64
	if err := row.Scan(&id); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	ev.ID = domain.EventID(id)
	return nil
}

func (s *SQL) FindEvent(ctx context.Context, id domain.EventID) (*models.Event, error) {
	var ev models.Event
	err := sqlx.GetContext(ctx, s.q(ctx), &ev, s.db.Rebind(`SELECT `+eventColumns+` FROM events WHERE id = ?`), int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find event %d: %w", id, err)
	}
	return &ev, nil
}

func (s *SQL) ListEvents(ctx context.Context, activeOnly bool) ([]*models.Event, error) {
	if activeOnly {
		return s.events(ctx, `SELECT `+eventColumns+` FROM events WHERE is_active = ? ORDER BY event_date, id`, true)
	}
	return s.events(ctx, `SELECT `+eventColumns+` FROM events ORDER BY event_date, id`)
}

func (s *SQL) ActiveFutureEvents(ctx context.Context, from time.Time) ([]*models.Event, error) {
	return s.events(ctx, `SELECT `+eventColumns+` FROM events
		WHERE is_active = ? AND event_date >= ? ORDER BY event_date, id`, true, dbTime(from))
}

func (s *SQL) events(ctx context.Context, query string, args ...any) ([]*models.Event, error) {
	out := make([]*models.Event, 0)
	if err := sqlx.SelectContext(ctx, s.q(ctx), &out, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}

func (s *SQL) SetEventActive(ctx context.Context, id domain.EventID, active bool, at time.Time) error {
	res, err := s.q(ctx).ExecContext(ctx,
		s.db.Rebind(`UPDATE events SET is_active = ?, updated_at = ? WHERE id = ?`), active, dbTime(at), int64(id))
	if err != nil {
		return fmt.Errorf("update event %d: %w", id, err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// dbTime normalises timestamps so both dialects store and compare them the
// same way.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
