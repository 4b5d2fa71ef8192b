package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"regdesk/internal/outbox/models"
	"regdesk/internal/platform/database"
	"regdesk/pkg/platform/sentinel"
)

const entryColumns = `id, principal_id, kind, registration_id, body, buttons, status, attempts,
	next_attempt_at, last_error, created_at, updated_at`

// SQL stores entries in notification_outbox. Enqueue joins the transaction
// in ctx so entries commit with the change that produced them.
type SQL struct {
	db *sqlx.DB
}

func NewSQL(db *sqlx.DB) *SQL {
	return &SQL{db: db}
}

func (s *SQL) Enqueue(ctx context.Context, entries ...*models.Entry) error {
	query := s.db.Rebind(`INSERT INTO notification_outbox (` + entryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	q := database.Execer(ctx, s.db)
	for _, e := range entries {
		var regID sql.NullInt64
		if e.RegistrationID != nil {
			regID = sql.NullInt64{Int64: int64(*e.RegistrationID), Valid: true}
		}
		if _, err := q.ExecContext(ctx, query,
			e.ID, int64(e.PrincipalID), string(e.Kind), regID, e.Body, e.Buttons, string(e.Status), e.Attempts,
			utc(e.NextAttemptAt), e.LastError, utc(e.CreatedAt), utc(e.UpdatedAt)); err != nil {
			return fmt.Errorf("enqueue outbox entry: %w", err)
		}
	}
	return nil
}

func (s *SQL) Due(ctx context.Context, now time.Time, limit int) ([]*models.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	out := make([]*models.Entry, 0)
	err := sqlx.SelectContext(ctx, database.Execer(ctx, s.db), &out, s.db.Rebind(`SELECT `+entryColumns+`
		FROM notification_outbox
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY next_attempt_at, id
		LIMIT ?`), string(models.StatusPending), utc(now), limit)
	if err != nil {
		return nil, fmt.Errorf("load due outbox entries: %w", err)
	}
	return out, nil
}

func (s *SQL) MarkDelivered(ctx context.Context, id string, attempts int, at time.Time) error {
	return s.exec(ctx, `UPDATE notification_outbox SET status = ?, attempts = ?, last_error = '', updated_at = ? WHERE id = ?`,
		string(models.StatusDelivered), attempts, utc(at), id)
}

func (s *SQL) MarkDead(ctx context.Context, id string, attempts int, lastErr string, at time.Time) error {
	return s.exec(ctx, `UPDATE notification_outbox SET status = ?, attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(models.StatusDead), attempts, lastErr, utc(at), id)
}

func (s *SQL) Reschedule(ctx context.Context, id string, attempts int, next time.Time, lastErr string, at time.Time) error {
	return s.exec(ctx, `UPDATE notification_outbox SET attempts = ?, next_attempt_at = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		attempts, utc(next), lastErr, utc(at), id)
}

func (s *SQL) exec(ctx context.Context, query string, args ...any) error {
	res, err := database.Execer(ctx, s.db).ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("update outbox entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *SQL) CountByStatus(ctx context.Context, status models.Status) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, database.Execer(ctx, s.db), &n,
		s.db.Rebind(`SELECT COUNT(*) FROM notification_outbox WHERE status = ?`), string(status))
	if err != nil {
		return 0, fmt.Errorf("count outbox entries: %w", err)
	}
	return n, nil
}

func (s *SQL) Find(ctx context.Context, id string) (*models.Entry, error) {
	var e models.Entry
	err := sqlx.GetContext(ctx, database.Execer(ctx, s.db), &e,
		s.db.Rebind(`SELECT `+entryColumns+` FROM notification_outbox WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find outbox entry: %w", err)
	}
	return &e, nil
}

func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
