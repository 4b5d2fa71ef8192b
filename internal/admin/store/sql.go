package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"regdesk/internal/admin/models"
	"regdesk/internal/platform/database"
	"regdesk/pkg/domain"
	"regdesk/pkg/platform/sentinel"
)

const adminColumns = `id, principal_id, display_name, role, is_active, created_by, created_at`

type SQL struct {
	db *sqlx.DB
}

func NewSQL(db *sqlx.DB) *SQL {
	return &SQL{db: db}
}

func (s *SQL) Create(ctx context.Context, a *models.Admin) error {
	row := database.Execer(ctx, s.db).QueryRowxContext(ctx, s.db.Rebind(`INSERT INTO admins
		(principal_id, display_name, role, is_active, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		int64(a.PrincipalID), a.DisplayName, string(a.Role), a.IsActive, int64(a.CreatedBy), a.CreatedAt.UTC())
	var id int64
	if err := row.Scan(&id); err != nil {
		if database.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert admin: %w", err)
	}
	a.ID = domain.AdminID(id)
	return nil
}

func (s *SQL) FindByPrincipal(ctx context.Context, p domain.PrincipalID) (*models.Admin, error) {
	var a models.Admin
	err := sqlx.GetContext(ctx, database.Execer(ctx, s.db), &a,
		s.db.Rebind(`SELECT `+adminColumns+` FROM admins WHERE principal_id = ?`), int64(p))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find admin %d: %w", p, err)
	}
	return &a, nil
}

func (s *SQL) SetActive(ctx context.Context, p domain.PrincipalID, active bool, role models.Role) error {
	var (
		res sql.Result
		err error
	)
	if role == "" {
		res, err = database.Execer(ctx, s.db).ExecContext(ctx,
			s.db.Rebind(`UPDATE admins SET is_active = ? WHERE principal_id = ?`), active, int64(p))
	} else {
		res, err = database.Execer(ctx, s.db).ExecContext(ctx,
			s.db.Rebind(`UPDATE admins SET is_active = ?, role = ? WHERE principal_id = ?`), active, string(role), int64(p))
	}
	if err != nil {
		return fmt.Errorf("update admin %d: %w", p, err)
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

func (s *SQL) List(ctx context.Context, activeOnly bool) ([]*models.Admin, error) {
	query := `SELECT ` + adminColumns + ` FROM admins ORDER BY id`
	var args []any
	if activeOnly {
		query = `SELECT ` + adminColumns + ` FROM admins WHERE is_active = ? ORDER BY id`
		args = append(args, true)
	}
	out := make([]*models.Admin, 0)
	if err := sqlx.SelectContext(ctx, database.Execer(ctx, s.db), &out, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return out, nil
}
