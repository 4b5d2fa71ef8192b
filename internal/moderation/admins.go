package moderation

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	adminmodels "regdesk/internal/admin/models"
	outboxmodels "regdesk/internal/outbox/models"
	"regdesk/pkg/domain"
	dErrors "regdesk/pkg/domain-errors"
	"regdesk/pkg/platform/sentinel"
)

// AddAdmin grants role to a principal that has never been an admin.
// Deactivated admins go through ReactivateAdmin instead.
func (s *Service) AddAdmin(ctx context.Context, actor, target domain.PrincipalID, role, displayName string) (*adminmodels.Admin, error) {
	if _, err := s.Authorize(ctx, actor, adminmodels.RoleAdmin); err != nil {
		return nil, err
	}
	if target <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "principal id must be positive")
	}
	parsed, err := adminmodels.ParseRole(strings.TrimSpace(role))
	if err != nil {
		return nil, err
	}

	a := &adminmodels.Admin{
		PrincipalID: target,
		DisplayName: strings.TrimSpace(displayName),
		Role:        parsed,
		IsActive:    true,
		CreatedBy:   actor,
		CreatedAt:   s.now(),
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		existing, err := s.admins.FindByPrincipal(ctx, target)
		switch {
		case err == nil && existing.IsActive:
			return dErrors.New(dErrors.CodeConflict, "admin already exists")
		case err == nil:
			return dErrors.New(dErrors.CodeConflict, "admin exists but is deactivated; reactivate instead")
		case !errors.Is(err, sentinel.ErrNotFound):
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to load admin")
		}
		if err := s.admins.Create(ctx, a); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "admin already exists")
			}
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to create admin")
		}
		return s.outbox.Enqueue(ctx, outboxmodels.NewEntry(target, outboxmodels.KindAnnouncement, nil, grantMessage(parsed), a.CreatedAt))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("admin added",
		zap.Int64("principal_id", int64(target)),
		zap.String("role", string(parsed)),
		zap.Int64("actor_id", int64(actor)),
	)
	s.flush(ctx)
	return a, nil
}

// ReactivateAdmin re-enables a deactivated admin, optionally changing the
// role. An empty role keeps the previous one.
func (s *Service) ReactivateAdmin(ctx context.Context, actor, target domain.PrincipalID, role string) (*adminmodels.Admin, error) {
	if _, err := s.Authorize(ctx, actor, adminmodels.RoleAdmin); err != nil {
		return nil, err
	}
	var reactivated *adminmodels.Admin
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		existing, err := s.admins.FindByPrincipal(ctx, target)
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "admin not found")
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to load admin")
		}
		if existing.IsActive {
			return dErrors.New(dErrors.CodeConflict, "admin is already active")
		}
		newRole := existing.Role
		if strings.TrimSpace(role) != "" {
			if newRole, err = adminmodels.ParseRole(strings.TrimSpace(role)); err != nil {
				return err
			}
		}
		if err := s.admins.SetActive(ctx, target, true, newRole); err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to reactivate admin")
		}
		existing.IsActive, existing.Role = true, newRole
		reactivated = existing
		return s.outbox.Enqueue(ctx, outboxmodels.NewEntry(target, outboxmodels.KindAnnouncement, nil, grantMessage(newRole), s.now()))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("admin reactivated",
		zap.Int64("principal_id", int64(target)),
		zap.String("role", string(reactivated.Role)),
		zap.Int64("actor_id", int64(actor)),
	)
	s.flush(ctx)
	return reactivated, nil
}

// RemoveAdmin deactivates target. Admins can never remove themselves.
func (s *Service) RemoveAdmin(ctx context.Context, actor, target domain.PrincipalID) error {
	if _, err := s.Authorize(ctx, actor, adminmodels.RoleAdmin); err != nil {
		return err
	}
	if target == actor {
		return dErrors.New(dErrors.CodeBadRequest, "you cannot remove yourself")
	}
	existing, err := s.admins.FindByPrincipal(ctx, target)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "admin not found")
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to load admin")
	}
	if !existing.IsActive {
		return nil
	}
	if err := s.admins.SetActive(ctx, target, false, ""); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to deactivate admin")
	}
	s.logger.Info("admin removed",
		zap.Int64("principal_id", int64(target)),
		zap.Int64("actor_id", int64(actor)),
	)
	return nil
}

func (s *Service) ListAdmins(ctx context.Context, actor domain.PrincipalID) ([]*adminmodels.Admin, error) {
	if _, err := s.Authorize(ctx, actor, adminmodels.RoleAdmin); err != nil {
		return nil, err
	}
	admins, err := s.admins.List(ctx, false)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to list admins")
	}
	return admins, nil
}

// EnsureSuperAdmins makes every configured principal an active admin.
// Missing ones are created by the system; deactivated or demoted ones are
// restored.
func (s *Service) EnsureSuperAdmins(ctx context.Context, principals []domain.PrincipalID) error {
	for _, p := range principals {
		if p <= 0 {
			continue
		}
		existing, err := s.admins.FindByPrincipal(ctx, p)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			err = s.admins.Create(ctx, &adminmodels.Admin{
				PrincipalID: p,
				DisplayName: "bootstrap",
				Role:        adminmodels.RoleAdmin,
				IsActive:    true,
				CreatedBy:   adminmodels.SystemPrincipal,
				CreatedAt:   s.now(),
			})
			if err != nil && !errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to bootstrap admin")
			}
			s.logger.Info("super admin bootstrapped", zap.Int64("principal_id", int64(p)))
		case err != nil:
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to load admin")
		case !existing.IsActive || existing.Role != adminmodels.RoleAdmin:
			if err := s.admins.SetActive(ctx, p, true, adminmodels.RoleAdmin); err != nil {
				return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to restore admin")
			}
			s.logger.Info("super admin restored", zap.Int64("principal_id", int64(p)))
		}
	}
	return nil
}
