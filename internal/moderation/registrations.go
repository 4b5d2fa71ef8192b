package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	adminmodels "regdesk/internal/admin/models"
	"regdesk/internal/events"
	"regdesk/internal/notify"
	outboxmodels "regdesk/internal/outbox/models"
	regmodels "regdesk/internal/registration/models"
	"regdesk/pkg/domain"
	dErrors "regdesk/pkg/domain-errors"
	"regdesk/pkg/platform/sentinel"
)

func (s *Service) ListByStatus(ctx context.Context, actor domain.PrincipalID, status regmodels.Status) ([]*regmodels.Registration, error) {
	if _, err := s.Authorize(ctx, actor, adminmodels.RoleModerator); err != nil {
		return nil, err
	}
	if status != "" && !status.Valid() {
		return nil, dErrors.New(dErrors.CodeValidation, "status must be pending, confirmed or rejected")
	}
	regs, err := s.registrations.ListByStatus(ctx, status)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to list registrations")
	}
	return regs, nil
}

func (s *Service) ListPending(ctx context.Context, actor domain.PrincipalID) ([]*regmodels.Registration, error) {
	return s.ListByStatus(ctx, actor, regmodels.StatusPending)
}

func (s *Service) Get(ctx context.Context, actor domain.PrincipalID, id domain.RegistrationID) (*regmodels.Registration, error) {
	if _, err := s.Authorize(ctx, actor, adminmodels.RoleModerator); err != nil {
		return nil, err
	}
	reg, err := s.registrations.FindByID(ctx, id)
	if err != nil {
		return nil, translateRegistrationErr(err, "failed to load registration")
	}
	return reg, nil
}

func (s *Service) Confirm(ctx context.Context, actor domain.PrincipalID, id domain.RegistrationID) (*regmodels.Registration, error) {
	return s.decide(ctx, actor, id, regmodels.StatusConfirmed, "")
}

func (s *Service) Reject(ctx context.Context, actor domain.PrincipalID, id domain.RegistrationID, comment string) (*regmodels.Registration, error) {
	return s.decide(ctx, actor, id, regmodels.StatusRejected, strings.TrimSpace(comment))
}

// decide changes the status and queues the applicant notification in one
// transaction. Delivery happens after commit and never undoes the change.
func (s *Service) decide(ctx context.Context, actor domain.PrincipalID, id domain.RegistrationID, status regmodels.Status, comment string) (*regmodels.Registration, error) {
	if _, err := s.Authorize(ctx, actor, adminmodels.RoleModerator); err != nil {
		return nil, err
	}
	ctx, span := s.tracer.Start(ctx, "moderation.Decide")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("registration.id", int64(id)),
		attribute.String("registration.status", string(status)),
	)

	var decided *regmodels.Registration
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		reg, err := s.registrations.FindByID(ctx, id)
		if err != nil {
			return translateRegistrationErr(err, "failed to load registration")
		}
		if reg.Status.IsTerminal() && !s.allowOverride {
			return dErrors.New(dErrors.CodeAlreadyProcessed,
				fmt.Sprintf("registration #%d is already %s", int64(id), reg.Status))
		}

		now := s.now()
		change := regmodels.StatusChange{Status: status, Comment: comment, UpdatedAt: now}
		if !s.allowOverride {
			change.FromStatus = reg.Status
		}
		if err := s.registrations.UpdateStatus(ctx, id, change); err != nil {
			if errors.Is(err, sentinel.ErrInvalidState) {
				return dErrors.New(dErrors.CodeAlreadyProcessed,
					fmt.Sprintf("registration #%d was decided by someone else", int64(id)))
			}
			return translateRegistrationErr(err, "failed to update registration")
		}
		reg.Status, reg.AdminComment, reg.UpdatedAt = status, comment, now

		entry := outboxmodels.NewEntry(reg.PrincipalID, outboxmodels.KindDecision, &reg.ID, decisionMessage(reg), now)
		if err := s.outbox.Enqueue(ctx, entry); err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to queue notification")
		}
		decided = reg
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.metrics.IncDecision(string(status))
	s.logger.Info("registration decided",
		zap.Int64("registration_id", int64(id)),
		zap.String("status", string(status)),
		zap.Int64("actor_id", int64(actor)),
	)
	s.flush(ctx)
	s.publish(ctx, events.New(eventTypeFor(status), decided.ID, decided.PrincipalID, actor, string(status), decided.UpdatedAt))
	return decided, nil
}

// Submit stores a completed registration and alerts every active admin.
// It is the conversation engine's handoff and needs no authorization.
func (s *Service) Submit(ctx context.Context, reg *regmodels.Registration) error {
	ctx, span := s.tracer.Start(ctx, "moderation.Submit")
	defer span.End()

	if reg.Status == "" {
		reg.Status = regmodels.StatusPending
	}
	if reg.Status != regmodels.StatusPending {
		return dErrors.New(dErrors.CodeInvariantViolation, "new registrations must be pending")
	}

	var alerted int
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.registrations.Create(ctx, reg); err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "registration store unavailable")
		}
		admins, err := s.admins.List(ctx, true)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to load admins")
		}
		eventLabel := ""
		if reg.EventID != nil {
			if ev, err := s.registrations.FindEvent(ctx, *reg.EventID); err == nil {
				eventLabel = ev.Label()
			}
		}
		msg := adminAlert(reg, eventLabel)
		entries := make([]*outboxmodels.Entry, 0, len(admins))
		for _, a := range admins {
			entries = append(entries, outboxmodels.NewEntry(a.PrincipalID, outboxmodels.KindAdminAlert, &reg.ID, msg, reg.CreatedAt))
		}
		if err := s.outbox.Enqueue(ctx, entries...); err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to queue admin alerts")
		}
		alerted = len(entries)
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	s.metrics.IncSubmission()
	if alerted == 0 {
		s.logger.Warn("registration stored but no active admins to alert", zap.Int64("registration_id", int64(reg.ID)))
	}
	s.logger.Info("registration submitted",
		zap.Int64("registration_id", int64(reg.ID)),
		zap.Int64("principal_id", int64(reg.PrincipalID)),
		zap.Int("admins_alerted", alerted),
	)
	s.flush(ctx)
	s.publish(ctx, events.New(events.TypeSubmitted, reg.ID, reg.PrincipalID, reg.PrincipalID, string(reg.Status), reg.CreatedAt))
	return nil
}

func (s *Service) Stats(ctx context.Context, actor domain.PrincipalID) (*regmodels.Stats, error) {
	if _, err := s.Authorize(ctx, actor, adminmodels.RoleModerator); err != nil {
		return nil, err
	}
	stats, err := s.registrations.Stats(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to compute stats")
	}
	return stats, nil
}

// NotifyAll sends body to every principal that has ever registered.
func (s *Service) NotifyAll(ctx context.Context, actor domain.PrincipalID, body string) (notify.BroadcastResult, error) {
	if _, err := s.Authorize(ctx, actor, adminmodels.RoleModerator); err != nil {
		return notify.BroadcastResult{}, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return notify.BroadcastResult{}, dErrors.New(dErrors.CodeValidation, "announcement text must not be empty")
	}
	ctx, span := s.tracer.Start(ctx, "moderation.NotifyAll")
	defer span.End()

	principals, err := s.registrations.DistinctPrincipals(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return notify.BroadcastResult{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to load recipients")
	}
	res := s.broadcaster.Broadcast(ctx, principals, announcement(body))
	s.metrics.AddBroadcast(res.Delivered, res.Failed, res.Skipped)
	s.logger.Info("broadcast finished",
		zap.Int64("actor_id", int64(actor)),
		zap.Int("recipients", len(principals)),
		zap.Int("delivered", res.Delivered),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func translateRegistrationErr(err error, msg string) error {
	if _, ok := dErrors.As(err); ok {
		return err
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "registration not found")
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
}

func eventTypeFor(status regmodels.Status) events.Type {
	if status == regmodels.StatusRejected {
		return events.TypeRejected
	}
	return events.TypeConfirmed
}
