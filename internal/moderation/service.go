// Package moderation is the operator side of registration: authorizing
// admins, deciding on applications, managing the admin roster and
// announcing to applicants.
package moderation

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	adminmodels "regdesk/internal/admin/models"
	"regdesk/internal/events"
	"regdesk/internal/moderation/metrics"
	"regdesk/internal/notify"
	"regdesk/internal/outbox"
	outboxmodels "regdesk/internal/outbox/models"
	regmodels "regdesk/internal/registration/models"
	"regdesk/pkg/domain"
	dErrors "regdesk/pkg/domain-errors"
	"regdesk/pkg/platform/sentinel"
	"regdesk/pkg/platform/tx"
)

type RegistrationStore interface {
	Create(ctx context.Context, reg *regmodels.Registration) error
	FindByID(ctx context.Context, id domain.RegistrationID) (*regmodels.Registration, error)
	ListByStatus(ctx context.Context, status regmodels.Status) ([]*regmodels.Registration, error)
	UpdateStatus(ctx context.Context, id domain.RegistrationID, change regmodels.StatusChange) error
	DistinctPrincipals(ctx context.Context) ([]domain.PrincipalID, error)
	Stats(ctx context.Context) (*regmodels.Stats, error)
	FindEvent(ctx context.Context, id domain.EventID) (*regmodels.Event, error)
}

type AdminStore interface {
	Create(ctx context.Context, a *adminmodels.Admin) error
	FindByPrincipal(ctx context.Context, p domain.PrincipalID) (*adminmodels.Admin, error)
	SetActive(ctx context.Context, p domain.PrincipalID, active bool, role adminmodels.Role) error
	List(ctx context.Context, activeOnly bool) ([]*adminmodels.Admin, error)
}

// Outbox queues notifications inside the caller's transaction and delivers
// them after commit.
type Outbox interface {
	Enqueue(ctx context.Context, entries ...*outboxmodels.Entry) error
	Flush(ctx context.Context) (outbox.FlushResult, error)
}

type Broadcaster interface {
	Broadcast(ctx context.Context, to []domain.PrincipalID, msg notify.Message) notify.BroadcastResult
}

const defaultPublishTimeout = 3 * time.Second

var errAccessDenied = dErrors.New(dErrors.CodeForbidden, "access denied")

type Service struct {
	registrations RegistrationStore
	admins        AdminStore
	outbox        Outbox
	broadcaster   Broadcaster

	tx             tx.Runner
	publisher      events.Publisher
	publishTimeout time.Duration
	allowOverride  bool

	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithTxRunner(r tx.Runner) Option {
	return func(s *Service) { s.tx = r }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithAllowOverride lets an already decided registration be decided again.
func WithAllowOverride(allow bool) Option {
	return func(s *Service) { s.allowOverride = allow }
}

func New(registrations RegistrationStore, admins AdminStore, ob Outbox, broadcaster Broadcaster, opts ...Option) *Service {
	s := &Service{
		registrations:  registrations,
		admins:         admins,
		outbox:         ob,
		broadcaster:    broadcaster,
		tx:             tx.Passthrough,
		publisher:      events.Nop{},
		publishTimeout: defaultPublishTimeout,
		now:            time.Now,
		logger:         zap.NewNop(),
		tracer:         otel.Tracer("regdesk/moderation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authorize resolves principal to an active admin holding at least role.
// Every denial carries the same message whatever the reason.
func (s *Service) Authorize(ctx context.Context, principal domain.PrincipalID, role adminmodels.Role) (*adminmodels.Admin, error) {
	a, err := s.admins.FindByPrincipal(ctx, principal)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to load admin")
	}
	if a == nil || !a.IsActive || !a.Role.Allows(role) {
		s.metrics.IncDenied(string(role))
		s.logger.Info("access denied",
			zap.Int64("principal_id", int64(principal)),
			zap.String("required_role", string(role)),
		)
		return nil, errAccessDenied
	}
	return a, nil
}

// flush delivers queued notifications after a commit. Failures leave the
// entries for the background relay.
func (s *Service) flush(ctx context.Context) {
	res, err := s.outbox.Flush(ctx)
	if err != nil {
		s.logger.Warn("notification flush failed", zap.Error(err))
		return
	}
	if res.Rescheduled > 0 || res.Dead > 0 {
		s.logger.Warn("some notifications were not delivered",
			zap.Int("delivered", res.Delivered),
			zap.Int("rescheduled", res.Rescheduled),
			zap.Int("dead", res.Dead),
		)
	}
}

func (s *Service) publish(ctx context.Context, evt events.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("lifecycle event not published",
			zap.String("event_type", string(evt.Type)),
			zap.Int64("registration_id", int64(evt.RegistrationID)),
			zap.Error(err),
		)
	}
}
