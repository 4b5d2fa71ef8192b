// Package outbox drains persisted notifications through the dispatcher.
// Entries are written in the same transaction as the state change that
// produced them; the relay delivers them afterwards with bounded retries.
package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"regdesk/internal/notify"
	"regdesk/internal/outbox/models"
	"regdesk/pkg/domain"
)

type Store interface {
	Enqueue(ctx context.Context, entries ...*models.Entry) error
	Due(ctx context.Context, now time.Time, limit int) ([]*models.Entry, error)
	MarkDelivered(ctx context.Context, id string, attempts int, at time.Time) error
	MarkDead(ctx context.Context, id string, attempts int, lastErr string, at time.Time) error
	Reschedule(ctx context.Context, id string, attempts int, next time.Time, lastErr string, at time.Time) error
	CountByStatus(ctx context.Context, status models.Status) (int, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, to domain.PrincipalID, msg notify.Message) notify.Result
}

// Policy bounds the retry schedule.
type Policy struct {
	BatchSize    int
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	PollInterval time.Duration
}

// FlushResult counts what one flush did.
type FlushResult struct {
	Delivered   int
	Rescheduled int
	Dead        int
}

type Relay struct {
	store     Store
	deliverer Deliverer
	policy    Policy

	flushMu sync.Mutex
	kick    chan struct{}

	now     func() time.Time
	logger  *zap.Logger
	backlog prometheus.Gauge
	results *prometheus.CounterVec
}

type Option func(*Relay)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

// WithRegisterer exports backlog and result metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(r *Relay) {
		f := promauto.With(reg)
		r.backlog = f.NewGauge(prometheus.GaugeOpts{
			Name: "regdesk_outbox_pending",
			Help: "Outbox entries waiting for delivery",
		})
		r.results = f.NewCounterVec(prometheus.CounterOpts{
			Name: "regdesk_outbox_results_total",
			Help: "Outbox delivery attempts by result",
		}, []string{"result"})
	}
}

func NewRelay(store Store, deliverer Deliverer, policy Policy, opts ...Option) *Relay {
	if policy.BatchSize <= 0 {
		policy.BatchSize = 50
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.PollInterval <= 0 {
		policy.PollInterval = 5 * time.Second
	}
	r := &Relay{
		store:     store,
		deliverer: deliverer,
		policy:    policy,
		kick:      make(chan struct{}, 1),
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enqueue stores entries. Callers wanting atomicity with their own writes
// pass a ctx carrying the transaction.
func (r *Relay) Enqueue(ctx context.Context, entries ...*models.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.store.Enqueue(ctx, entries...)
}

// Kick asks Run to flush soon. Never blocks.
func (r *Relay) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Flush delivers every entry due now. Flushes are serialised so an entry is
// never handed to the dispatcher twice concurrently.
func (r *Relay) Flush(ctx context.Context) (FlushResult, error) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	var total FlushResult
	for {
		due, err := r.store.Due(ctx, r.now(), r.policy.BatchSize)
		if err != nil {
			return total, err
		}
		for _, e := range due {
			if err := ctx.Err(); err != nil {
				return total, err
			}
			if err := r.deliver(ctx, e, &total); err != nil {
				return total, err
			}
		}
		if len(due) < r.policy.BatchSize {
			break
		}
	}
	r.updateBacklog(ctx)
	return total, nil
}

func (r *Relay) deliver(ctx context.Context, e *models.Entry, total *FlushResult) error {
	res := r.deliverer.Deliver(ctx, e.PrincipalID, e.Message())
	attempts := e.Attempts + 1
	now := r.now()

	switch {
	case res.Outcome == notify.Delivered:
		total.Delivered++
		r.count("delivered")
		return r.store.MarkDelivered(ctx, e.ID, attempts, now)
	case errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded):
		// Shutdown interrupted the attempt; leave the entry untouched.
		return res.Err
	case res.Outcome == notify.Undeliverable || attempts >= r.policy.MaxAttempts:
		total.Dead++
		r.count("dead")
		r.logger.Warn("outbox entry dead-lettered",
			zap.String("entry_id", e.ID),
			zap.String("kind", string(e.Kind)),
			zap.Int64("principal_id", int64(e.PrincipalID)),
			zap.Int("attempts", attempts),
			zap.Error(res.Err),
		)
		return r.store.MarkDead(ctx, e.ID, attempts, errString(res.Err), now)
	default:
		total.Rescheduled++
		r.count("rescheduled")
		return r.store.Reschedule(ctx, e.ID, attempts, now.Add(r.Backoff(attempts)), errString(res.Err), now)
	}
}

// Backoff is the delay after the given number of failed attempts: the base
// doubled per attempt, capped at MaxBackoff.
func (r *Relay) Backoff(attempts int) time.Duration {
	d := r.policy.BaseBackoff
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < attempts; i++ {
		d *= 2
		if r.policy.MaxBackoff > 0 && d >= r.policy.MaxBackoff {
			return r.policy.MaxBackoff
		}
	}
	if r.policy.MaxBackoff > 0 && d > r.policy.MaxBackoff {
		return r.policy.MaxBackoff
	}
	return d
}

// Run flushes on every poll tick and every Kick until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.policy.PollInterval)
	defer ticker.Stop()
	r.logger.Info("outbox relay started", zap.Duration("poll_interval", r.policy.PollInterval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
		case <-r.kick:
		}
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("outbox flush failed", zap.Error(err))
		}
	}
}

func (r *Relay) count(result string) {
	if r.results != nil {
		r.results.WithLabelValues(result).Inc()
	}
}

func (r *Relay) updateBacklog(ctx context.Context) {
	if r.backlog == nil {
		return
	}
	n, err := r.store.CountByStatus(ctx, models.StatusPending)
	if err != nil {
		r.logger.Debug("outbox backlog count failed", zap.Error(err))
		return
	}
	r.backlog.Set(float64(n))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
