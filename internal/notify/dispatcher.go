package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"regdesk/internal/notify/metrics"
	"regdesk/pkg/domain"
)

// Outcome is the final classification of one logical delivery.
type Outcome int

const (
	Delivered Outcome = iota
	// Undeliverable recipients are skipped without retry.
	Undeliverable
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Undeliverable:
		return "undeliverable"
	default:
		return "failed"
	}
}

// Result describes one logical delivery. Sends counts transport calls: 1, or
// 2 when a throttling signal triggered the single retry.
type Result struct {
	Outcome Outcome
	Sends   int
	Err     error
}

// BroadcastResult aggregates a fan-out. Delivered+Failed equals the number of
// recipients; Skipped counts the undeliverable subset of Failed.
type BroadcastResult struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// SleepFunc waits d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Dispatcher serialises every outbound send in the process behind one lock
// and keeps at least minInterval between consecutive sends.
type Dispatcher struct {
	sender      Sender
	minInterval time.Duration

	mu       sync.Mutex
	lastSend time.Time

	sleep   SleepFunc
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Dispatcher)

func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithClock replaces the wall clock and sleep used for pacing and retries.
func WithClock(now func() time.Time, sleep SleepFunc) Option {
	return func(d *Dispatcher) {
		d.now = now
		d.sleep = sleep
	}
}

func NewDispatcher(sender Sender, minInterval time.Duration, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sender:      sender,
		minInterval: minInterval,
		sleep:       sleepCtx,
		now:         time.Now,
		logger:      zap.NewNop(),
		tracer:      otel.Tracer("regdesk/notify"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver sends msg to one recipient. A throttling signal is honoured by
// waiting exactly the requested duration and retrying once; a second failure
// of any kind is final.
func (d *Dispatcher) Deliver(ctx context.Context, to domain.PrincipalID, msg Message) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	res := d.deliverLocked(ctx, to, msg)
	d.metrics.IncDelivery(res.Outcome.String())
	if res.Outcome != Delivered {
		d.logger.Warn("message not delivered",
			zap.Int64("principal_id", int64(to)),
			zap.Stringer("outcome", res.Outcome),
			zap.Int("sends", res.Sends),
			zap.Error(res.Err),
		)
	}
	return res
}

func (d *Dispatcher) deliverLocked(ctx context.Context, to domain.PrincipalID, msg Message) Result {
	err := d.sendPaced(ctx, to, msg)
	if err == nil {
		return Result{Outcome: Delivered, Sends: 1}
	}
	if errors.Is(err, ErrUndeliverable) {
		return Result{Outcome: Undeliverable, Sends: 1, Err: err}
	}
	var throttled *ThrottledError
	if !errors.As(err, &throttled) {
		return Result{Outcome: Failed, Sends: 1, Err: err}
	}

	d.metrics.IncThrottleRetry()
	if werr := d.sleep(ctx, throttled.RetryAfter); werr != nil {
		return Result{Outcome: Failed, Sends: 1, Err: werr}
	}
	if err := d.sendPaced(ctx, to, msg); err != nil {
		return Result{Outcome: Failed, Sends: 2, Err: err}
	}
	return Result{Outcome: Delivered, Sends: 2}
}

func (d *Dispatcher) sendPaced(ctx context.Context, to domain.PrincipalID, msg Message) error {
	if !d.lastSend.IsZero() {
		if wait := d.lastSend.Add(d.minInterval).Sub(d.now()); wait > 0 {
			if err := d.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := d.sender.Send(ctx, to, msg)
	d.lastSend = d.now()
	return err
}

// Broadcast delivers msg to each recipient sequentially. Cancelling ctx stops
// the fan-out between sends; recipients not yet attempted count as failed.
func (d *Dispatcher) Broadcast(ctx context.Context, to []domain.PrincipalID, msg Message) BroadcastResult {
	ctx, span := d.tracer.Start(ctx, "notify.Broadcast",
		trace.WithAttributes(attribute.Int("recipients", len(to))))
	defer span.End()
	start := time.Now()
	defer d.metrics.ObserveBroadcast(start)

	var out BroadcastResult
	for i, p := range to {
		if ctx.Err() != nil {
			out.Failed += len(to) - i
			d.logger.Info("broadcast cancelled", zap.Int("remaining", len(to)-i))
			break
		}
		switch d.Deliver(ctx, p, msg).Outcome {
		case Delivered:
			out.Delivered++
		case Undeliverable:
			out.Failed++
			out.Skipped++
		default:
			out.Failed++
		}
	}

	span.SetAttributes(
		attribute.Int("delivered", out.Delivered),
		attribute.Int("failed", out.Failed),
		attribute.Int("skipped", out.Skipped),
	)
	d.logger.Info("broadcast finished",
		zap.Int("recipients", len(to)),
		zap.Int("delivered", out.Delivered),
		zap.Int("failed", out.Failed),
		zap.Int("skipped", out.Skipped),
	)
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
