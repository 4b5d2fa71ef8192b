package outbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"regdesk/internal/notify"
	"regdesk/internal/outbox"
	"regdesk/internal/outbox/models"
	"regdesk/internal/outbox/store"
	"regdesk/pkg/domain"
)

type scriptedDeliverer struct {
	mu       sync.Mutex
	outcomes map[domain.PrincipalID][]notify.Result
	calls    map[domain.PrincipalID]int
}

func newScripted() *scriptedDeliverer {
	return &scriptedDeliverer{
		outcomes: map[domain.PrincipalID][]notify.Result{},
		calls:    map[domain.PrincipalID]int{},
	}
}

func (d *scriptedDeliverer) script(p domain.PrincipalID, results ...notify.Result) {
	d.outcomes[p] = results
}

func (d *scriptedDeliverer) Deliver(_ context.Context, to domain.PrincipalID, _ notify.Message) notify.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.calls[to]
	d.calls[to]++
	if script := d.outcomes[to]; n < len(script) {
		return script[n]
	}
	return notify.Result{Outcome: notify.Delivered, Sends: 1}
}

type RelaySuite struct {
	suite.Suite
	store     *store.InMemory
	deliverer *scriptedDeliverer
	relay     *outbox.Relay
	now       time.Time
	reg       *prometheus.Registry
	ctx       context.Context
}

func TestRelaySuite(t *testing.T) {
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupTest() {
	s.store = store.NewInMemory()
	s.deliverer = newScripted()
	s.now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.reg = prometheus.NewRegistry()
	s.relay = outbox.NewRelay(s.store, s.deliverer, outbox.Policy{
		BatchSize:   2,
		MaxAttempts: 3,
		BaseBackoff: time.Second,
		MaxBackoff:  3 * time.Second,
	}, outbox.WithClock(func() time.Time { return s.now }), outbox.WithRegisterer(s.reg))
	s.ctx = context.Background()
}

func (s *RelaySuite) enqueue(p domain.PrincipalID) *models.Entry {
	e := models.NewEntry(p, models.KindDecision, nil, notify.Message{Text: "hi"}, s.now)
	s.Require().NoError(s.relay.Enqueue(s.ctx, e))
	return e
}

func (s *RelaySuite) find(id string) *models.Entry {
	e, err := s.store.Find(s.ctx, id)
	s.Require().NoError(err)
	return e
}

func (s *RelaySuite) gauge(name string) float64 {
	families, err := s.reg.Gather()
	s.Require().NoError(err)
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) > 0 {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	s.FailNow("metric not found", name)
	return 0
}

func (s *RelaySuite) TestFlushDeliversAcrossBatches() {
	ids := []string{s.enqueue(1).ID, s.enqueue(2).ID, s.enqueue(3).ID}

	res, err := s.relay.Flush(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, res.Delivered)
	for _, id := range ids {
		e := s.find(id)
		s.Equal(models.StatusDelivered, e.Status)
		s.Equal(1, e.Attempts)
	}
	s.Equal(0.0, s.gauge("regdesk_outbox_pending"))

	res, err = s.relay.Flush(s.ctx)
	s.Require().NoError(err)
	s.Zero(res.Delivered, "delivered entries are not sent again")
	s.Equal(1, s.deliverer.calls[1])
}

func (s *RelaySuite) TestUndeliverableIsDeadLetteredImmediately() {
	e := s.enqueue(5)
	s.deliverer.script(5, notify.Result{Outcome: notify.Undeliverable, Err: notify.ErrUndeliverable})

	res, err := s.relay.Flush(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, res.Dead)

	got := s.find(e.ID)
	s.Equal(models.StatusDead, got.Status)
	s.Contains(got.LastError, "undeliverable")
}

func (s *RelaySuite) TestFailuresBackOffUntilMaxAttempts() {
	e := s.enqueue(9)
	failed := notify.Result{Outcome: notify.Failed, Err: errors.New("network down")}
	s.deliverer.script(9, failed, failed, failed)

	res, err := s.relay.Flush(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, res.Rescheduled)
	got := s.find(e.ID)
	s.Equal(models.StatusPending, got.Status)
	s.Equal(1, got.Attempts)
	s.True(got.NextAttemptAt.Equal(s.now.Add(time.Second)))
	s.Equal(1.0, s.gauge("regdesk_outbox_pending"))

	res, err = s.relay.Flush(s.ctx)
	s.Require().NoError(err)
	s.Zero(res.Rescheduled+res.Delivered+res.Dead, "not due before backoff elapses")

	s.now = s.now.Add(time.Second)
	_, err = s.relay.Flush(s.ctx)
	s.Require().NoError(err)
	got = s.find(e.ID)
	s.Equal(2, got.Attempts)
	s.True(got.NextAttemptAt.Equal(s.now.Add(2 * time.Second)))

	s.now = s.now.Add(2 * time.Second)
	res, err = s.relay.Flush(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, res.Dead)
	got = s.find(e.ID)
	s.Equal(models.StatusDead, got.Status)
	s.Equal(3, got.Attempts)
	s.Equal("network down", got.LastError)
}

func (s *RelaySuite) TestBackoffIsCapped() {
	s.Equal(time.Second, s.relay.Backoff(1))
	s.Equal(2*time.Second, s.relay.Backoff(2))
	s.Equal(3*time.Second, s.relay.Backoff(3))
	s.Equal(3*time.Second, s.relay.Backoff(10))
}

func (s *RelaySuite) TestCancelledDeliveryLeavesEntryPending() {
	e := s.enqueue(4)
	s.deliverer.script(4, notify.Result{Outcome: notify.Failed, Err: context.Canceled})

	_, err := s.relay.Flush(s.ctx)
	s.ErrorIs(err, context.Canceled)
	got := s.find(e.ID)
	s.Equal(models.StatusPending, got.Status)
	s.Zero(got.Attempts)
}

func (s *RelaySuite) TestRunFlushesOnKick() {
	e := s.enqueue(8)
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- s.relay.Run(ctx) }()

	s.relay.Kick()
	s.Eventually(func() bool {
		got, err := s.store.Find(s.ctx, e.ID)
		return err == nil && got.Status == models.StatusDelivered
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	s.NoError(<-done)
}
