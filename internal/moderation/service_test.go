package moderation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	adminmodels "regdesk/internal/admin/models"
	adminstore "regdesk/internal/admin/store"
	"regdesk/internal/events"
	evmocks "regdesk/internal/events/mocks"
	"regdesk/internal/moderation"
	"regdesk/internal/moderation/metrics"
	"regdesk/internal/notify"
	notifymocks "regdesk/internal/notify/mocks"
	"regdesk/internal/outbox"
	outboxmodels "regdesk/internal/outbox/models"
	outboxstore "regdesk/internal/outbox/store"
	regmodels "regdesk/internal/registration/models"
	regstore "regdesk/internal/registration/store"
	"regdesk/pkg/domain"
	dErrors "regdesk/pkg/domain-errors"
)

const (
	superAdmin  = domain.PrincipalID(1)
	moderator   = domain.PrincipalID(2)
	retired     = domain.PrincipalID(3)
	stranger    = domain.PrincipalID(99)
	applicantID = domain.PrincipalID(1001)
)

type sent struct {
	to  domain.PrincipalID
	msg notify.Message
}

type ModerationSuite struct {
	suite.Suite
	ctx       context.Context
	now       time.Time
	regs      *regstore.InMemory
	admins    *adminstore.InMemory
	outbox    *outboxstore.InMemory
	sender    *notifymocks.MockSender
	publisher *evmocks.MockPublisher
	metrics   *metrics.Metrics
	service   *moderation.Service

	mu        sync.Mutex
	sent      []sent
	published []events.Event
}

func TestModerationSuite(t *testing.T) {
	suite.Run(t, new(ModerationSuite))
}

func (s *ModerationSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)
	s.regs = regstore.NewInMemory()
	s.admins = adminstore.NewInMemory()
	s.outbox = outboxstore.NewInMemory()
	s.sent, s.published = nil, nil

	ctrl := gomock.NewController(s.T())
	s.sender = notifymocks.NewMockSender(ctrl)
	s.publisher = evmocks.NewMockPublisher(ctrl)
	s.metrics = metrics.New(prometheus.NewRegistry())

	dispatcher := notify.NewDispatcher(s.sender, 0)
	relay := outbox.NewRelay(s.outbox, dispatcher, outbox.Policy{MaxAttempts: 3, BaseBackoff: time.Minute},
		outbox.WithClock(func() time.Time { return s.now }))
	s.service = moderation.New(s.regs, s.admins, relay, dispatcher,
		moderation.WithPublisher(s.publisher),
		moderation.WithClock(func() time.Time { return s.now }),
		moderation.WithMetrics(s.metrics),
	)

	for _, a := range []*adminmodels.Admin{
		{PrincipalID: superAdmin, Role: adminmodels.RoleAdmin, IsActive: true},
		{PrincipalID: moderator, Role: adminmodels.RoleModerator, IsActive: true},
		{PrincipalID: retired, Role: adminmodels.RoleAdmin, IsActive: false},
	} {
		s.Require().NoError(s.admins.Create(s.ctx, a))
	}
}

// recordSends accepts every send, failing for the given principals.
func (s *ModerationSuite) recordSends(failures map[domain.PrincipalID]error) {
	s.sender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, to domain.PrincipalID, msg notify.Message) error {
			if err, ok := failures[to]; ok {
				return err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			s.sent = append(s.sent, sent{to: to, msg: msg})
			return nil
		}).AnyTimes()
}

func (s *ModerationSuite) recordEvents() {
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, evt events.Event) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.published = append(s.published, evt)
			return nil
		}).AnyTimes()
}

func (s *ModerationSuite) sentTo(p domain.PrincipalID) []notify.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notify.Message
	for _, m := range s.sent {
		if m.to == p {
			out = append(out, m.msg)
		}
	}
	return out
}

func (s *ModerationSuite) seedRegistration(p domain.PrincipalID, status regmodels.Status) *regmodels.Registration {
	reg := &regmodels.Registration{
		PrincipalID: p,
		FullName:    "Ivan Petrov",
		WeaponType:  "Sabre",
		Category:    "Adult",
		AgeGroup:    "19+",
		Phone:       "+79991234567",
		Experience:  "5 years",
		Status:      status,
		CreatedAt:   s.now,
		UpdatedAt:   s.now,
	}
	s.Require().NoError(s.regs.Create(s.ctx, reg))
	return reg
}

func (s *ModerationSuite) requireCode(err error, code dErrors.Code) {
	s.T().Helper()
	s.Require().Error(err)
	s.Equal(code, dErrors.CodeOf(err), err.Error())
}

func (s *ModerationSuite) TestAuthorize() {
	s.Run("unknown principal", func() {
		_, err := s.service.Authorize(s.ctx, stranger, adminmodels.RoleModerator)
		s.requireCode(err, dErrors.CodeForbidden)
		s.Equal("access denied", dErrors.Message(err))
	})
	s.Run("deactivated admin", func() {
		_, err := s.service.Authorize(s.ctx, retired, adminmodels.RoleModerator)
		s.requireCode(err, dErrors.CodeForbidden)
	})
	s.Run("moderator lacks admin role", func() {
		_, err := s.service.Authorize(s.ctx, moderator, adminmodels.RoleAdmin)
		s.requireCode(err, dErrors.CodeForbidden)
	})
	s.Run("admin includes moderator", func() {
		a, err := s.service.Authorize(s.ctx, superAdmin, adminmodels.RoleModerator)
		s.Require().NoError(err)
		s.Equal(superAdmin, a.PrincipalID)
	})
	s.Equal(3.0, promtest.ToFloat64(s.metrics.Denials.WithLabelValues("moderator"))+
		promtest.ToFloat64(s.metrics.Denials.WithLabelValues("admin")))
}

func (s *ModerationSuite) TestSubmitAlertsEveryActiveAdmin() {
	s.recordSends(nil)
	s.recordEvents()

	reg := &regmodels.Registration{
		PrincipalID: applicantID, Username: "ivan", FullName: "Ivan Petrov", WeaponType: "Sabre",
		Category: "Adult", AgeGroup: "19+", Phone: "+79991234567", Experience: "5 years",
		CreatedAt: s.now, UpdatedAt: s.now,
	}
	s.Require().NoError(s.service.Submit(s.ctx, reg))
	s.NotZero(reg.ID)
	s.Equal(regmodels.StatusPending, reg.Status)

	for _, admin := range []domain.PrincipalID{superAdmin, moderator} {
		msgs := s.sentTo(admin)
		s.Require().Len(msgs, 1, "admin %d", admin)
		s.Contains(msgs[0].Text, "Ivan Petrov")
		s.Contains(msgs[0].Text, "@ivan")
		s.Equal([]notify.Button{
			{Text: "Confirm", Data: "confirm:" + reg.ID.String()},
			{Text: "Reject", Data: "reject:" + reg.ID.String()},
		}, msgs[0].Buttons)
	}
	s.Empty(s.sentTo(retired))

	s.Require().Len(s.published, 1)
	s.Equal(events.TypeSubmitted, s.published[0].Type)
	s.Equal(reg.ID, s.published[0].RegistrationID)
}

func (s *ModerationSuite) TestSubmitRejectsNonPending() {
	err := s.service.Submit(s.ctx, &regmodels.Registration{Status: regmodels.StatusConfirmed})
	s.requireCode(err, dErrors.CodeInvariantViolation)
}

func (s *ModerationSuite) TestConfirmUnknownRegistrationHasNoSideEffects() {
	// No sender or publisher expectations: any call fails the test.
	_, err := s.service.Confirm(s.ctx, moderator, 404)
	s.requireCode(err, dErrors.CodeNotFound)

	n, err := s.outbox.CountByStatus(s.ctx, outboxmodels.StatusPending)
	s.Require().NoError(err)
	s.Zero(n)

	_, err = s.service.Reject(s.ctx, moderator, 404, "nope")
	s.requireCode(err, dErrors.CodeNotFound)
}

func (s *ModerationSuite) TestConfirmNotifiesApplicant() {
	s.recordSends(nil)
	s.recordEvents()
	reg := s.seedRegistration(applicantID, regmodels.StatusPending)
	s.now = s.now.Add(time.Hour)

	decided, err := s.service.Confirm(s.ctx, moderator, reg.ID)
	s.Require().NoError(err)
	s.Equal(regmodels.StatusConfirmed, decided.Status)

	stored, err := s.regs.FindByID(s.ctx, reg.ID)
	s.Require().NoError(err)
	s.Equal(regmodels.StatusConfirmed, stored.Status)
	s.True(stored.UpdatedAt.Equal(s.now))

	msgs := s.sentTo(applicantID)
	s.Require().Len(msgs, 1)
	s.Contains(msgs[0].Text, "confirmed")

	s.Require().Len(s.published, 1)
	s.Equal(events.TypeConfirmed, s.published[0].Type)
	s.Equal(moderator, s.published[0].Actor)
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Decisions.WithLabelValues("confirmed")))
}

func (s *ModerationSuite) TestRejectCarriesComment() {
	s.recordSends(nil)
	s.recordEvents()
	reg := s.seedRegistration(applicantID, regmodels.StatusPending)

	decided, err := s.service.Reject(s.ctx, superAdmin, reg.ID, "  age group is full ")
	s.Require().NoError(err)
	s.Equal(regmodels.StatusRejected, decided.Status)
	s.Equal("age group is full", decided.AdminComment)

	msgs := s.sentTo(applicantID)
	s.Require().Len(msgs, 1)
	s.Contains(msgs[0].Text, "rejected")
	s.Contains(msgs[0].Text, "age group is full")
	s.Equal(events.TypeRejected, s.published[0].Type)
}

func (s *ModerationSuite) TestDecidedRegistrationIsAlreadyProcessed() {
	s.recordSends(nil)
	s.recordEvents()
	reg := s.seedRegistration(applicantID, regmodels.StatusConfirmed)

	_, err := s.service.Reject(s.ctx, moderator, reg.ID, "")
	s.requireCode(err, dErrors.CodeAlreadyProcessed)
	s.Empty(s.sentTo(applicantID))

	s.Run("override allowed by configuration", func() {
		dispatcher := notify.NewDispatcher(s.sender, 0)
		relay := outbox.NewRelay(s.outbox, dispatcher, outbox.Policy{})
		svc := moderation.New(s.regs, s.admins, relay, dispatcher,
			moderation.WithPublisher(s.publisher), moderation.WithAllowOverride(true))

		decided, err := svc.Reject(s.ctx, moderator, reg.ID, "changed our mind")
		s.Require().NoError(err)
		s.Equal(regmodels.StatusRejected, decided.Status)
	})
}

// lockstepStore holds every FindByID until both racing decisions have read
// the registration, so both observe it as pending.
type lockstepStore struct {
	*regstore.InMemory
	reads *sync.WaitGroup
}

func (l lockstepStore) FindByID(ctx context.Context, id domain.RegistrationID) (*regmodels.Registration, error) {
	reg, err := l.InMemory.FindByID(ctx, id)
	l.reads.Done()
	l.reads.Wait()
	return reg, err
}

func (s *ModerationSuite) TestConcurrentDecisionsOnlyOneWins() {
	s.recordSends(nil)
	s.recordEvents()
	reg := s.seedRegistration(applicantID, regmodels.StatusPending)

	var reads sync.WaitGroup
	reads.Add(2)
	dispatcher := notify.NewDispatcher(s.sender, 0)
	relay := outbox.NewRelay(s.outbox, dispatcher, outbox.Policy{MaxAttempts: 3},
		outbox.WithClock(func() time.Time { return s.now }))
	svc := moderation.New(lockstepStore{InMemory: s.regs, reads: &reads}, s.admins, relay, dispatcher,
		moderation.WithPublisher(s.publisher),
		moderation.WithClock(func() time.Time { return s.now }),
	)

	errs := make([]error, 2)
	var done sync.WaitGroup
	done.Add(2)
	go func() {
		defer done.Done()
		_, errs[0] = svc.Confirm(s.ctx, superAdmin, reg.ID)
	}()
	go func() {
		defer done.Done()
		_, errs[1] = svc.Reject(s.ctx, moderator, reg.ID, "no")
	}()
	done.Wait()

	var winner regmodels.Status
	switch {
	case errs[0] == nil && errs[1] != nil:
		winner = regmodels.StatusConfirmed
		s.requireCode(errs[1], dErrors.CodeAlreadyProcessed)
	case errs[1] == nil && errs[0] != nil:
		winner = regmodels.StatusRejected
		s.requireCode(errs[0], dErrors.CodeAlreadyProcessed)
	default:
		s.FailNow("exactly one decision must succeed", "confirm: %v, reject: %v", errs[0], errs[1])
	}

	stored, err := s.regs.FindByID(s.ctx, reg.ID)
	s.Require().NoError(err)
	s.Equal(winner, stored.Status)
	s.Len(s.sentTo(applicantID), 1, "applicant hears about one decision only")
	queued, err := s.outbox.CountByStatus(s.ctx, outboxmodels.StatusPending)
	s.Require().NoError(err)
	s.Zero(queued)
}

func (s *ModerationSuite) TestNotificationFailureKeepsDecision() {
	s.recordSends(map[domain.PrincipalID]error{applicantID: errors.New("telegram: bad gateway")})
	s.recordEvents()
	reg := s.seedRegistration(applicantID, regmodels.StatusPending)

	_, err := s.service.Confirm(s.ctx, moderator, reg.ID)
	s.Require().NoError(err)

	stored, err := s.regs.FindByID(s.ctx, reg.ID)
	s.Require().NoError(err)
	s.Equal(regmodels.StatusConfirmed, stored.Status)

	pending, err := s.outbox.CountByStatus(s.ctx, outboxmodels.StatusPending)
	s.Require().NoError(err)
	s.Equal(1, pending, "notification left for retry")
}

func (s *ModerationSuite) TestPublishFailureIsNotFatal() {
	s.recordSends(nil)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))
	reg := s.seedRegistration(applicantID, regmodels.StatusPending)

	_, err := s.service.Confirm(s.ctx, moderator, reg.ID)
	s.NoError(err)
}

func (s *ModerationSuite) TestDeniedDecisionHasNoSideEffects() {
	reg := s.seedRegistration(applicantID, regmodels.StatusPending)

	for _, actor := range []domain.PrincipalID{stranger, retired, applicantID} {
		_, err := s.service.Confirm(s.ctx, actor, reg.ID)
		s.requireCode(err, dErrors.CodeForbidden)
	}
	stored, err := s.regs.FindByID(s.ctx, reg.ID)
	s.Require().NoError(err)
	s.Equal(regmodels.StatusPending, stored.Status)
}

func (s *ModerationSuite) TestListAndGet() {
	first := s.seedRegistration(applicantID, regmodels.StatusPending)
	s.now = s.now.Add(time.Minute)
	second := s.seedRegistration(applicantID+1, regmodels.StatusPending)
	s.seedRegistration(applicantID+2, regmodels.StatusRejected)

	pending, err := s.service.ListPending(s.ctx, moderator)
	s.Require().NoError(err)
	s.Require().Len(pending, 2)
	s.Equal(second.ID, pending[0].ID, "newest first")
	s.Equal(first.ID, pending[1].ID)

	all, err := s.service.ListByStatus(s.ctx, moderator, "")
	s.Require().NoError(err)
	s.Len(all, 3)

	_, err = s.service.ListByStatus(s.ctx, moderator, "archived")
	s.requireCode(err, dErrors.CodeValidation)

	got, err := s.service.Get(s.ctx, moderator, first.ID)
	s.Require().NoError(err)
	s.Equal("Ivan Petrov", got.FullName)

	_, err = s.service.Get(s.ctx, moderator, 404)
	s.requireCode(err, dErrors.CodeNotFound)

	_, err = s.service.ListPending(s.ctx, stranger)
	s.requireCode(err, dErrors.CodeForbidden)
}

func (s *ModerationSuite) TestAddAdmin() {
	s.recordSends(nil)

	_, err := s.service.AddAdmin(s.ctx, moderator, 50, "moderator", "")
	s.requireCode(err, dErrors.CodeForbidden)

	_, err = s.service.AddAdmin(s.ctx, superAdmin, 50, "owner", "")
	s.requireCode(err, dErrors.CodeValidation)

	_, err = s.service.AddAdmin(s.ctx, superAdmin, moderator, "admin", "")
	s.requireCode(err, dErrors.CodeConflict)

	_, err = s.service.AddAdmin(s.ctx, superAdmin, retired, "admin", "")
	s.requireCode(err, dErrors.CodeConflict)
	s.Contains(dErrors.Message(err), "reactivate")

	_, err = s.service.AddAdmin(s.ctx, superAdmin, 0, "", "")
	s.requireCode(err, dErrors.CodeInvalidInput)

	added, err := s.service.AddAdmin(s.ctx, superAdmin, 50, "", "Anna")
	s.Require().NoError(err)
	s.Equal(adminmodels.RoleModerator, added.Role)
	s.Equal(superAdmin, added.CreatedBy)
	s.Require().Len(s.sentTo(50), 1)
	s.Contains(s.sentTo(50)[0].Text, "moderator")

	_, err = s.service.Authorize(s.ctx, 50, adminmodels.RoleModerator)
	s.NoError(err)
}

func (s *ModerationSuite) TestReactivateAdmin() {
	s.recordSends(nil)

	_, err := s.service.ReactivateAdmin(s.ctx, superAdmin, stranger, "")
	s.requireCode(err, dErrors.CodeNotFound)

	_, err = s.service.ReactivateAdmin(s.ctx, superAdmin, moderator, "")
	s.requireCode(err, dErrors.CodeConflict)

	a, err := s.service.ReactivateAdmin(s.ctx, superAdmin, retired, "moderator")
	s.Require().NoError(err)
	s.True(a.IsActive)
	s.Equal(adminmodels.RoleModerator, a.Role)

	_, err = s.service.Authorize(s.ctx, retired, adminmodels.RoleAdmin)
	s.requireCode(err, dErrors.CodeForbidden)
	_, err = s.service.Authorize(s.ctx, retired, adminmodels.RoleModerator)
	s.NoError(err)
}

func (s *ModerationSuite) TestRemoveAdmin() {
	s.Run("self removal always fails", func() {
		err := s.service.RemoveAdmin(s.ctx, superAdmin, superAdmin)
		s.Require().Error(err)
		err = s.service.RemoveAdmin(s.ctx, moderator, moderator)
		s.Require().Error(err)
		_, err = s.service.Authorize(s.ctx, superAdmin, adminmodels.RoleAdmin)
		s.NoError(err)
	})

	err := s.service.RemoveAdmin(s.ctx, superAdmin, stranger)
	s.requireCode(err, dErrors.CodeNotFound)

	s.Require().NoError(s.service.RemoveAdmin(s.ctx, superAdmin, moderator))
	_, err = s.service.Authorize(s.ctx, moderator, adminmodels.RoleModerator)
	s.requireCode(err, dErrors.CodeForbidden)

	s.NoError(s.service.RemoveAdmin(s.ctx, superAdmin, moderator), "already inactive is a no-op")
}

func (s *ModerationSuite) TestListAdmins() {
	admins, err := s.service.ListAdmins(s.ctx, superAdmin)
	s.Require().NoError(err)
	s.Len(admins, 3)

	_, err = s.service.ListAdmins(s.ctx, moderator)
	s.requireCode(err, dErrors.CodeForbidden)
}

func (s *ModerationSuite) TestNotifyAll() {
	s.recordSends(map[domain.PrincipalID]error{
		applicantID + 1: notify.ErrUndeliverable,
		applicantID + 2: errors.New("network down"),
	})
	s.seedRegistration(applicantID, regmodels.StatusPending)
	s.seedRegistration(applicantID, regmodels.StatusRejected)
	s.seedRegistration(applicantID+1, regmodels.StatusConfirmed)
	s.seedRegistration(applicantID+2, regmodels.StatusPending)

	res, err := s.service.NotifyAll(s.ctx, moderator, "Doors open at 9:00")
	s.Require().NoError(err)
	s.Equal(notify.BroadcastResult{Delivered: 1, Failed: 2, Skipped: 1}, res)
	s.Require().Len(s.sentTo(applicantID), 1, "each principal once")
	s.Contains(s.sentTo(applicantID)[0].Text, "Doors open at 9:00")
	s.Empty(s.sentTo(superAdmin), "admins are not recipients")

	_, err = s.service.NotifyAll(s.ctx, moderator, "   ")
	s.requireCode(err, dErrors.CodeValidation)

	_, err = s.service.NotifyAll(s.ctx, stranger, "hello")
	s.requireCode(err, dErrors.CodeForbidden)
}

func (s *ModerationSuite) TestStats() {
	s.seedRegistration(applicantID, regmodels.StatusPending)
	s.seedRegistration(applicantID+1, regmodels.StatusConfirmed)

	stats, err := s.service.Stats(s.ctx, moderator)
	s.Require().NoError(err)
	s.Equal(2, stats.Total)
	s.Equal(1, stats.ByStatus[regmodels.StatusConfirmed])
}

func (s *ModerationSuite) TestEnsureSuperAdmins() {
	s.Require().NoError(s.admins.SetActive(s.ctx, moderator, true, adminmodels.RoleModerator))

	s.Require().NoError(s.service.EnsureSuperAdmins(s.ctx, []domain.PrincipalID{superAdmin, moderator, retired, 77, 0}))

	for _, p := range []domain.PrincipalID{superAdmin, moderator, retired, 77} {
		a, err := s.admins.FindByPrincipal(s.ctx, p)
		s.Require().NoError(err)
		s.True(a.IsActive, "principal %d", p)
		s.Equal(adminmodels.RoleAdmin, a.Role, "principal %d", p)
	}
	created, err := s.admins.FindByPrincipal(s.ctx, 77)
	s.Require().NoError(err)
	s.Equal(adminmodels.SystemPrincipal, created.CreatedBy)

	s.Require().NoError(s.service.EnsureSuperAdmins(s.ctx, []domain.PrincipalID{77}), "idempotent")
}

func (s *ModerationSuite) TestParseCallback() {
	action, id, ok := moderation.ParseCallback("confirm:12")
	s.True(ok)
	s.Equal("confirm", action)
	s.Equal(domain.RegistrationID(12), id)

	action, _, ok = moderation.ParseCallback("reject:7")
	s.True(ok)
	s.Equal("reject", action)

	for _, data := range []string{"confirm:", "confirm:abc", "approve:1", "reject:-3", ""} {
		_, _, ok := moderation.ParseCallback(data)
		s.False(ok, data)
	}
}
