package moderation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	adminmodels "regdesk/internal/admin/models"
	adminstore "regdesk/internal/admin/store"
	"regdesk/internal/moderation"
	"regdesk/internal/notify"
	notifymocks "regdesk/internal/notify/mocks"
	"regdesk/internal/outbox"
	outboxmodels "regdesk/internal/outbox/models"
	outboxstore "regdesk/internal/outbox/store"
	regmodels "regdesk/internal/registration/models"
	regstore "regdesk/internal/registration/store"
	"regdesk/internal/platform/database"
	"regdesk/internal/platform/database/dbtest"
	dErrors "regdesk/pkg/domain-errors"
)

// brokenOutbox fails every enqueue so the surrounding transaction rolls back.
type brokenOutbox struct{}

func (brokenOutbox) Enqueue(context.Context, ...*outboxmodels.Entry) error {
	return errors.New("disk full")
}

func (brokenOutbox) Flush(context.Context) (outbox.FlushResult, error) {
	return outbox.FlushResult{}, nil
}

func newSQLiteService(t *testing.T, ob func(*outboxstore.SQL, *notify.Dispatcher) moderation.Outbox) (*moderation.Service, *regstore.SQL, *outboxstore.SQL, *notifymocks.MockSender) {
	t.Helper()
	db := dbtest.NewSQLite(t)
	regs := regstore.NewSQL(db)
	admins := adminstore.NewSQL(db)
	entries := outboxstore.NewSQL(db)

	ctx := context.Background()
	require.NoError(t, admins.Create(ctx, &adminmodels.Admin{
		PrincipalID: superAdmin, Role: adminmodels.RoleAdmin, IsActive: true, CreatedAt: time.Now(),
	}))

	sender := notifymocks.NewMockSender(gomock.NewController(t))
	dispatcher := notify.NewDispatcher(sender, 0)
	svc := moderation.New(regs, admins, ob(entries, dispatcher), dispatcher,
		moderation.WithTxRunner(database.NewTxRunner(db, 5*time.Second)))
	return svc, regs, entries, sender
}

func TestSQLiteDecisionCommitsAndDelivers(t *testing.T) {
	svc, regs, entries, sender := newSQLiteService(t, func(s *outboxstore.SQL, d *notify.Dispatcher) moderation.Outbox {
		return outbox.NewRelay(s, d, outbox.Policy{MaxAttempts: 3, BaseBackoff: time.Second})
	})
	ctx := context.Background()

	sender.EXPECT().Send(gomock.Any(), superAdmin, gomock.Any()).Return(nil)
	reg := &regmodels.Registration{
		PrincipalID: applicantID, FullName: "Ivan Petrov", WeaponType: "Sabre", Category: "Adult",
		AgeGroup: "19+", Phone: "+79991234567", Experience: "5 years",
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, svc.Submit(ctx, reg))

	sender.EXPECT().Send(gomock.Any(), applicantID, gomock.Any()).Return(nil)
	_, err := svc.Confirm(ctx, superAdmin, reg.ID)
	require.NoError(t, err)

	stored, err := regs.FindByID(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, regmodels.StatusConfirmed, stored.Status)

	delivered, err := entries.CountByStatus(ctx, outboxmodels.StatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)
}

func TestSQLiteEnqueueFailureRollsBack(t *testing.T) {
	svc, regs, _, _ := newSQLiteService(t, func(*outboxstore.SQL, *notify.Dispatcher) moderation.Outbox {
		return brokenOutbox{}
	})
	ctx := context.Background()

	err := svc.Submit(ctx, &regmodels.Registration{
		PrincipalID: applicantID, FullName: "Ivan Petrov", WeaponType: "Sabre", Category: "Adult",
		AgeGroup: "19+", Phone: "+79991234567", Experience: "5 years",
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	})
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeUnavailable, dErrors.CodeOf(err))

	all, err := regs.ListByStatus(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, all, "registration must not survive a failed enqueue")

	principals, err := regs.DistinctPrincipals(ctx)
	require.NoError(t, err)
	assert.Empty(t, principals)
}
