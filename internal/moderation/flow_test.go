package moderation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adminmodels "regdesk/internal/admin/models"
	adminstore "regdesk/internal/admin/store"
	"regdesk/internal/conversation"
	convmodels "regdesk/internal/conversation/models"
	convstore "regdesk/internal/conversation/store"
	"regdesk/internal/moderation"
	"regdesk/internal/notify"
	"regdesk/internal/outbox"
	outboxstore "regdesk/internal/outbox/store"
	"regdesk/internal/platform/config"
	regmodels "regdesk/internal/registration/models"
	regstore "regdesk/internal/registration/store"
	"regdesk/internal/validation"
	"regdesk/pkg/domain"
)

// inbox is a Sender that keeps everything it is given.
type inbox struct {
	mu   sync.Mutex
	msgs map[domain.PrincipalID][]notify.Message
}

func (b *inbox) Send(_ context.Context, to domain.PrincipalID, msg notify.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.msgs == nil {
		b.msgs = make(map[domain.PrincipalID][]notify.Message)
	}
	b.msgs[to] = append(b.msgs[to], msg)
	return nil
}

func (b *inbox) last(p domain.PrincipalID) notify.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.msgs[p]
	if len(msgs) == 0 {
		return notify.Message{}
	}
	return msgs[len(msgs)-1]
}

func TestApplicationLifecycle(t *testing.T) {
	ctx := context.Background()
	regs := regstore.NewInMemory()
	admins := adminstore.NewInMemory()
	box := &inbox{}
	dispatcher := notify.NewDispatcher(box, 0)
	relay := outbox.NewRelay(outboxstore.NewInMemory(), dispatcher, outbox.Policy{MaxAttempts: 3, BaseBackoff: time.Second})
	svc := moderation.New(regs, admins, relay, dispatcher)
	engine := conversation.New(convstore.NewInMemory(), regs, svc, validation.NewRules(config.Default()))

	require.NoError(t, admins.Create(ctx, &adminmodels.Admin{
		PrincipalID: superAdmin, Role: adminmodels.RoleAdmin, IsActive: true,
	}))

	say := func(in convmodels.Inbound) convmodels.Reply {
		t.Helper()
		reply, err := engine.HandleInbound(ctx, applicantID, in)
		require.NoError(t, err)
		return reply
	}
	say(convmodels.Inbound{Command: convmodels.CommandStart, Username: "ivanp"})
	for _, text := range []string{"Ivan Petrov", "Sabre", "Adult", "19+", "89991234567", "5 years"} {
		say(convmodels.Inbound{Text: text, Username: "ivanp"})
	}
	reply := say(convmodels.Inbound{Text: "Yes", Username: "ivanp"})
	assert.Contains(t, reply.Text, "#1")

	alert := box.last(superAdmin)
	assert.Contains(t, alert.Text, "Ivan Petrov")
	assert.Contains(t, alert.Text, "+79991234567")
	require.Len(t, alert.Buttons, 2)

	action, id, ok := moderation.ParseCallback(alert.Buttons[0].Data)
	require.True(t, ok)
	assert.Equal(t, "confirm", action)

	_, err := svc.Confirm(ctx, superAdmin, id)
	require.NoError(t, err)
	assert.Contains(t, box.last(applicantID).Text, "confirmed")

	stored, err := regs.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, regmodels.StatusConfirmed, stored.Status)
	assert.Equal(t, "ivanp", stored.Username)
}
