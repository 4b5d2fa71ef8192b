package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regdesk/internal/conversation/models"
	"regdesk/internal/conversation/store"
	"regdesk/pkg/domain"
	"regdesk/pkg/platform/sentinel"
)

func TestInMemorySessions(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemory()

	_, err := s.Get(ctx, 1)
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	sess := models.NewSession(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	eventID := domain.EventID(3)
	sess.Draft.EventID = &eventID
	sess.EventOptions = []models.EventOption{{ID: 3, Label: "Cup (2025-02-01)"}}
	require.NoError(t, s.Save(ctx, 1, sess))

	t.Run("stored copy is isolated from the caller", func(t *testing.T) {
		sess.Draft.FullName = "mutated"
		*sess.Draft.EventID = 99
		sess.EventOptions[0].Label = "mutated"

		got, err := s.Get(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, got.Draft.FullName)
		assert.Equal(t, domain.EventID(3), *got.Draft.EventID)
		assert.Equal(t, []string{"Cup (2025-02-01)"}, got.EventLabels())
	})

	require.NoError(t, s.Delete(ctx, 1))
	_, err = s.Get(ctx, 1)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	assert.NoError(t, s.Delete(ctx, 1), "deleting a missing session is fine")
}
