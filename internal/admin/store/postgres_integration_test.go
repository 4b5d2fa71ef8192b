//go:build integration

package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"regdesk/internal/admin/store"
	"regdesk/pkg/testutil/containers"
)

func TestPostgresAdminStore(t *testing.T) {
	pg := containers.GetManager().GetPostgres(t)
	suite.Run(t, &AdminStoreSuite{newStore: func(t *testing.T) Store {
		require.NoError(t, pg.TruncateTables(context.Background(), "admins"))
		return store.NewSQL(pg.DB)
	}})
}
