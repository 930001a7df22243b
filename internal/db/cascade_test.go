package db_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/fleet/internal/core"
	"github.com/edvin/fleet/internal/crypto"
	"github.com/edvin/fleet/internal/db"
	"github.com/edvin/fleet/internal/model"
)

// TestRemoveNode_CascadesToLedger runs against a real PostgreSQL database
// and is skipped unless DATABASE_URL is set.
func TestRemoveNode_CascadesToLedger(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()

	require.NoError(t, db.RunMigrations(url))
	pool, err := db.NewPool(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	key, err := crypto.GenerateSealKey()
	require.NoError(t, err)
	sealer, err := crypto.NewSealer(key)
	require.NoError(t, err)
	nodes := core.NewNodeService(pool, sealer)
	ledger := core.NewDeploymentService(pool)

	node, _, err := nodes.Register(ctx, "cascade-"+uuid.NewString()[:8], "10.0.0.5")
	require.NoError(t, err)

	var ids []int64
	for i, name := range []string{"web", "worker"} {
		d, err := ledger.Create(ctx, node.ID, name, "services: {}", nil)
		require.NoError(t, err)
		ids = append(ids, d.ID)
		for j := 0; j < 2+i; j++ {
			require.NoError(t, ledger.AppendLog(ctx, d.ID, model.LogLevelInfo, "line"))
		}
	}

	countRows := func(query string) int {
		var n int
		require.NoError(t, pool.QueryRow(ctx, query, ids).Scan(&n))
		return n
	}
	const deploymentsQuery = `SELECT count(*) FROM deployments WHERE id = ANY($1)`
	const logsQuery = `SELECT count(*) FROM deployment_logs WHERE deployment_id = ANY($1)`
	require.Equal(t, 2, countRows(deploymentsQuery))
	require.Equal(t, 5, countRows(logsQuery))

	require.NoError(t, nodes.Remove(ctx, node.ID))

	assert.Zero(t, countRows(deploymentsQuery))
	assert.Zero(t, countRows(logsQuery))
	_, err = ledger.Get(ctx, ids[0])
	assert.ErrorIs(t, err, core.ErrNotFound)
}
