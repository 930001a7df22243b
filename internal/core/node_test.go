package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/fleet/internal/crypto"
	"github.com/edvin/fleet/internal/model"
)

func newTestSealer(t *testing.T) *crypto.Sealer {
	t.Helper()
	key, err := crypto.GenerateSealKey()
	require.NoError(t, err)
	s, err := crypto.NewSealer(key)
	require.NoError(t, err)
	return s
}

func TestNewNodeService(t *testing.T) {
	db := &mockDB{}
	svc := NewNodeService(db, nil)

	require.NotNil(t, svc)
	assert.Equal(t, db, svc.db)
}

// ---------- Register ----------

func TestNodeService_Register_Success(t *testing.T) {
	db := &mockDB{}
	sealer := newTestSealer(t)
	svc := NewNodeService(db, sealer)
	ctx := context.Background()

	var storedHash, storedSealed, storedStatus string
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			a := args.Get(2).([]any)
			storedHash = a[3].(string)
			storedSealed = a[4].(string)
			storedStatus = a[5].(string)
		}).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*string)) = model.NodeStatusOffline
			*(dest[1].(*time.Time)) = time.Now()
			return nil
		}})

	node, token, err := svc.Register(ctx, " edge-1 ", "10.0.0.5")
	require.NoError(t, err)
	assert.Len(t, token, 64)
	assert.Equal(t, "edge-1", node.Name)
	assert.Equal(t, model.NodeStatusOffline, node.Status)
	assert.Equal(t, model.NodeStatusOffline, storedStatus)
	assert.Nil(t, node.CPUUsage)
	assert.Nil(t, node.LastSeenAt)
	assert.Equal(t, "never seen", node.LastSeenAgo)

	// Only derived forms of the token are persisted.
	assert.NotEqual(t, token, storedHash)
	assert.NotContains(t, storedSealed, token)
	assert.True(t, crypto.Verify(token, storedHash))
	opened, err := sealer.Open(storedSealed)
	require.NoError(t, err)
	assert.Equal(t, token, opened)
	db.AssertExpectations(t)
}

func TestNodeService_Register_DuplicateName(t *testing.T) {
	db := &mockDB{}
	svc := NewNodeService(db, newTestSealer(t))
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(errRow(&pgconn.PgError{Code: pgUniqueViolation}))

	_, _, err := svc.Register(ctx, "edge-1", "10.0.0.5")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestNodeService_Register_MissingFields(t *testing.T) {
	svc := NewNodeService(&mockDB{}, nil)

	_, _, err := svc.Register(context.Background(), "edge-1", "  ")
	assert.ErrorIs(t, err, ErrBadRequest)
}

// ---------- Resolve ----------

func TestNodeService_Resolve_Success(t *testing.T) {
	db := &mockDB{}
	svc := NewNodeService(db, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	ctx := context.Background()

	seen := now.Add(-90 * time.Second)
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"n1"}).
		Return(&mockRow{scanFunc: scanNodeRow("n1", "edge-1", "10.0.0.5", model.NodeStatusOnline, &seen)})

	node, err := svc.Resolve(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "edge-1", node.Name)
	assert.Equal(t, model.NodeStatusOnline, node.Status)
	assert.Equal(t, "1m ago", node.LastSeenAgo)
}

func TestNodeService_Resolve_NotFound(t *testing.T) {
	db := &mockDB{}
	svc := NewNodeService(db, nil)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(errRow(pgx.ErrNoRows))

	_, err := svc.Resolve(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// ---------- List ----------

func TestNodeService_List(t *testing.T) {
	db := &mockDB{}
	svc := NewNodeService(db, nil)
	ctx := context.Background()

	rows := newMockRows(
		scanNodeRow("n2", "edge-2", "10.0.0.6", model.NodeStatusOffline, nil),
		scanNodeRow("n1", "edge-1", "10.0.0.5", model.NodeStatusOnline, nil),
	)
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	nodes, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "n2", nodes[0].ID)
	assert.Equal(t, "never seen", nodes[1].LastSeenAgo)
}

func TestNodeService_List_Empty(t *testing.T) {
	db := &mockDB{}
	svc := NewNodeService(db, nil)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(newEmptyMockRows(), nil)

	nodes, err := svc.List(ctx)
	require.NoError(t, err)
	assert.NotNil(t, nodes)
	assert.Empty(t, nodes)
}

// ---------- RecordHeartbeat ----------

func TestNodeService_RecordHeartbeat_DefaultsToOnline(t *testing.T) {
	db := &mockDB{}
	svc := NewNodeService(db, nil)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"n1", model.NodeStatusOnline, 0.0, 0.0, 0.0}).
		Return(affected(1), nil)

	require.NoError(t, svc.RecordHeartbeat(ctx, "n1", model.Heartbeat{}))
	db.AssertExpectations(t)
}

func TestNodeService_RecordHeartbeat_Telemetry(t *testing.T) {
	db := &mockDB{}
	svc := NewNodeService(db, nil)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"n1", "degraded", 12.5, 40.0, 77.1}).
		Return(affected(1), nil)

	err := svc.RecordHeartbeat(ctx, "n1", model.Heartbeat{Status: "degraded", CPUUsage: 12.5, MemoryUsage: 40, DiskUsage: 77.1})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestNodeService_RecordHeartbeat_NotFound(t *testing.T) {
	db := &mockDB{}
	svc := NewNodeService(db, nil)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(affected(0), nil)

	err := svc.RecordHeartbeat(ctx, "gone", model.Heartbeat{})
	assert.ErrorIs(t, err, ErrNotFound)
}

// ---------- Remove ----------

func TestNodeService_Remove(t *testing.T) {
	db := &mockDB{}
	svc := NewNodeService(db, nil)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"n1"}).Return(affected(1), nil)

	require.NoError(t, svc.Remove(ctx, "n1"))
	db.AssertExpectations(t)
}

func TestNodeService_Remove_NotFound(t *testing.T) {
	db := &mockDB{}
	svc := NewNodeService(db, nil)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(affected(0), nil)

	assert.ErrorIs(t, svc.Remove(ctx, "gone"), ErrNotFound)
}

func TestNodeService_Remove_DBError(t *testing.T) {
	db := &mockDB{}
	svc := NewNodeService(db, nil)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, errors.New("db error"))

	err := svc.Remove(ctx, "n1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete node n1")
}

// ---------- AgentToken ----------

func TestNodeService_AgentToken(t *testing.T) {
	sealer := newTestSealer(t)
	svc := NewNodeService(&mockDB{}, sealer)

	sealed, err := sealer.Seal("node-secret")
	require.NoError(t, err)

	token, err := svc.AgentToken(&model.Node{ID: "n1", TokenSealed: sealed})
	require.NoError(t, err)
	assert.Equal(t, "node-secret", token)

	_, err = svc.AgentToken(&model.Node{ID: "n1", TokenSealed: "garbage"})
	assert.Error(t, err)
}
