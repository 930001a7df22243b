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
)

func newTestGuard(db DB) *IdentityGuard {
	return NewIdentityGuard(db, newTestOperatorService(db), NewAPIKeyService(db))
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"  Bearer   abc  ", "abc", true},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"abc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		token, ok := BearerToken(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.token, token, tt.header)
	}
}

// ---------- NodeToken ----------

func TestIdentityGuard_NodeToken(t *testing.T) {
	db := &mockDB{}
	g := newTestGuard(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{crypto.Fingerprint("tok")}).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*string)) = "n1"
			*(dest[1].(*string)) = "edge-1"
			return nil
		}})

	p, err := g.NodeToken(ctx, "Bearer tok")
	require.NoError(t, err)
	assert.Equal(t, PrincipalNode, p.Kind)
	assert.Equal(t, "n1", p.ID)
}

func TestIdentityGuard_NodeToken_Rejects(t *testing.T) {
	db := &mockDB{}
	g := newTestGuard(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(errRow(pgx.ErrNoRows))

	_, err := g.NodeToken(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = g.NodeToken(ctx, "Token tok")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = g.NodeToken(ctx, "Bearer unknown")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestIdentityGuard_NodeToken_StoreError(t *testing.T) {
	db := &mockDB{}
	g := newTestGuard(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(errRow(errors.New("db down")))

	_, err := g.NodeToken(ctx, "Bearer tok")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

// ---------- AutomationKey ----------

func TestIdentityGuard_AutomationKey_TouchesLastUsed(t *testing.T) {
	db := &mockDB{}
	g := newTestGuard(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{crypto.Fingerprint("key")}).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*string)) = "k1"
			*(dest[1].(*string)) = "ci"
			return nil
		}})
	touched := make(chan struct{})
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), []any{"k1"}).
		Run(func(mock.Arguments) { close(touched) }).
		Return(pgconn.CommandTag{}, nil)

	p, err := g.AutomationKey(ctx, "Bearer key")
	require.NoError(t, err)
	assert.Equal(t, PrincipalAutomation, p.Kind)
	assert.Equal(t, "k1", p.ID)

	select {
	case <-touched:
	case <-time.After(2 * time.Second):
		t.Fatal("last_used_at was not updated")
	}
}

func TestIdentityGuard_AutomationKey_TouchFailureIgnored(t *testing.T) {
	db := &mockDB{}
	g := newTestGuard(db)
	ctx, cancel := context.WithCancel(context.Background())

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*string)) = "k1"
			return nil
		}})
	touched := make(chan struct{})
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(a mock.Arguments) {
			// The update outlives the request context.
			assert.NoError(t, a.Get(0).(context.Context).Err())
			close(touched)
		}).
		Return(pgconn.CommandTag{}, errors.New("db down"))

	_, err := g.AutomationKey(ctx, "Bearer key")
	cancel()
	require.NoError(t, err)

	select {
	case <-touched:
	case <-time.After(2 * time.Second):
		t.Fatal("last_used_at update was not attempted")
	}
}

func TestIdentityGuard_AutomationKey_Unknown(t *testing.T) {
	db := &mockDB{}
	g := newTestGuard(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(errRow(pgx.ErrNoRows))

	_, err := g.AutomationKey(ctx, "Bearer nope")
	assert.ErrorIs(t, err, ErrUnauthorized)
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

// ---------- OperatorSession ----------

func TestIdentityGuard_OperatorSession_RequireAdmin(t *testing.T) {
	db := &mockDB{}
	g := newTestGuard(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(sessionRow("op-1", false))
	token := signSession(t, testSessionSecret, "sess-1", "op-1", time.Now().Add(time.Hour))

	p, err := g.OperatorSession(ctx, token, false)
	require.NoError(t, err)
	assert.Equal(t, "op-1", p.ID)

	_, err = g.OperatorSession(ctx, token, true)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestIdentityGuard_OperatorSession_Missing(t *testing.T) {
	g := newTestGuard(&mockDB{})

	_, err := g.OperatorSession(context.Background(), "", true)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
