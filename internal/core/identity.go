package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/edvin/fleet/internal/crypto"
)

// Principal kinds.
const (
	PrincipalOperator   = "operator"
	PrincipalNode       = "node"
	PrincipalAutomation = "automation"
)

const touchTimeout = 5 * time.Second

// Principal is the authenticated caller of a request.
type Principal struct {
	Kind      string
	ID        string
	Name      string
	Admin     bool
	SessionID string
}

// IdentityGuard turns presented credentials into principals.
type IdentityGuard struct {
	db        DB
	operators *OperatorService
	keys      *APIKeyService
}

func NewIdentityGuard(db DB, operators *OperatorService, keys *APIKeyService) *IdentityGuard {
	return &IdentityGuard{db: db, operators: operators, keys: keys}
}

// OperatorSession validates a dashboard session token.
func (g *IdentityGuard) OperatorSession(ctx context.Context, token string, requireAdmin bool) (*Principal, error) {
	p, err := g.operators.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	if requireAdmin && !p.Admin {
		return nil, fmt.Errorf("%w: administrator role required", ErrForbidden)
	}
	return p, nil
}

// NodeToken validates an "Authorization: Bearer <token>" header against the
// registered node tokens.
func (g *IdentityGuard) NodeToken(ctx context.Context, header string) (*Principal, error) {
	token, ok := BearerToken(header)
	if !ok {
		return nil, fmt.Errorf("%w: missing or malformed authorization header", ErrUnauthorized)
	}

	p := &Principal{Kind: PrincipalNode}
	err := g.db.QueryRow(ctx, `SELECT id, name FROM nodes WHERE token_hash = $1`, crypto.Fingerprint(token)).
		Scan(&p.ID, &p.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: invalid node token", ErrUnauthorized)
	}
	if err != nil {
		return nil, fmt.Errorf("look up node token: %w", err)
	}
	return p, nil
}

// AutomationKey validates an "Authorization: Bearer <key>" header against the
// automation keys. On success the key's last-used time is updated in the
// background; a failed update never fails the request.
func (g *IdentityGuard) AutomationKey(ctx context.Context, header string) (*Principal, error) {
	key, ok := BearerToken(header)
	if !ok {
		return nil, fmt.Errorf("%w: missing or malformed authorization header", ErrUnauthorized)
	}

	p := &Principal{Kind: PrincipalAutomation}
	err := g.db.QueryRow(ctx, `SELECT id, name FROM api_keys WHERE key_hash = $1`, crypto.Fingerprint(key)).
		Scan(&p.ID, &p.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: invalid API key", ErrUnauthorized)
	}
	if err != nil {
		return nil, fmt.Errorf("look up api key: %w", err)
	}

	logger := zerolog.Ctx(ctx)
	go func(id string) {
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), touchTimeout)
		defer cancel()
		if err := g.keys.Touch(tctx, id); err != nil {
			logger.Warn().Err(err).Str("api_key_id", id).Msg("failed to update api key last use")
		}
	}(p.ID)

	return p, nil
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
