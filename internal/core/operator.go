package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"

	"github.com/edvin/fleet/internal/crypto"
	"github.com/edvin/fleet/internal/model"
	"github.com/edvin/fleet/internal/platform"
)

// MinPasswordLength is the shortest operator password accepted.
const MinPasswordLength = 8

var errInvalidCredentials = fmt.Errorf("%w: invalid username or password", ErrUnauthorized)

// OperatorService manages operator accounts and their dashboard sessions.
//
// A session is a row in operator_sessions; the cookie carries an HS256 JWT
// whose jti names that row. Deleting the row revokes the session even while
// the JWT itself is still within its expiry.
type OperatorService struct {
	db     DB
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewOperatorService(db DB, secret []byte, ttl time.Duration) *OperatorService {
	return &OperatorService{db: db, secret: secret, ttl: ttl, now: time.Now}
}

// Session is an issued operator session.
type Session struct {
	ID        string
	Token     string
	ExpiresAt time.Time
}

// registerLockKey is the advisory lock key that serialises self sign-up.
const registerLockKey int64 = 0x666c656574

// Register creates an operator account through self sign-up. The first
// account on an empty system becomes an administrator. Sign-ups hold a
// transaction-scoped advisory lock so two concurrent requests cannot both
// see an empty operators table.
func (s *OperatorService) Register(ctx context.Context, username, password string) (*model.Operator, error) {
	op, err := s.newOperator(username, password)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("create operator %s: begin: %w", op.Username, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, registerLockKey); err != nil {
		return nil, fmt.Errorf("create operator %s: lock: %w", op.Username, err)
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO operators (id, username, password_hash, is_admin)
		 VALUES ($1, $2, $3, NOT EXISTS (SELECT 1 FROM operators))
		 RETURNING is_admin, created_at`,
		op.ID, op.Username, op.PasswordHash,
	).Scan(&op.IsAdmin, &op.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create operator %s: %w", op.Username, classify(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("create operator %s: commit: %w", op.Username, err)
	}
	return op, nil
}

// Create adds an operator with an explicit admin flag. Used by the CLI.
func (s *OperatorService) Create(ctx context.Context, username, password string, admin bool) (*model.Operator, error) {
	op, err := s.newOperator(username, password)
	if err != nil {
		return nil, err
	}
	err = s.db.QueryRow(ctx,
		`INSERT INTO operators (id, username, password_hash, is_admin)
		 VALUES ($1, $2, $3, $4)
		 RETURNING is_admin, created_at`,
		op.ID, op.Username, op.PasswordHash, admin,
	).Scan(&op.IsAdmin, &op.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create operator %s: %w", op.Username, classify(err))
	}
	return op, nil
}

// newOperator validates the credentials and hashes the password.
func (s *OperatorService) newOperator(username, password string) (*model.Operator, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("create operator: %w: username is required", ErrBadRequest)
	}
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("create operator: %w: password must be at least %d characters", ErrBadRequest, MinPasswordLength)
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("create operator %s: %w", username, err)
	}
	return &model.Operator{ID: platform.NewID(), Username: username, PasswordHash: hash}, nil
}

// Login verifies the credentials and opens a new session.
func (s *OperatorService) Login(ctx context.Context, username, password string) (*model.Operator, *Session, error) {
	var op model.Operator
	err := s.db.QueryRow(ctx,
		`SELECT id, username, password_hash, is_admin, created_at FROM operators WHERE username = $1`,
		strings.TrimSpace(username),
	).Scan(&op.ID, &op.Username, &op.PasswordHash, &op.IsAdmin, &op.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, errInvalidCredentials
	}
	if err != nil {
		return nil, nil, fmt.Errorf("login %s: %w", username, err)
	}
	if !crypto.VerifyPassword(password, op.PasswordHash) {
		return nil, nil, errInvalidCredentials
	}

	sess, err := s.OpenSession(ctx, &op)
	if err != nil {
		return nil, nil, err
	}
	return &op, sess, nil
}

// OpenSession issues a new session for an authenticated operator.
func (s *OperatorService) OpenSession(ctx context.Context, op *model.Operator) (*Session, error) {
	now := s.now()
	sess := &Session{ID: platform.NewID(), ExpiresAt: now.Add(s.ttl)}

	claims := model.SessionClaims{
		Username: op.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sess.ID,
			Subject:   op.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}
	sess.Token = token

	if _, err := s.db.Exec(ctx,
		`INSERT INTO operator_sessions (id, operator_id, expires_at) VALUES ($1, $2, $3)`,
		sess.ID, op.ID, sess.ExpiresAt,
	); err != nil {
		return nil, fmt.Errorf("store session for operator %s: %w", op.ID, err)
	}
	return sess, nil
}

// Authenticate resolves a session token to its operator. The admin flag is
// read from the account, not from the token.
func (s *OperatorService) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing session", ErrUnauthorized)
	}
	var claims model.SessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: invalid session", ErrUnauthorized)
	}

	p := &Principal{Kind: PrincipalOperator, SessionID: claims.ID}
	err = s.db.QueryRow(ctx,
		`SELECT o.id, o.username, o.is_admin
		 FROM operator_sessions s JOIN operators o ON o.id = s.operator_id
		 WHERE s.id = $1 AND s.expires_at > now()`,
		claims.ID,
	).Scan(&p.ID, &p.Name, &p.Admin)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: session expired or revoked", ErrUnauthorized)
	}
	if err != nil {
		return nil, fmt.Errorf("look up session: %w", err)
	}
	if p.ID != claims.Subject {
		return nil, fmt.Errorf("%w: invalid session", ErrUnauthorized)
	}
	return p, nil
}

// Logout revokes the session. Revoking an unknown session is not an error.
func (s *OperatorService) Logout(ctx context.Context, sessionID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM operator_sessions WHERE id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}
