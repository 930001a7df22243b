package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/edvin/fleet/internal/crypto"
	"github.com/edvin/fleet/internal/model"
	"github.com/edvin/fleet/internal/platform"
)

// APIKeyService manages automation keys.
type APIKeyService struct {
	db DB
}

// NewAPIKeyService creates a new APIKeyService.
func NewAPIKeyService(db DB) *APIKeyService {
	return &APIKeyService{db: db}
}

// Create generates a new key, stores its fingerprint, and returns the model
// along with the raw key. The raw key must be shown to the caller exactly once.
func (s *APIKeyService) Create(ctx context.Context, name string) (*model.APIKey, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", fmt.Errorf("create api key: %w: name is required", ErrBadRequest)
	}
	rawKey, err := crypto.Issue()
	if err != nil {
		return nil, "", fmt.Errorf("generate api key: %w", err)
	}

	key := &model.APIKey{
		ID:      platform.NewID(),
		Name:    name,
		KeyHash: crypto.Fingerprint(rawKey),
	}
	err = s.db.QueryRow(ctx,
		`INSERT INTO api_keys (id, name, key_hash) VALUES ($1, $2, $3) RETURNING created_at`,
		key.ID, key.Name, key.KeyHash,
	).Scan(&key.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("insert api key: %w", classify(err))
	}
	return key, rawKey, nil
}

// List returns all automation keys, newest first.
func (s *APIKeyService) List(ctx context.Context) ([]model.APIKey, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, name, created_at, last_used_at FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := []model.APIKey{}
	for rows.Next() {
		var k model.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.CreatedAt, &k.LastUsedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api keys: %w", err)
	}
	return keys, nil
}

// Delete removes the key. Requests presenting it fail from then on.
func (s *APIKeyService) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete api key %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete api key %s: %w", id, ErrNotFound)
	}
	return nil
}

// Touch records that the key was just used.
func (s *APIKeyService) Touch(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `UPDATE api_keys SET last_used_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("touch api key %s: %w", id, err)
	}
	return nil
}
