package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/molehq/molesearch-backend/internal/platform/apierr"
	"github.com/molehq/molesearch-backend/internal/platform/ctxutil"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
	"github.com/molehq/molesearch-backend/internal/tasks"
)

const apiKeySecretPrefix = "ms_"

// APIKey is the credential record stored at api-key:{key-id}. Keys
// never expire unless expires_at is set; expiry is enforced lazily on
// read.
type APIKey struct {
	KeyID       string     `json:"key_id"`
	Name        string     `json:"name"`
	Key         string     `json:"key"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at"`
	ExpiresAt   *time.Time `json:"expires_at"`
	Permissions []string   `json:"permissions"`
}

// Masked hides the secret except for the prefix and last four
// characters; listings never return the full secret.
func (k APIKey) Masked() APIKey {
	masked := k
	if len(k.Key) > len(apiKeySecretPrefix)+4 {
		masked.Key = apiKeySecretPrefix + "..." + k.Key[len(k.Key)-4:]
	}
	return masked
}

// APIKeyService manages service credentials in the shared store.
type APIKeyService struct {
	log   *logger.Logger
	store tasks.Store
	now   func() time.Time
}

func NewAPIKeyService(log *logger.Logger, store tasks.Store) (*APIKeyService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	return &APIKeyService{
		log:   log.With("service", "APIKeyService"),
		store: store,
		now:   time.Now,
	}, nil
}

func apiKeyKey(id string) string { return tasks.APIKeyPrefix + id }

// Create mints a key. The full secret is returned exactly once.
func (s *APIKeyService) Create(ctx context.Context, name string, ttl time.Duration, permissions []string) (*APIKey, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apierr.E(apierr.KindValidation, "api key name is required")
	}
	secret, err := newAPIKeySecret()
	if err != nil {
		return nil, fmt.Errorf("generate api key: %w", err)
	}
	now := s.now().UTC()
	key := &APIKey{
		KeyID:       uuid.NewString(),
		Name:        name,
		Key:         secret,
		CreatedAt:   now,
		Permissions: permissions,
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		key.ExpiresAt = &expires
	}
	if err := s.write(ctx, key); err != nil {
		return nil, err
	}
	if err := s.store.SetAdd(ctx, tasks.APIKeyIndexKey, key.KeyID); err != nil {
		return nil, err
	}
	s.log.Info("api key created", "key_id", key.KeyID, "name", name)
	return key, nil
}

// List returns every live key with the secret masked. Keys that
// expired since the last read are removed on the way through.
func (s *APIKeyService) List(ctx context.Context) ([]APIKey, error) {
	ids, err := s.store.SetMembers(ctx, tasks.APIKeyIndexKey)
	if err != nil {
		return nil, err
	}
	out := make([]APIKey, 0, len(ids))
	for _, id := range ids {
		key, err := s.get(ctx, id)
		if errors.Is(err, tasks.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, key.Masked())
	}
	return out, nil
}

// Delete revokes one key.
func (s *APIKeyService) Delete(ctx context.Context, keyID string) error {
	if _, err := s.get(ctx, keyID); err != nil {
		if errors.Is(err, tasks.ErrNotFound) {
			return apierr.Ef(apierr.KindNotFound, "api key %s not found", keyID)
		}
		return err
	}
	if err := s.store.Delete(ctx, apiKeyKey(keyID)); err != nil {
		return err
	}
	if err := s.store.SetRemove(ctx, tasks.APIKeyIndexKey, keyID); err != nil {
		return err
	}
	s.log.Info("api key deleted", "key_id", keyID)
	return nil
}

// Validate matches a presented secret against the stored keys and
// refreshes last_used_at on success (last-writer-wins is fine).
func (s *APIKeyService) Validate(ctx context.Context, secret string) (*ctxutil.Principal, error) {
	if !strings.HasPrefix(secret, apiKeySecretPrefix) {
		return nil, apierr.E(apierr.KindUnauthorized, "invalid api key")
	}
	ids, err := s.store.SetMembers(ctx, tasks.APIKeyIndexKey)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		key, err := s.get(ctx, id)
		if errors.Is(err, tasks.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if subtle.ConstantTimeCompare([]byte(key.Key), []byte(secret)) != 1 {
			continue
		}
		now := s.now().UTC()
		key.LastUsedAt = &now
		if err := s.write(ctx, key); err != nil {
			s.log.Warn("refresh last_used_at failed", "key_id", key.KeyID, "error", err.Error())
		}
		return &ctxutil.Principal{
			Username: key.Name,
			Method:   "api_key",
			KeyID:    key.KeyID,
		}, nil
	}
	return nil, apierr.E(apierr.KindUnauthorized, "invalid api key")
}

// get loads a key and enforces lazy expiry: past expires_at deletes
// the record and reports NotFound.
func (s *APIKeyService) get(ctx context.Context, keyID string) (*APIKey, error) {
	raw, err := s.store.Get(ctx, apiKeyKey(keyID))
	if err != nil {
		return nil, err
	}
	var key APIKey
	if err := json.Unmarshal(raw, &key); err != nil {
		return nil, fmt.Errorf("decode api key %s: %w", keyID, err)
	}
	if key.ExpiresAt != nil && key.ExpiresAt.Before(s.now().UTC()) {
		if err := s.store.Delete(ctx, apiKeyKey(keyID)); err != nil {
			return nil, err
		}
		if err := s.store.SetRemove(ctx, tasks.APIKeyIndexKey, keyID); err != nil {
			return nil, err
		}
		s.log.Info("api key expired and removed", "key_id", keyID)
		return nil, tasks.ErrNotFound
	}
	return &key, nil
}

func (s *APIKeyService) write(ctx context.Context, key *APIKey) error {
	raw, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("encode api key %s: %w", key.KeyID, err)
	}
	// No TTL on the record itself; expiry is the lazy expires_at check.
	return s.store.Put(ctx, apiKeyKey(key.KeyID), raw, 0)
}

func newAPIKeySecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return apiKeySecretPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}
