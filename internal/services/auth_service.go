package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/molehq/molesearch-backend/internal/config"
	"github.com/molehq/molesearch-backend/internal/platform/apierr"
	"github.com/molehq/molesearch-backend/internal/platform/ctxutil"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
	"github.com/molehq/molesearch-backend/internal/tasks"
)

// AuthService issues opaque bearer tokens for config-listed users.
// Tokens are server-side records, so logout revokes immediately.
type AuthService struct {
	log      *logger.Logger
	store    tasks.Store
	users    []config.UserConfig
	tokenTTL time.Duration
	enabled  bool
}

// TokenInfo is the record stored at auth-token:{token}.
type TokenInfo struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewAuthService(log *logger.Logger, store tasks.Store, cfg config.AuthConfig) (*AuthService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	ttl := cfg.TokenTTL()
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthService{
		log:      log.With("service", "AuthService"),
		store:    store,
		users:    cfg.Users,
		tokenTTL: ttl,
		enabled:  cfg.Enable,
	}, nil
}

func (s *AuthService) Enabled() bool { return s.enabled }

// Login verifies the credentials and issues a fresh token.
func (s *AuthService) Login(ctx context.Context, username, password string) (string, *TokenInfo, error) {
	user, ok := s.findUser(username)
	if !ok || !verifyPassword(user, password) {
		return "", nil, apierr.E(apierr.KindUnauthorized, "invalid username or password")
	}
	token, err := newToken()
	if err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}
	now := time.Now().UTC()
	info := &TokenInfo{
		Username:  user.Username,
		Role:      user.Role,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.tokenTTL),
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return "", nil, fmt.Errorf("encode token info: %w", err)
	}
	if err := s.store.Put(ctx, tasks.AuthTokenPrefix+token, raw, s.tokenTTL); err != nil {
		return "", nil, err
	}
	s.log.Info("user logged in", "username", user.Username)
	return token, info, nil
}

// Validate resolves a bearer token to its principal. Unknown or
// expired tokens are Unauthorized.
func (s *AuthService) Validate(ctx context.Context, token string) (*ctxutil.Principal, error) {
	if token == "" {
		return nil, apierr.E(apierr.KindUnauthorized, "missing token")
	}
	raw, err := s.store.Get(ctx, tasks.AuthTokenPrefix+token)
	if errors.Is(err, tasks.ErrNotFound) {
		return nil, apierr.E(apierr.KindUnauthorized, "invalid or expired token")
	}
	if err != nil {
		return nil, err
	}
	var info TokenInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("decode token info: %w", err)
	}
	return &ctxutil.Principal{
		Username: info.Username,
		Role:     info.Role,
		Method:   "token",
	}, nil
}

// Logout revokes the token.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return apierr.E(apierr.KindUnauthorized, "missing token")
	}
	return s.store.Delete(ctx, tasks.AuthTokenPrefix+token)
}

func (s *AuthService) findUser(username string) (config.UserConfig, bool) {
	for _, u := range s.users {
		if u.Username == username {
			return u, true
		}
	}
	return config.UserConfig{}, false
}

// verifyPassword prefers the bcrypt hash; the plaintext fallback
// exists for dev configs only.
func verifyPassword(user config.UserConfig, password string) bool {
	if user.PasswordBcrypt != "" {
		return bcrypt.CompareHashAndPassword([]byte(user.PasswordBcrypt), []byte(password)) == nil
	}
	if user.Password != "" {
		return subtle.ConstantTimeCompare([]byte(user.Password), []byte(password)) == 1
	}
	return false
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
