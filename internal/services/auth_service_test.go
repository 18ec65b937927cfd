package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/molehq/molesearch-backend/internal/config"
	"github.com/molehq/molesearch-backend/internal/platform/apierr"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
	"github.com/molehq/molesearch-backend/internal/tasks"
)

func newTestStore(t *testing.T) (tasks.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	store, err := tasks.NewRedisStore(log, client)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	return store, mr
}

func newTestAuth(t *testing.T, users []config.UserConfig) (*AuthService, *miniredis.Miniredis) {
	t.Helper()
	store, mr := newTestStore(t)
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	svc, err := NewAuthService(log, store, config.AuthConfig{
		Enable:        true,
		TokenTTLHours: 1,
		Users:         users,
	})
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}
	return svc, mr
}

func TestLoginValidateLogout(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	svc, mr := newTestAuth(t, []config.UserConfig{
		{Username: "admin", PasswordBcrypt: string(hash), Role: "admin"},
	})
	ctx := context.Background()

	token, info, err := svc.Login(ctx, "admin", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token == "" || info.Username != "admin" {
		t.Fatalf("login result: token=%q info=%+v", token, info)
	}
	if ttl := mr.TTL(tasks.AuthTokenPrefix + token); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("token ttl: want (0,1h] got %v", ttl)
	}

	principal, err := svc.Validate(ctx, token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if principal.Username != "admin" || principal.Role != "admin" || principal.Method != "token" {
		t.Fatalf("principal: %+v", principal)
	}

	if err := svc.Logout(ctx, token); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := svc.Validate(ctx, token); apierr.KindOf(err) != apierr.KindUnauthorized {
		t.Fatalf("revoked token: want Unauthorized, got %v", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, _ := newTestAuth(t, []config.UserConfig{
		{Username: "dev", Password: "plain"},
	})
	ctx := context.Background()

	if _, _, err := svc.Login(ctx, "dev", "wrong"); apierr.KindOf(err) != apierr.KindUnauthorized {
		t.Fatalf("wrong password: want Unauthorized, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "ghost", "plain"); apierr.KindOf(err) != apierr.KindUnauthorized {
		t.Fatalf("unknown user: want Unauthorized, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "dev", "plain"); err != nil {
		t.Fatalf("plaintext dev fallback: %v", err)
	}
}

func TestValidateExpiredToken(t *testing.T) {
	svc, mr := newTestAuth(t, []config.UserConfig{
		{Username: "dev", Password: "plain"},
	})
	ctx := context.Background()

	token, _, err := svc.Login(ctx, "dev", "plain")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	mr.FastForward(2 * time.Hour)
	if _, err := svc.Validate(ctx, token); apierr.KindOf(err) != apierr.KindUnauthorized {
		t.Fatalf("expired token: want Unauthorized, got %v", err)
	}
}
