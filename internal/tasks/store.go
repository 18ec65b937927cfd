package tasks

import (
	"context"
	"errors"
	"time"
)

// Key layout shared by every store consumer. Auth tokens and API keys
// live in the same store as tasks, so their key shapes are pinned here
// next to the task keys.
const (
	TaskKeyPrefix   = "task:"
	TaskIndexKey    = "task-index"
	ClaimKeyPrefix  = "task-claim:"
	AuthTokenPrefix = "auth-token:"
	APIKeyPrefix    = "api-key:"
	APIKeyIndexKey  = "api-key-index"
)

// ErrNotFound reports a missing or expired key, as opposed to a store
// that could not be reached.
var ErrNotFound = errors.New("key not found")

// Store is the durable key/set contract the task manager and the auth
// services program against. It is reliable but not transactional:
// callers must tolerate a Put landing while the matching SetAdd fails.
type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// PutIfAbsent writes only when the key does not exist yet and
	// reports whether it won. Used as the worker's task claim.
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	SetAdd(ctx context.Context, setKey, member string) error
	SetRemove(ctx context.Context, setKey, member string) error
	SetMembers(ctx context.Context, setKey string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}
