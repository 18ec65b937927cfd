package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/molehq/molesearch-backend/internal/platform/apierr"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
)

// Manager owns the task lifecycle on top of the raw Store. All methods
// are safe to call concurrently from any number of actors; the store's
// key+set pair is read-modify-write across two commands, which Cleanup
// and ListPending tolerate by revalidating every id through Get.
type Manager struct {
	log   *logger.Logger
	store Store
	ttl   time.Duration
	now   func() time.Time
}

func NewManager(log *logger.Logger, store Store, ttl time.Duration) (*Manager, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if store == nil {
		return nil, fmt.Errorf("task store is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		log:   log.With("service", "TaskManager"),
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}, nil
}

func taskKey(id string) string  { return TaskKeyPrefix + id }
func claimKey(id string) string { return ClaimKeyPrefix + id }

// Create persists a fresh pending task and indexes its id.
func (m *Manager) Create(ctx context.Context, kind Kind, payload []Item) (string, error) {
	id := uuid.NewString()
	t := &Task{
		ID:        id,
		Kind:      kind,
		Status:    StatusPending,
		Progress:  0,
		Message:   "created",
		CreatedAt: m.now().UTC(),
		Payload:   payload,
	}
	if err := m.write(ctx, t); err != nil {
		return "", err
	}
	if err := m.store.SetAdd(ctx, TaskIndexKey, id); err != nil {
		return "", err
	}
	m.log.Info("task created", "task_id", id, "task_type", kind, "items", len(payload))
	return id, nil
}

// Get loads one task. Absent or expired records surface as NotFound.
func (m *Manager) Get(ctx context.Context, id string) (*Task, error) {
	raw, err := m.store.Get(ctx, taskKey(id))
	if errors.Is(err, ErrNotFound) {
		return nil, apierr.Ef(apierr.KindNotFound, "task %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	var t Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &t, nil
}

// Update merges the given fields into the stored record and rewrites
// it with a full TTL. The first transition to processing stamps
// started_at; the first terminal transition stamps completed_at.
func (m *Manager) Update(ctx context.Context, id string, upd Update) error {
	t, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if upd.Status != nil {
		t.Status = *upd.Status
		now := m.now().UTC()
		if t.Status == StatusProcessing && t.StartedAt == nil {
			t.StartedAt = &now
		}
		if t.Status.Terminal() && t.CompletedAt == nil {
			t.CompletedAt = &now
		}
	}
	if upd.Progress != nil {
		t.Progress = *upd.Progress
	}
	if upd.Message != nil {
		t.Message = *upd.Message
	}
	if upd.Result != nil {
		raw, err := json.Marshal(upd.Result)
		if err != nil {
			return fmt.Errorf("encode task result: %w", err)
		}
		t.Result = raw
	}
	return m.write(ctx, t)
}

// Claim marks a task as owned by this worker sweep. It is an atomic
// SET NX with a short TTL so a crashed worker does not park the task
// forever; a lost claim means another worker got there first.
func (m *Manager) Claim(ctx context.Context, id string) (bool, error) {
	return m.store.PutIfAbsent(ctx, claimKey(id), []byte("1"), 10*time.Minute)
}

// ListPending returns every pending task, optionally filtered by kind.
// Ids whose records already expired are skipped, not errors.
func (m *Manager) ListPending(ctx context.Context, kind Kind) ([]*Task, error) {
	all, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Task, 0, len(all))
	for _, t := range all {
		if t.Status != StatusPending {
			continue
		}
		if kind != "" && t.Kind != kind {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// ListAll returns up to limit tasks, newest first.
func (m *Manager) ListAll(ctx context.Context, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 100
	}
	all, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Cleanup removes terminal tasks older than maxAge and prunes index
// entries whose records already expired via TTL. Returns the number
// of ids removed from the index.
func (m *Manager) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	ids, err := m.store.SetMembers(ctx, TaskIndexKey)
	if err != nil {
		return 0, err
	}
	cutoff := m.now().UTC().Add(-maxAge)
	removed := 0
	for _, id := range ids {
		raw, err := m.store.Get(ctx, taskKey(id))
		if errors.Is(err, ErrNotFound) {
			// Redis already reaped the record; drop the dangling index entry.
			if err := m.store.SetRemove(ctx, TaskIndexKey, id); err != nil {
				return removed, err
			}
			removed++
			continue
		}
		if err != nil {
			return removed, err
		}
		var t Task
		if err := json.Unmarshal(raw, &t); err != nil {
			m.log.Warn("cleanup skipping undecodable task", "task_id", id, "error", err)
			continue
		}
		if !t.Status.Terminal() || t.CompletedAt == nil || t.CompletedAt.After(cutoff) {
			continue
		}
		if err := m.store.Delete(ctx, taskKey(id)); err != nil {
			return removed, err
		}
		if err := m.store.SetRemove(ctx, TaskIndexKey, id); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		m.log.Info("task cleanup swept", "removed", removed, "max_age", maxAge.String())
	}
	return removed, nil
}

// Statistics counts tasks by status across the whole index.
func (m *Manager) Statistics(ctx context.Context) (Statistics, error) {
	all, err := m.load(ctx)
	if err != nil {
		return Statistics{}, err
	}
	var s Statistics
	for _, t := range all {
		s.Total++
		switch t.Status {
		case StatusPending:
			s.Pending++
		case StatusProcessing:
			s.Processing++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s, nil
}

func (m *Manager) write(ctx context.Context, t *Task) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	return m.store.Put(ctx, taskKey(t.ID), raw, m.ttl)
}

func (m *Manager) load(ctx context.Context) ([]*Task, error) {
	ids, err := m.store.SetMembers(ctx, TaskIndexKey)
	if err != nil {
		return nil, err
	}
	out := make([]*Task, 0, len(ids))
	for _, id := range ids {
		raw, err := m.store.Get(ctx, taskKey(id))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var t Task
		if err := json.Unmarshal(raw, &t); err != nil {
			m.log.Warn("skipping undecodable task", "task_id", id, "error", err)
			continue
		}
		out = append(out, &t)
	}
	return out, nil
}
