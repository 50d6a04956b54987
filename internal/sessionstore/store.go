// Package sessionstore persists director session snapshots keyed by session
// id, with last-writer-wins conflict detection on the client-supplied
// updatedAt stamp. Redis is the primary backend; an in-process map serves as
// the non-persistent fallback.
package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long an idle session survives in Redis.
const DefaultTTL = 3 * 24 * time.Hour

const keyPrefix = "director:session:"

var (
	// ErrNotFound is returned when no record exists for a session id.
	ErrNotFound = errors.New("session not found")
	// ErrUnavailable wraps backend failures so callers can map them to 503.
	ErrUnavailable = errors.New("session storage unavailable")
)

// Record is the stored unit: the opaque snapshot plus its write stamps.
// UpdatedAt is the writer's savedAt; StoredAt is when this node accepted it.
type Record struct {
	SessionID string          `json:"sessionId"`
	UpdatedAt int64           `json:"updatedAt"`
	State     json.RawMessage `json:"state"`
	StoredAt  int64           `json:"storedAt"`
}

// SetResult reports the outcome of a conditional write. When Stale is true
// the write was refused and Existing holds the newer record.
type SetResult struct {
	Stale    bool
	Existing *Record
}

type backend interface {
	get(ctx context.Context, id string) (*Record, error)
	set(ctx context.Context, id string, rec *Record) error
	delete(ctx context.Context, id string) error
	ping(ctx context.Context) error
}

// Store is the session snapshot service shared by the HTTP API.
type Store struct {
	backend    backend
	mode       string
	persistent bool
}

// NewRedis connects to Redis and returns a persistent store.
func NewRedis(redisURL string, ttl time.Duration) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		backend:    &redisBackend{client: client, ttl: ttl},
		mode:       "redis",
		persistent: true,
	}, nil
}

// NewRedisWithClient builds a store from an existing client. Used in tests.
func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		backend:    &redisBackend{client: client, ttl: ttl},
		mode:       "redis",
		persistent: true,
	}
}

// NewMemory returns a non-persistent in-process store.
func NewMemory() *Store {
	return &Store{
		backend:    &memoryBackend{records: make(map[string]*Record)},
		mode:       "memory",
		persistent: false,
	}
}

// NewDisabled returns a store with no backend at all. Every operation fails
// with ErrUnavailable. Used when Redis is not configured and the memory
// fallback is not allowed.
func NewDisabled() *Store {
	return &Store{
		backend:    disabledBackend{},
		mode:       "disabled",
		persistent: false,
	}
}

// Mode reports the backend kind: "redis", "memory" or "disabled".
func (s *Store) Mode() string { return s.mode }

// Persistent reports whether records survive process restarts.
func (s *Store) Persistent() bool { return s.persistent }

// Healthy reports whether the backend currently answers.
func (s *Store) Healthy(ctx context.Context) bool {
	return s.backend.ping(ctx) == nil
}

// Get returns the record for a session, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	return s.backend.get(ctx, id)
}

// Set writes a snapshot unless a strictly newer record already exists, in
// which case the write is refused and the existing record returned.
func (s *Store) Set(ctx context.Context, id string, updatedAt int64, state json.RawMessage) (SetResult, error) {
	existing, err := s.backend.get(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return SetResult{}, err
	}
	if existing != nil && existing.UpdatedAt > updatedAt {
		return SetResult{Stale: true, Existing: existing}, nil
	}

	rec := &Record{
		SessionID: id,
		UpdatedAt: updatedAt,
		State:     state,
		StoredAt:  time.Now().UnixMilli(),
	}
	if err := s.backend.set(ctx, id, rec); err != nil {
		return SetResult{}, err
	}
	return SetResult{}, nil
}

// Delete removes a session record. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.backend.delete(ctx, id)
}

type redisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

func (b *redisBackend) key(id string) string {
	return keyPrefix + id
}

func (b *redisBackend) get(ctx context.Context, id string) (*Record, error) {
	data, err := b.client.Get(ctx, b.key(id)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", ErrUnavailable, err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session record: %w", err)
	}
	return &rec, nil
}

func (b *redisBackend) set(ctx context.Context, id string, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	if err := b.client.Set(ctx, b.key(id), data, b.ttl).Err(); err != nil {
		return fmt.Errorf("%w: set: %v", ErrUnavailable, err)
	}
	return nil
}

func (b *redisBackend) delete(ctx context.Context, id string) error {
	if err := b.client.Del(ctx, b.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: delete: %v", ErrUnavailable, err)
	}
	return nil
}

func (b *redisBackend) ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

type memoryBackend struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func (b *memoryBackend) get(ctx context.Context, id string) (*Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

func (b *memoryBackend) set(ctx context.Context, id string, rec *Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	copied := *rec
	b.records[id] = &copied
	return nil
}

func (b *memoryBackend) delete(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, id)
	return nil
}

func (b *memoryBackend) ping(ctx context.Context) error {
	return nil
}

type disabledBackend struct{}

func (disabledBackend) err() error {
	return fmt.Errorf("%w: storage not configured", ErrUnavailable)
}

func (b disabledBackend) get(ctx context.Context, id string) (*Record, error) {
	return nil, b.err()
}

func (b disabledBackend) set(ctx context.Context, id string, rec *Record) error {
	return b.err()
}

func (b disabledBackend) delete(ctx context.Context, id string) error {
	return b.err()
}

func (b disabledBackend) ping(ctx context.Context) error {
	return b.err()
}
