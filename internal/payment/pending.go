package payment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// pendingTTL bounds how long an order mapping may live. Stale entries are
// recovered through the transaction-reference fallback lookup.
const pendingTTL = 30 * time.Minute

// PendingStore maps a payment order ID to the registration that initiated
// it. Entries are written at payment initiation, read once by the callback
// and removed after processing, win or lose.
type PendingStore interface {
	Put(ctx context.Context, orderID, registrationID string) error
	Get(ctx context.Context, orderID string) (string, bool, error)
	Remove(ctx context.Context, orderID string) error
}

// RedisPendingStore keeps pending order mappings in redis so they survive a
// process restart.
type RedisPendingStore struct {
	client *redis.Client
	prefix string
}

// NewRedisPendingStore constructs a redis-backed pending store.
func NewRedisPendingStore(client *redis.Client) *RedisPendingStore {
	if client == nil {
		return nil
	}
	return &RedisPendingStore{client: client, prefix: "card:pending:"}
}

func (s *RedisPendingStore) key(orderID string) string {
	return s.prefix + strings.TrimSpace(orderID)
}

// Put stores an order mapping with the pending TTL.
func (s *RedisPendingStore) Put(ctx context.Context, orderID, registrationID string) error {
	if s == nil || s.client == nil {
		return errors.New("payment: pending store not initialized")
	}
	return s.client.Set(ctx, s.key(orderID), registrationID, pendingTTL).Err()
}

// Get returns the registration ID for an order, if present.
func (s *RedisPendingStore) Get(ctx context.Context, orderID string) (string, bool, error) {
	if s == nil || s.client == nil {
		return "", false, errors.New("payment: pending store not initialized")
	}
	value, errGet := s.client.Get(ctx, s.key(orderID)).Result()
	if errors.Is(errGet, redis.Nil) {
		return "", false, nil
	}
	if errGet != nil {
		return "", false, errGet
	}
	return value, true, nil
}

// Remove deletes an order mapping.
func (s *RedisPendingStore) Remove(ctx context.Context, orderID string) error {
	if s == nil || s.client == nil {
		return errors.New("payment: pending store not initialized")
	}
	return s.client.Del(ctx, s.key(orderID)).Err()
}

// MemoryPendingStore is the in-process fallback used when redis is not
// configured, and by tests.
type MemoryPendingStore struct {
	mu      sync.Mutex
	entries map[string]string
}

// NewMemoryPendingStore constructs an in-memory pending store.
func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{entries: make(map[string]string)}
}

// Put stores an order mapping.
func (s *MemoryPendingStore) Put(_ context.Context, orderID, registrationID string) error {
	if s == nil {
		return errors.New("payment: pending store not initialized")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[strings.TrimSpace(orderID)] = registrationID
	return nil
}

// Get returns the registration ID for an order, if present.
func (s *MemoryPendingStore) Get(_ context.Context, orderID string) (string, bool, error) {
	if s == nil {
		return "", false, errors.New("payment: pending store not initialized")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.entries[strings.TrimSpace(orderID)]
	return value, ok, nil
}

// Remove deletes an order mapping.
func (s *MemoryPendingStore) Remove(_ context.Context, orderID string) error {
	if s == nil {
		return errors.New("payment: pending store not initialized")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, strings.TrimSpace(orderID))
	return nil
}
