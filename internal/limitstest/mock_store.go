package limitstest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/turnstile/pkg/limits/storage"
)

// MockStore wraps a counter store and injects failures.
type MockStore struct {
	storage.Store

	mu        sync.Mutex
	peekErr   error
	incrErr   error
	expireErr error
	delay     time.Duration

	// Mutations counts IncrementAndGet and Expire calls that reached the
	// wrapped store.
	Mutations atomic.Int64
}

// NewMockStore wraps inner.
func NewMockStore(inner storage.Store) *MockStore {
	return &MockStore{Store: inner}
}

// FailPeek makes Peek return err. A nil err clears the failure.
func (m *MockStore) FailPeek(err error) {
	m.mu.Lock()
	m.peekErr = err
	m.mu.Unlock()
}

// FailIncrement makes IncrementAndGet return err.
func (m *MockStore) FailIncrement(err error) {
	m.mu.Lock()
	m.incrErr = err
	m.mu.Unlock()
}

// FailExpire makes Expire return err.
func (m *MockStore) FailExpire(err error) {
	m.mu.Lock()
	m.expireErr = err
	m.mu.Unlock()
}

// SetDelay makes every call wait d or until the context is done.
func (m *MockStore) SetDelay(d time.Duration) {
	m.mu.Lock()
	m.delay = d
	m.mu.Unlock()
}

func (m *MockStore) wait(ctx context.Context) error {
	m.mu.Lock()
	d := m.delay
	m.mu.Unlock()
	if d == 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Peek implements storage.Store.
func (m *MockStore) Peek(ctx context.Context, key storage.Key) (int64, error) {
	if err := m.wait(ctx); err != nil {
		return 0, err
	}
	m.mu.Lock()
	err := m.peekErr
	m.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return m.Store.Peek(ctx, key)
}

// IncrementAndGet implements storage.Store.
func (m *MockStore) IncrementAndGet(ctx context.Context, key storage.Key, amount int64) (int64, error) {
	if err := m.wait(ctx); err != nil {
		return 0, err
	}
	m.mu.Lock()
	err := m.incrErr
	m.mu.Unlock()
	if err != nil {
		return 0, err
	}
	m.Mutations.Add(1)
	return m.Store.IncrementAndGet(ctx, key, amount)
}

// Expire implements storage.Store.
func (m *MockStore) Expire(ctx context.Context, key storage.Key, ttl time.Duration) error {
	m.mu.Lock()
	err := m.expireErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.Mutations.Add(1)
	return m.Store.Expire(ctx, key, ttl)
}
