package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ghostzx3/telegrupos-payments/internal/domain"
	"github.com/go-redis/redis/v8"
)

type mockRedisClient struct {
	mu    sync.Mutex
	store map[string]string
	ttls  map[string]time.Duration
	err   error
}

func newMockRedis() *mockRedisClient {
	return &mockRedisClient{store: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.store[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[key] = string(value.([]byte))
	m.ttls[key] = expiration
	return nil
}

func (m *mockRedisClient) Ping(ctx context.Context) error { return nil }
func (m *mockRedisClient) Close() error                   { return nil }

func TestStatusCache_RoundTripKeepsOwner(t *testing.T) {
	ctx := context.Background()
	mock := newMockRedis()
	cache := NewStatusCache(mock, time.Hour)

	paidAt := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	view := domain.StatusView{PaymentID: "p-1", UserID: "u1", Status: domain.StatusPaid, PaidAt: &paidAt}
	if err := cache.Put(ctx, view); err != nil {
		t.Fatalf("put: %v", err)
	}
	if mock.ttls["payment:status:p-1"] != time.Hour {
		t.Errorf("expected 1h ttl, got %s", mock.ttls["payment:status:p-1"])
	}

	got, err := cache.Get(ctx, "p-1")
	if err != nil || got == nil {
		t.Fatalf("expected hit, got %v, %v", got, err)
	}
	if got.UserID != "u1" || got.Status != domain.StatusPaid || !got.PaidAt.Equal(paidAt) {
		t.Errorf("unexpected cached view %+v", got)
	}
}

func TestStatusCache_SkipsNonTerminal(t *testing.T) {
	ctx := context.Background()
	mock := newMockRedis()
	cache := NewStatusCache(mock, 0)

	if err := cache.Put(ctx, domain.StatusView{PaymentID: "p-2", Status: domain.StatusPending}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if len(mock.store) != 0 {
		t.Errorf("pending view must not be cached, store=%v", mock.store)
	}

	got, err := cache.Get(ctx, "p-2")
	if err != nil || got != nil {
		t.Errorf("expected miss, got %v, %v", got, err)
	}
}

func TestStatusCache_BackendError(t *testing.T) {
	mock := newMockRedis()
	mock.err = errors.New("connection refused")
	cache := NewStatusCache(mock, time.Hour)

	if _, err := cache.Get(context.Background(), "p-1"); err == nil {
		t.Error("expected backend error to surface")
	}
}
