package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/listing-price-proxy/pkg/kv"
	"github.com/Sternrassler/listing-price-proxy/pkg/listing"
	"github.com/rs/zerolog"
)

// failingStore fails every operation.
type failingStore struct{}

func (failingStore) Get(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}

func (failingStore) Put(context.Context, string, string, time.Duration) error {
	return errors.New("connection refused")
}

func newTestManager(t *testing.T) (*Manager, *kv.MemoryStore, *time.Time) {
	t.Helper()

	store := kv.NewMemoryStore(0)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	return NewManager(store, DefaultConfig(), zerolog.Nop()), store, &now
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil store")
		}
	}()
	NewManager(nil, DefaultConfig(), zerolog.Nop())
}

func TestNewManager_DefaultTTL(t *testing.T) {
	manager := NewManager(kv.NewMemoryStore(0), Config{Namespace: "x"}, zerolog.Nop())
	if manager.TTL() != DefaultTTL {
		t.Errorf("TTL() = %v, want %v", manager.TTL(), DefaultTTL)
	}
	if DefaultTTL != 5*time.Hour {
		t.Errorf("DefaultTTL = %v, want 5h", DefaultTTL)
	}
}

func TestManager_PutGet_RoundTrip(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	records := map[listing.ID]listing.Record{
		"1": {Found: true, DisplayPrice: "£12", Quantity: 3},
		"2": {Found: true, DisplayPrice: "$4.50", Quantity: 0},
		"3": listing.NotFound(),
	}

	for id, want := range records {
		if err := manager.Put(ctx, id, want); err != nil {
			t.Fatalf("Put(%s) failed: %v", id, err)
		}
		got, ok := manager.Get(ctx, id)
		if !ok {
			t.Fatalf("Get(%s) missed after Put", id)
		}
		if got != want {
			t.Errorf("Get(%s) = %+v, want %+v", id, got, want)
		}
	}
}

func TestManager_Get_Miss(t *testing.T) {
	manager, _, _ := newTestManager(t)

	if _, ok := manager.Get(context.Background(), "404"); ok {
		t.Error("Get on empty cache should miss")
	}
}

func TestManager_Get_AfterTTL(t *testing.T) {
	manager, _, now := newTestManager(t)
	ctx := context.Background()

	if err := manager.Put(ctx, "1", listing.Record{Found: true, DisplayPrice: "£12", Quantity: 1}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	*now = now.Add(DefaultTTL - time.Second)
	if _, ok := manager.Get(ctx, "1"); !ok {
		t.Fatal("Get within TTL should hit")
	}

	*now = now.Add(time.Second)
	if _, ok := manager.Get(ctx, "1"); ok {
		t.Error("Get after TTL should miss")
	}
}

func TestManager_Get_MalformedEntryIsMiss(t *testing.T) {
	manager, store, _ := newTestManager(t)
	ctx := context.Background()

	if err := store.Put(ctx, Key(DefaultNamespace, "1"), "{not json", time.Hour); err != nil {
		t.Fatalf("store.Put failed: %v", err)
	}

	record, ok := manager.Get(ctx, "1")
	if ok {
		t.Fatalf("malformed entry should be a miss, got %+v", record)
	}
	if record != (listing.Record{}) {
		t.Errorf("miss should return zero record, got %+v", record)
	}
}

func TestManager_StoreFailures(t *testing.T) {
	manager := NewManager(failingStore{}, DefaultConfig(), zerolog.Nop())
	ctx := context.Background()

	if _, ok := manager.Get(ctx, "1"); ok {
		t.Error("Get with failing store should miss")
	}
	if err := manager.Put(ctx, "1", listing.NotFound()); err == nil {
		t.Error("Put with failing store should return error")
	}
}

func TestKey(t *testing.T) {
	tests := []struct {
		namespace string
		id        listing.ID
		want      string
	}{
		{"listing", "826425463", "listing:826425463"},
		{"listing:", "1", "listing:1"},
		{"", "1", "1"},
		{"shop-a:listing", "7", "shop-a:listing:7"},
	}
	for _, tt := range tests {
		if got := Key(tt.namespace, tt.id); got != tt.want {
			t.Errorf("Key(%q, %q) = %q, want %q", tt.namespace, tt.id, got, tt.want)
		}
	}
}
