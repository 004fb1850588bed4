package credential

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStoreTest(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewRedisStore(rdb, "lms", ttl), mr
}

func newBadgerStoreTest(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := OpenBadgerStore(BadgerConfig{Dir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func storesUnderTest(t *testing.T) map[string]Store {
	redisStore, _ := newRedisStoreTest(t, 0)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  redisStore,
		"badger": newBadgerStoreTest(t),
	}
}

func TestStoreRoundTripAndClear(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := store.Load(ctx); !errors.Is(err, ErrNotFound) {
				t.Fatalf("empty store: expected ErrNotFound, got %v", err)
			}

			want := Credentials{Token: "a.b.c", Role: "LIBRARIAN"}
			if err := store.Save(ctx, want); err != nil {
				t.Fatalf("save: %v", err)
			}
			got, err := store.Load(ctx)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if got != want {
				t.Fatalf("load = %+v, want %+v", got, want)
			}

			if err := store.Clear(ctx); err != nil {
				t.Fatalf("clear: %v", err)
			}
			if err := store.Clear(ctx); err != nil {
				t.Fatalf("second clear must be a no-op: %v", err)
			}
			if _, err := store.Load(ctx); !errors.Is(err, ErrNotFound) {
				t.Fatalf("after clear: expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStoreRejectsHalfPairs(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Save(ctx, Credentials{Token: "a.b.c"}); !errors.Is(err, ErrIncomplete) {
				t.Fatalf("expected ErrIncomplete on save, got %v", err)
			}
			if _, err := store.Load(ctx); !errors.Is(err, ErrNotFound) {
				t.Fatalf("rejected save must not write anything, got %v", err)
			}
		})
	}
}

func TestRedisStoreDetectsMissingRole(t *testing.T) {
	store, mr := newRedisStoreTest(t, 0)
	if err := mr.Set("lms:jwtToken", "a.b.c"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.Load(context.Background()); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
}

func TestRedisStoreAppliesTTL(t *testing.T) {
	store, mr := newRedisStoreTest(t, time.Hour)
	if err := store.Save(context.Background(), Credentials{Token: "t", Role: "USER"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ttl := mr.TTL("lms:jwtToken"); ttl != time.Hour {
		t.Fatalf("token ttl = %v", ttl)
	}
	if ttl := mr.TTL("lms:userRole"); ttl != time.Hour {
		t.Fatalf("role ttl = %v", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := store.Load(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected entries to expire, got %v", err)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, mr := newRedisStoreTest(t, 0)
	mr.Close()
	if _, err := store.Load(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if err := store.Clear(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on clear, got %v", err)
	}
}

func TestMemoryStoreIncompletePair(t *testing.T) {
	store := NewMemoryStore()
	store.Put(RoleKey, "USER")
	if _, err := store.Load(context.Background()); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
	if err := store.Clear(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d entries", store.Len())
	}
}

func TestSealedStoreRoundTrip(t *testing.T) {
	inner := NewMemoryStore()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	store, err := NewSealedStore(inner, key)
	if err != nil {
		t.Fatalf("new sealed store: %v", err)
	}
	ctx := context.Background()

	if err := store.Save(ctx, Credentials{Token: "header.payload.sig", Role: "USER"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, err := inner.Load(ctx)
	if err != nil {
		t.Fatalf("inner load: %v", err)
	}
	if raw.Token == "header.payload.sig" {
		t.Fatal("token stored in clear")
	}
	if raw.Role != "USER" {
		t.Fatalf("role = %q", raw.Role)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Token != "header.payload.sig" || got.Role != "USER" {
		t.Fatalf("unexpected credentials %+v", got)
	}

	// Swapping the role on disk breaks the binding.
	inner.Put(RoleKey, "LIBRARIAN")
	if _, err := store.Load(ctx); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt after role swap, got %v", err)
	}

	inner.Put(TokenKey, "plain.token.value")
	if _, err := store.Load(ctx); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for unsealed token, got %v", err)
	}
}

func TestSealedStoreRejectsShortKey(t *testing.T) {
	if _, err := NewSealedStore(NewMemoryStore(), []byte("short")); err == nil {
		t.Fatal("expected short key to be rejected")
	}
}
