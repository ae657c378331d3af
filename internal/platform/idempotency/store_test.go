package idempotency

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// exerciseStore runs the same contract against every backend.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	first, err := store.Reserve(ctx, "1|key", "fp-a", fixedTime, time.Minute)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if first.State != ReservationStateNew || first.Owner == "" {
		t.Fatalf("expected new reservation with owner, got %+v", first)
	}

	pending, err := store.Reserve(ctx, "1|key", "fp-a", fixedTime.Add(time.Second), time.Minute)
	if err != nil {
		t.Fatalf("Reserve pending: %v", err)
	}
	if pending.State != ReservationStatePending || pending.Owner != "" {
		t.Fatalf("expected pending reservation without ownership, got %+v", pending)
	}

	if _, err := store.Reserve(ctx, "1|key", "fp-b", fixedTime, time.Minute); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch, got %v", err)
	}

	if err := store.SaveResponse(ctx, "1|key", "someone-else", Response{Status: http.StatusCreated}, fixedTime, time.Hour); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}

	resp := Response{
		Status:  http.StatusCreated,
		Headers: http.Header{"Content-Type": {"application/json"}, "Date": {"today"}},
		Body:    []byte(`{"id":1}`),
	}
	if err := store.SaveResponse(ctx, "1|key", first.Owner, resp, fixedTime.Add(2*time.Second), time.Hour); err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}

	replay, err := store.Reserve(ctx, "1|key", "fp-a", fixedTime.Add(3*time.Second), time.Minute)
	if err != nil {
		t.Fatalf("Reserve completed: %v", err)
	}
	if replay.State != ReservationStateCompleted || replay.Record.ResponseStatus != http.StatusCreated {
		t.Fatalf("expected completed record, got %+v", replay)
	}
	if string(replay.Record.ResponseBody) != `{"id":1}` {
		t.Fatalf("unexpected stored body %q", replay.Record.ResponseBody)
	}
	if _, ok := replay.Record.ResponseHeaders["Date"]; ok {
		t.Fatalf("expected hop-by-hop headers to be dropped, got %v", replay.Record.ResponseHeaders)
	}

	// Release never removes a completed record.
	if err := store.Release(ctx, "1|key", first.Owner); err != nil {
		t.Fatalf("Release: %v", err)
	}
	again, err := store.Reserve(ctx, "1|key", "fp-a", fixedTime.Add(4*time.Second), time.Minute)
	if err != nil || again.State != ReservationStateCompleted {
		t.Fatalf("expected completed record to survive release, got %+v (err=%v)", again, err)
	}

	retry, err := store.Reserve(ctx, "1|other", "fp", fixedTime, time.Minute)
	if err != nil {
		t.Fatalf("Reserve other: %v", err)
	}
	if err := store.Release(ctx, "1|other", retry.Owner); err != nil {
		t.Fatalf("Release pending: %v", err)
	}
	fresh, err := store.Reserve(ctx, "1|other", "fp", fixedTime, time.Minute)
	if err != nil || fresh.State != ReservationStateNew || fresh.Owner == retry.Owner {
		t.Fatalf("expected a fresh reservation after release, got %+v (err=%v)", fresh, err)
	}
}

func TestMemoryStoreContract(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreExpiryAndCleanup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	abandoned, err := store.Reserve(ctx, "crashed", "fp", fixedTime, time.Minute)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	later := fixedTime.Add(2 * time.Minute)
	takeover, err := store.Reserve(ctx, "crashed", "fp", later, time.Minute)
	if err != nil || takeover.State != ReservationStateNew || takeover.Owner == abandoned.Owner {
		t.Fatalf("expected expired pending key to be taken over, got %+v (err=%v)", takeover, err)
	}
	if err := store.SaveResponse(ctx, "crashed", abandoned.Owner, Response{Status: 201}, later, time.Hour); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected the stale owner to lose, got %v", err)
	}

	if _, err := store.Reserve(ctx, "short", "fp", fixedTime, time.Second); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	removed, err := store.CleanupExpired(ctx, fixedTime.Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 expired records removed, got %d", removed)
	}
}

func TestRedisStoreContract(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	exerciseStore(t, NewRedisStore(client, WithKeyPrefix("test:")))

	keys := server.Keys()
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys in redis, got %v", keys)
	}
	for _, key := range keys {
		if ttl := server.TTL(key); ttl <= 0 {
			t.Fatalf("expected key %s to carry a ttl, got %s", key, ttl)
		}
	}
}

func TestRedisStorePendingKeyExpires(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client)
	ctx := context.Background()

	first, err := store.Reserve(ctx, "k", "fp", fixedTime, 30*time.Second)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	server.FastForward(time.Minute)

	second, err := store.Reserve(ctx, "k", "fp", fixedTime, 30*time.Second)
	if err != nil {
		t.Fatalf("Reserve after expiry: %v", err)
	}
	if second.State != ReservationStateNew || second.Owner == first.Owner {
		t.Fatalf("expected a new owner after expiry, got %+v", second)
	}
	if err := store.SaveResponse(ctx, "k", first.Owner, Response{Status: 201}, fixedTime, time.Hour); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner for the expired owner, got %v", err)
	}
}
