package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

type entry struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func TestRedisStore_RoundTripAndInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client)
	ctx := context.Background()

	var got entry
	found, err := store.GetJSON(ctx, "booking:b1", &got)
	if err != nil || found {
		t.Fatalf("expected clean miss, got found=%v err=%v", found, err)
	}

	if err := store.SetJSON(ctx, "booking:b1", entry{ID: "b1", Status: "pending"}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	found, err = store.GetJSON(ctx, "booking:b1", &got)
	if err != nil || !found {
		t.Fatalf("expected hit, got found=%v err=%v", found, err)
	}
	if got.Status != "pending" {
		t.Errorf("expected status pending, got %q", got.Status)
	}

	if err := store.Invalidate(ctx, "booking:b1", "booking:slot:s1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if mr.Exists("booking:b1") {
		t.Fatal("expected key removed")
	}
}

func TestRedisStore_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client)
	ctx := context.Background()

	if err := store.SetJSON(ctx, "booking:slot:s1", entry{ID: "s1"}, time.Minute); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(2 * time.Minute)

	var got entry
	if found, _ := store.GetJSON(ctx, "booking:slot:s1", &got); found {
		t.Fatal("expected entry to expire")
	}
}

func TestRedisStore_CorruptEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	if err := mr.Set("booking:b2", "{not json"); err != nil {
		t.Fatal(err)
	}

	var got entry
	if _, err := NewRedisStore(client).GetJSON(context.Background(), "booking:b2", &got); err == nil {
		t.Fatal("expected decode error")
	}
}
