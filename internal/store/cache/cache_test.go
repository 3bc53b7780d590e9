package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type snapshot struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

func newTestCache(t *testing.T) (*SessionCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb), mr
}

func TestPutGetRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	in := snapshot{SessionID: "sess-1", State: "transcribing"}
	if err := c.Put(ctx, "sess-1", in); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var out snapshot
	if err := c.Get(ctx, "sess-1", &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out != in {
		t.Errorf("Get = %+v, want %+v", out, in)
	}
}

func TestGetMiss(t *testing.T) {
	c, _ := newTestCache(t)

	var out snapshot
	err := c.Get(context.Background(), "nope", &out)
	if !errors.Is(err, ErrMiss) {
		t.Fatalf("err = %v, want ErrMiss", err)
	}
}

func TestPutSetsTTL(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if err := c.Put(ctx, "sess-1", snapshot{SessionID: "sess-1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ttl := mr.TTL("session:sess-1"); ttl != DefaultTTL {
		t.Errorf("TTL = %v, want %v", ttl, DefaultTTL)
	}

	// A refresh resets the clock.
	mr.FastForward(30 * time.Minute)
	if err := c.Put(ctx, "sess-1", snapshot{SessionID: "sess-1", State: "transcribing"}); err != nil {
		t.Fatalf("refresh Put: %v", err)
	}
	if ttl := mr.TTL("session:sess-1"); ttl != DefaultTTL {
		t.Errorf("TTL after refresh = %v, want %v", ttl, DefaultTTL)
	}
}

func TestExpiredSnapshotMisses(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if err := c.Put(ctx, "sess-1", snapshot{SessionID: "sess-1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	mr.FastForward(DefaultTTL + time.Second)

	var out snapshot
	if err := c.Get(ctx, "sess-1", &out); !errors.Is(err, ErrMiss) {
		t.Fatalf("err after expiry = %v, want ErrMiss", err)
	}
}

func TestDelete(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	if err := c.Put(ctx, "sess-1", snapshot{SessionID: "sess-1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	var out snapshot
	if err := c.Get(ctx, "sess-1", &out); !errors.Is(err, ErrMiss) {
		t.Fatalf("err after delete = %v, want ErrMiss", err)
	}

	// Absent keys delete cleanly.
	if err := c.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}
