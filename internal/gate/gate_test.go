package gate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestGate(t *testing.T, rateMax int, window time.Duration) (*Gate, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, rateMax, window), mr
}

func TestAcquire_DuplicateRejected(t *testing.T) {
	g, _ := newTestGate(t, 20, time.Minute)
	ctx := context.Background()

	ok, err := g.Acquire(ctx, "wamid.1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !ok {
		t.Fatal("first acquire should succeed")
	}

	ok, err = g.Acquire(ctx, "wamid.1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if ok {
		t.Error("second acquire of same id should fail")
	}

	ok, err = g.Acquire(ctx, "wamid.2")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !ok {
		t.Error("different id should be independent")
	}
}

func TestRelease_AllowsReacquire(t *testing.T) {
	g, _ := newTestGate(t, 20, time.Minute)
	ctx := context.Background()

	if ok, _ := g.Acquire(ctx, "wamid.1"); !ok {
		t.Fatal("first acquire should succeed")
	}
	if err := g.Release(ctx, "wamid.1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ok, _ := g.Acquire(ctx, "wamid.1"); !ok {
		t.Error("acquire after release should succeed")
	}
}

func TestAcquire_LockExpires(t *testing.T) {
	g, mr := newTestGate(t, 20, time.Minute)
	ctx := context.Background()

	if ok, _ := g.Acquire(ctx, "wamid.1"); !ok {
		t.Fatal("first acquire should succeed")
	}
	mr.FastForward(61 * time.Second)
	if ok, _ := g.Acquire(ctx, "wamid.1"); !ok {
		t.Error("acquire after TTL should succeed")
	}
}

func TestAllow_CeilingAndWindowReset(t *testing.T) {
	g, mr := newTestGate(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := g.Allow(ctx, "5511999990000")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !ok {
			t.Fatalf("message %d should be allowed", i+1)
		}
	}

	if ok, _ := g.Allow(ctx, "5511999990000"); ok {
		t.Error("4th message in window should be dropped")
	}
	if ok, _ := g.Allow(ctx, "5511888880000"); !ok {
		t.Error("other senders are counted separately")
	}

	mr.FastForward(61 * time.Second)
	if ok, _ := g.Allow(ctx, "5511999990000"); !ok {
		t.Error("window lapse should reset the counter")
	}
}

func TestGate_StoreErrorPropagates(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	g := New(rdb, 20, time.Minute)
	mr.Close()

	if _, err := g.Acquire(context.Background(), "wamid.1"); err == nil {
		t.Error("Acquire should surface store errors, not allow the message")
	}
	if _, err := g.Allow(context.Background(), "5511999990000"); err == nil {
		t.Error("Allow should surface store errors")
	}
}
