package kv

import (
	"context"
	"testing"
	"time"
)

func TestSetGetTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore("scalper:v1")

	if err := s.Set(ctx, "foo", "bar", 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := s.Get(ctx, "foo")
	if err != nil || !ok || v != "bar" {
		t.Fatalf("expected bar, got %q ok=%v err=%v", v, ok, err)
	}

	time.Sleep(20 * time.Millisecond)
	_, ok, _ = s.Get(ctx, "foo")
	if ok {
		t.Fatalf("expected key to expire")
	}
}

func TestSetNXAndRelease(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore("scalper:v1")

	ok, err := s.SetNX(ctx, KeyLock("risk"), "owner-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected lock acquired")
	}

	ok, _ = s.SetNX(ctx, KeyLock("risk"), "owner-b", time.Minute)
	if ok {
		t.Fatalf("lock should not be re-acquirable while held")
	}

	released, _ := s.Release(ctx, KeyLock("risk"), "owner-b")
	if released {
		t.Fatalf("release should no-op for non-matching owner")
	}

	released, _ = s.Release(ctx, KeyLock("risk"), "owner-a")
	if !released {
		t.Fatalf("release should succeed for matching owner")
	}

	ok, _ = s.SetNX(ctx, KeyLock("risk"), "owner-c", time.Minute)
	if !ok {
		t.Fatalf("lock should be acquirable after release")
	}
}

func TestThrottleFiresAtMostOncePerInterval(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore("scalper:v1")

	first, _ := s.Throttle(ctx, "status", 20*time.Millisecond)
	second, _ := s.Throttle(ctx, "status", 20*time.Millisecond)
	if !first || second {
		t.Fatalf("expected first=true second=false, got %v %v", first, second)
	}

	time.Sleep(30 * time.Millisecond)
	third, _ := s.Throttle(ctx, "status", 20*time.Millisecond)
	if !third {
		t.Fatalf("expected throttle to re-fire after interval elapses")
	}
}

func TestHashOperations(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore("scalper:v1")

	if err := s.HSet(ctx, KeyTick("NSE_FNO", "123"), map[string]string{
		"ltp": "185.50", "ts": "1700000000",
	}); err != nil {
		t.Fatalf("hset: %v", err)
	}

	v, ok, err := s.HGet(ctx, KeyTick("NSE_FNO", "123"), "ltp")
	if err != nil || !ok || v != "185.50" {
		t.Fatalf("hget: got %q ok=%v err=%v", v, ok, err)
	}

	all, err := s.HGetAll(ctx, KeyTick("NSE_FNO", "123"))
	if err != nil || len(all) != 2 {
		t.Fatalf("hgetall: %v %v", all, err)
	}
}

func TestSetOperations(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore("scalper:v1")

	if err := s.SAdd(ctx, KeyUniverseSIDs(), "1", "2", "3"); err != nil {
		t.Fatalf("sadd: %v", err)
	}
	members, _ := s.SMembers(ctx, KeyUniverseSIDs())
	if len(members) != 3 {
		t.Fatalf("expected 3 members, got %d", len(members))
	}

	isMember, _ := s.SIsMember(ctx, KeyUniverseSIDs(), "2")
	if !isMember {
		t.Fatalf("expected 2 to be a member")
	}

	_ = s.SRem(ctx, KeyUniverseSIDs(), "2")
	isMember, _ = s.SIsMember(ctx, KeyUniverseSIDs(), "2")
	if isMember {
		t.Fatalf("expected 2 to be removed")
	}
}

func TestListBoundedByLTrim(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore("scalper:v1")
	key := KeyBars("NSE_FNO", "123", 1)

	for i := 0; i < 150; i++ {
		if err := s.LPush(ctx, key, "bar"); err != nil {
			t.Fatalf("lpush: %v", err)
		}
		if err := s.LTrim(ctx, key, 0, 99); err != nil {
			t.Fatalf("ltrim: %v", err)
		}
	}

	vals, err := s.LRange(ctx, key, 0, -1)
	if err != nil {
		t.Fatalf("lrange: %v", err)
	}
	if len(vals) != 100 {
		t.Fatalf("expected bounded to 100, got %d", len(vals))
	}
}

func TestPingUnavailable(t *testing.T) {
	s := NewMemStore("scalper:v1")
	s.SetUnavailable(true)
	if err := s.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping failure")
	}
}

func TestDelRemovesAllShapes(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore("scalper:v1")
	_ = s.Set(ctx, "k", "v", 0)
	_ = s.Del(ctx, "k")
	if exists, _ := s.Exists(ctx, "k"); exists {
		t.Fatalf("expected key removed")
	}
}
