package ratelimiter

import (
	"testing"
	"time"
)

func TestTokenBucketBurstAndRefill(t *testing.T) {
	now := time.Now()
	tb := newTokenBucketAt(1, 2, now, func() time.Time { return now })

	if !tb.Allow() || !tb.Allow() {
		t.Fatalf("Expected the first 2 requests to pass")
	}
	if tb.Allow() {
		t.Errorf("Expected the 3rd request to be limited")
	}

	now = now.Add(time.Second)
	if !tb.Allow() {
		t.Errorf("Expected a token after 1s refill")
	}
}

func TestKeyedIsolatesClients(t *testing.T) {
	k := NewKeyed(0.001, 1, time.Minute)
	if !k.Allow("10.0.0.1") {
		t.Fatalf("Expected first request from client A to pass")
	}
	if k.Allow("10.0.0.1") {
		t.Errorf("Expected second request from client A to be limited")
	}
	if !k.Allow("10.0.0.2") {
		t.Errorf("Expected client B to have its own bucket")
	}
}

func TestKeyedDropsIdleBuckets(t *testing.T) {
	now := time.Now()
	k := NewKeyed(1, 1, time.Minute)
	k.now = func() time.Time { return now }
	k.Allow("a")
	k.Allow("b")
	if k.Len() != 2 {
		t.Fatalf("Expected 2 buckets, got %d", k.Len())
	}
	now = now.Add(2 * time.Minute)
	k.Allow("c")
	if k.Len() != 1 {
		t.Errorf("Expected idle buckets to be dropped, got %d", k.Len())
	}
}
