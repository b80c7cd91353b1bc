package memstore

import (
	"context"
	"testing"
	"time"
)

func TestSetGet_RoundTripAndMiss(t *testing.T) {
	s := New(time.Minute)
	defer s.Close()
	ctx := context.Background()

	if err := s.Set(ctx, "k1", []byte("tile-bytes"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, found, err := s.Get(ctx, "k1")
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if string(got) != "tile-bytes" {
		t.Fatalf("payload=%q", got)
	}

	_, found, err = s.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if found {
		t.Fatalf("missing key reported as found")
	}

	st := s.Stats()
	if st.Hits != 1 || st.Misses != 1 {
		t.Fatalf("stats=%+v want hits=1 misses=1", st)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	s := New(time.Minute)
	defer s.Close()
	ctx := context.Background()

	payload := []byte("abc")
	if err := s.Set(ctx, "k", payload, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	payload[0] = 'x' // caller mutation must not reach the store

	got, _, _ := s.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("store shares caller's buffer: %q", got)
	}
	got[0] = 'y'
	again, _, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("returned buffer aliases the store: %q", again)
	}
}

func TestTTL_ExpiryOnRead(t *testing.T) {
	s := New(time.Minute)
	defer s.Close()
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	_, found, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatalf("expired entry served")
	}
	if s.Len() != 0 {
		t.Fatalf("expired entry still counted: len=%d", s.Len())
	}
}

func TestDeleteByPrefix(t *testing.T) {
	s := New(time.Minute)
	defer s.Close()
	ctx := context.Background()

	_ = s.Set(ctx, "t:aaaa:1", []byte("1"), 0)
	_ = s.Set(ctx, "t:aaaa:2", []byte("2"), 0)
	_ = s.Set(ctx, "t:bbbb:1", []byte("3"), 0)

	if err := s.DeleteByPrefix(ctx, "t:aaaa:"); err != nil {
		t.Fatalf("DeleteByPrefix: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("len=%d want 1", s.Len())
	}
	if _, found, _ := s.Get(ctx, "t:bbbb:1"); !found {
		t.Fatalf("unrelated key deleted")
	}
}

func TestSweep_DropsExpiredEntries(t *testing.T) {
	s := New(time.Minute, WithSweepInterval(10*time.Millisecond))
	defer s.Close()
	ctx := context.Background()

	_ = s.Set(ctx, "k", []byte("v"), 5*time.Millisecond)

	deadline := time.After(500 * time.Millisecond)
	for s.Len() != 0 {
		select {
		case <-deadline:
			t.Fatalf("sweeper did not drop expired entry")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
