package limiter

import (
	"context"
	"testing"
	"time"
)

func TestMemoryAllowsUnderLimit(t *testing.T) {
	m := NewMemory(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := m.Allow(ctx, "a1b2c3d4e5f6")
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatalf("reply %d should be allowed", i+1)
		}
		if err := m.Record(ctx, "a1b2c3d4e5f6"); err != nil {
			t.Fatal(err)
		}
	}

	ok, err := m.Allow(ctx, "a1b2c3d4e5f6")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("fourth reply should be blocked")
	}
}

func TestMemoryPerIdentity(t *testing.T) {
	m := NewMemory(1, time.Minute)
	ctx := context.Background()

	m.Record(ctx, "a1b2c3d4e5f6")
	if ok, _ := m.Allow(ctx, "a1b2c3d4e5f6"); ok {
		t.Fatal("first identity should be blocked")
	}
	if ok, _ := m.Allow(ctx, "0fedcba98765"); !ok {
		t.Fatal("second identity should be unaffected")
	}
}

func TestMemoryWindowSlides(t *testing.T) {
	m := NewMemory(1, time.Minute)
	ctx := context.Background()

	base := time.Unix(1000, 0)
	m.now = func() time.Time { return base }
	m.Record(ctx, "a1b2c3d4e5f6")
	if ok, _ := m.Allow(ctx, "a1b2c3d4e5f6"); ok {
		t.Fatal("should be blocked inside the window")
	}

	m.now = func() time.Time { return base.Add(61 * time.Second) }
	if ok, _ := m.Allow(ctx, "a1b2c3d4e5f6"); !ok {
		t.Fatal("should be allowed after the window slides")
	}
}

func TestMemoryZeroLimitDisables(t *testing.T) {
	m := NewMemory(0, time.Minute)
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		m.Record(ctx, "a1b2c3d4e5f6")
	}
	if ok, _ := m.Allow(ctx, "a1b2c3d4e5f6"); !ok {
		t.Fatal("zero limit should disable throttling")
	}
}
