package cache

import (
	"testing"
	"time"
)

func TestMemoryGetSet(t *testing.T) {
	c := NewMemory(10)
	if err := c.Set("a", []byte(`1`), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	res, _ := c.Get("a")
	if !res.Hit || string(res.Value) != "1" {
		t.Fatalf("expected hit, got %+v", res)
	}
	if res, _ := c.Get("missing"); res.Hit {
		t.Fatal("expected miss")
	}
	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Fatalf("unexpected stats hits=%d misses=%d", hits, misses)
	}
}

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewMemory(2)
	_ = c.Set("a", []byte(`1`), 0)
	_ = c.Set("b", []byte(`2`), 0)
	_, _ = c.Get("a")
	_ = c.Set("c", []byte(`3`), 0)

	if res, _ := c.Get("b"); res.Hit {
		t.Fatal("expected b evicted")
	}
	if res, _ := c.Get("a"); !res.Hit {
		t.Fatal("expected a retained")
	}
	if c.Len() != 2 {
		t.Fatalf("expected len 2, got %d", c.Len())
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	c := NewMemory(0)
	base := time.Unix(1_700_000_000, 0)
	c.nowFn = func() time.Time { return base }
	_ = c.Set("k", []byte(`"x"`), time.Minute)
	_ = c.Set("forever", []byte(`"y"`), 0)

	c.nowFn = func() time.Time { return base.Add(2 * time.Minute) }
	if res, _ := c.Get("k"); res.Hit {
		t.Fatal("expected expired miss")
	}
	if res, _ := c.Get("forever"); !res.Hit {
		t.Fatal("expected entry without ttl to survive")
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	c := NewMemory(0)
	value := []byte(`abc`)
	_ = c.Set("k", value, 0)
	value[0] = 'z'
	res, _ := c.Get("k")
	if string(res.Value) != "abc" {
		t.Fatalf("stored value mutated through caller slice: %s", res.Value)
	}
}
