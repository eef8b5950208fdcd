package optimize

import "testing"

func TestBytePoolReturnsRequestedSize(t *testing.T) {
	pool := NewBytePool(1500)

	buf := pool.Get()
	if len(buf) != 1500 {
		t.Fatalf("expected len 1500, got %d", len(buf))
	}
	pool.Put(buf)

	again := pool.Get()
	if len(again) != 1500 {
		t.Fatalf("expected len 1500 after recycle, got %d", len(again))
	}
}

func TestBytePoolDropsUndersizedSlices(t *testing.T) {
	pool := NewBytePool(1500)

	pool.Put(make([]byte, 10))

	buf := pool.Get()
	if len(buf) != 1500 {
		t.Fatalf("undersized slice leaked back out, len %d", len(buf))
	}
}
