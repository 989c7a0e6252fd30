package ids

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSnowflakeLayout(t *testing.T) {
	s, err := NewSnowflake(3, 17)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fixed := Epoch.Add(1500 * time.Millisecond)
	s.now = func() time.Time { return fixed }

	first, err := s.NextID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, _ := s.NextID()

	ts, dc, worker, seq := Decompose(first)
	if !ts.Equal(fixed) || dc != 3 || worker != 17 || seq != 0 {
		t.Fatalf("unexpected parts ts=%v dc=%d worker=%d seq=%d", ts, dc, worker, seq)
	}
	if _, _, _, seq := Decompose(second); seq != 1 {
		t.Fatalf("expected sequence 1, got %d", seq)
	}
	if second <= first {
		t.Fatalf("expected increasing ids, got %d then %d", first, second)
	}
}

func TestSnowflakeClockBackwards(t *testing.T) {
	s, _ := NewSnowflake(1, 1)
	now := Epoch.Add(time.Hour)
	s.now = func() time.Time { return now }
	if _, err := s.NextID(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	now = now.Add(-time.Second)
	if _, err := s.NextID(); !errors.Is(err, ErrClockMovedBackwards) {
		t.Fatalf("expected ErrClockMovedBackwards, got %v", err)
	}
}

func TestSnowflakeSequenceOverflowWaits(t *testing.T) {
	s, _ := NewSnowflake(0, 0)
	var mu sync.Mutex
	calls := 0
	base := Epoch.Add(time.Minute)
	s.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls > maxSequence+3 {
			return base.Add(time.Millisecond)
		}
		return base
	}
	var last int64
	for i := 0; i <= maxSequence+1; i++ {
		id, err := s.NextID()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id <= last {
			t.Fatalf("id %d not greater than %d at %d", id, last, i)
		}
		last = id
	}
	ts, _, _, seq := Decompose(last)
	if !ts.Equal(base.Add(time.Millisecond)) || seq != 0 {
		t.Fatalf("expected rollover into next millisecond, got ts=%v seq=%d", ts, seq)
	}
}

func TestSnowflakeRejectsOutOfRange(t *testing.T) {
	if _, err := NewSnowflake(32, 0); err == nil {
		t.Fatal("expected error for datacenter 32")
	}
	if _, err := NewSnowflake(0, -1); err == nil {
		t.Fatal("expected error for worker -1")
	}
}

func TestSnowflakeConcurrentUnique(t *testing.T) {
	s, _ := NewSnowflake(1, 1)
	const n = 2000
	out := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < n/8; j++ {
				id, err := s.NextID()
				if err != nil {
					t.Error(err)
					return
				}
				out <- id
			}
		}()
	}
	wg.Wait()
	close(out)
	seen := make(map[int64]struct{}, n)
	for id := range out {
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = struct{}{}
	}
}

func TestSequence(t *testing.T) {
	s := NewSequence(100)
	a, _ := s.NextID()
	b, _ := s.NextID()
	if a != 101 || b != 102 {
		t.Fatalf("expected 101, 102 got %d, %d", a, b)
	}
}
