package loop

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestDrainRunsInPostOrder(t *testing.T) {
	q := NewQueue()
	var got []int
	for i := 0; i < 3; i++ {
		i := i
		q.Post(func() { got = append(got, i) })
	}
	q.Post(nil)
	if n := q.Drain(); n != 3 {
		t.Fatalf("drained %d, want 3", n)
	}
	if len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Fatalf("order = %v", got)
	}
	if q.Drain() != 0 {
		t.Fatal("second drain should be empty")
	}
}

func TestGoPostsCompletion(t *testing.T) {
	q := NewQueue()
	var result string
	var mu sync.Mutex
	ran := false
	Run(context.Background(), q, func(context.Context) (string, error) {
		mu.Lock()
		ran = true
		mu.Unlock()
		return "ok", nil
	}, func(v string, err error) {
		if err != nil {
			t.Errorf("unexpected error %v", err)
		}
		result = v
	})
	q.Wait()
	if result != "" {
		t.Fatal("callback must not run before Drain")
	}
	q.Drain()
	mu.Lock()
	defer mu.Unlock()
	if !ran || result != "ok" {
		t.Fatalf("ran=%v result=%q", ran, result)
	}
}

func TestRunPassesErrors(t *testing.T) {
	q := NewQueue()
	boom := errors.New("boom")
	var got error
	Run(context.Background(), q, func(context.Context) (int, error) { return 0, boom }, func(_ int, err error) { got = err })
	q.Settle()
	if !errors.Is(got, boom) {
		t.Fatalf("err = %v", got)
	}
}

func TestSettleFollowsChainedWork(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()
	steps := 0
	var step func()
	step = func() {
		steps++
		if steps < 5 {
			q.Go(ctx, func(context.Context) func() { return step })
		}
	}
	q.Go(ctx, func(context.Context) func() { return step })
	q.Settle()
	if steps != 5 {
		t.Fatalf("steps = %d, want 5", steps)
	}
}

func TestPostIsSafeForConcurrentUse(t *testing.T) {
	q := NewQueue()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Post(func() {})
		}()
	}
	wg.Wait()
	if q.Len() != 50 || q.Drain() != 50 {
		t.Fatal("lost posts")
	}
}
