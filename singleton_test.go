package oncez

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

type testService struct {
	id int
}

func TestSingleton(t *testing.T) {
	t.Run("Returns Same Instance Across Calls", func(t *testing.T) {
		var built int32
		cell := NewSingleton("svc", func(_ context.Context) (*testService, error) {
			return &testService{id: int(atomic.AddInt32(&built, 1))}, nil
		})
		defer cell.Close()

		first, err := cell.Get(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		second, err := cell.Get(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if first != second {
			t.Errorf("expected identical instance, got %p and %p", first, second)
		}
		if atomic.LoadInt32(&built) != 1 {
			t.Errorf("expected 1 construction, got %d", built)
		}
	})

	t.Run("Constructor Is Lazy", func(t *testing.T) {
		var built int32
		cell := NewSingleton("svc", func(_ context.Context) (*testService, error) {
			atomic.AddInt32(&built, 1)
			return &testService{}, nil
		})
		defer cell.Close()

		if cell.Ready() {
			t.Error("expected cell to start empty")
		}
		if atomic.LoadInt32(&built) != 0 {
			t.Errorf("constructor ran before first Get: %d", built)
		}

		if _, err := cell.Get(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !cell.Ready() {
			t.Error("expected cell to be ready after Get")
		}
	})

	t.Run("Concurrent First Callers Construct Once", func(t *testing.T) {
		const callers = 50

		var built int32
		cell := NewSingleton("svc", func(_ context.Context) (*testService, error) {
			return &testService{id: int(atomic.AddInt32(&built, 1))}, nil
		})
		defer cell.Close()

		start := make(chan struct{})
		results := make([]*testService, callers)
		var wg sync.WaitGroup

		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				<-start
				svc, err := cell.Get(context.Background())
				if err != nil {
					t.Errorf("caller %d: unexpected error: %v", idx, err)
					return
				}
				results[idx] = svc
			}(i)
		}

		// Release all callers at once
		close(start)
		wg.Wait()

		if atomic.LoadInt32(&built) != 1 {
			t.Errorf("expected exactly 1 construction, got %d", built)
		}
		for i, svc := range results {
			if svc != results[0] {
				t.Fatalf("caller %d got a different instance: %p vs %p", i, svc, results[0])
			}
		}
	})

	t.Run("Failed Construction Caches Nothing", func(t *testing.T) {
		var attempts int32
		cell := NewSingleton("svc", func(_ context.Context) (*testService, error) {
			if atomic.AddInt32(&attempts, 1) == 1 {
				return nil, errors.New("dependency offline")
			}
			return &testService{id: 7}, nil
		})
		defer cell.Close()

		_, err := cell.Get(context.Background())
		if err == nil {
			t.Fatal("expected error from first construction")
		}
		var cerr *ConstructionError
		if !errors.As(err, &cerr) {
			t.Fatalf("expected *ConstructionError, got %T", err)
		}
		if cell.Ready() {
			t.Error("failed construction must not publish an instance")
		}

		// Retry succeeds from a clean state
		svc, err := cell.Get(context.Background())
		if err != nil {
			t.Fatalf("retry failed: %v", err)
		}
		if svc.id != 7 {
			t.Errorf("expected id 7, got %d", svc.id)
		}
		if atomic.LoadInt32(&attempts) != 2 {
			t.Errorf("expected 2 attempts, got %d", attempts)
		}
	})

	t.Run("Panicking Constructor Becomes Error", func(t *testing.T) {
		var attempts int32
		cell := NewSingleton("svc", func(_ context.Context) (*testService, error) {
			if atomic.AddInt32(&attempts, 1) == 1 {
				panic("boom")
			}
			return &testService{}, nil
		})
		defer cell.Close()

		_, err := cell.Get(context.Background())
		if err == nil {
			t.Fatal("expected error from panicking constructor")
		}
		var cerr *ConstructionError
		if !errors.As(err, &cerr) {
			t.Fatalf("expected *ConstructionError, got %T", err)
		}
		if !cerr.IsPanic() {
			t.Error("expected IsPanic to be true")
		}
		if !strings.Contains(cerr.Error(), "panicked") {
			t.Errorf("unexpected message: %v", cerr)
		}
		if cell.Ready() {
			t.Error("panic must not publish an instance")
		}

		if _, err := cell.Get(context.Background()); err != nil {
			t.Fatalf("retry after panic failed: %v", err)
		}
	})

	t.Run("Fast Path Sees Published Instance", func(t *testing.T) {
		cell := NewSingleton("svc", func(_ context.Context) (*testService, error) {
			return &testService{id: 1}, nil
		})
		defer cell.Close()

		// Construct on one goroutine and join it before reading
		var first *testService
		done := make(chan struct{})
		go func() {
			defer close(done)
			first, _ = cell.Get(context.Background())
		}()
		<-done

		// A fresh goroutine that never contended on the lock must observe
		// the published instance
		var second *testService
		read := make(chan struct{})
		go func() {
			defer close(read)
			second, _ = cell.Get(context.Background())
		}()
		<-read

		if first == nil || first != second {
			t.Errorf("expected identical instance, got %p and %p", first, second)
		}
	})

	t.Run("Reset Starts New Epoch", func(t *testing.T) {
		var built int32
		cell := NewSingleton("svc", func(_ context.Context) (*testService, error) {
			return &testService{id: int(atomic.AddInt32(&built, 1))}, nil
		})
		defer cell.Close()

		before, err := cell.Get(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cell.Generation() != 0 {
			t.Errorf("expected generation 0, got %d", cell.Generation())
		}

		cell.Reset()

		if cell.Ready() {
			t.Error("expected cell to be empty after reset")
		}
		if cell.Generation() != 1 {
			t.Errorf("expected generation 1, got %d", cell.Generation())
		}

		after, err := cell.Get(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if before == after {
			t.Error("expected a new identity after reset")
		}
		if atomic.LoadInt32(&built) != 2 {
			t.Errorf("expected exactly one extra construction, got %d total", built)
		}
	})

	t.Run("Reset On Empty Cell Is A No-Op", func(t *testing.T) {
		cell := NewSingleton("svc", func(_ context.Context) (*testService, error) {
			return &testService{}, nil
		})
		defer cell.Close()

		cell.Reset()
		if cell.Generation() != 0 {
			t.Errorf("reset of empty cell must not advance generation, got %d", cell.Generation())
		}
	})

	t.Run("Peek Does Not Construct", func(t *testing.T) {
		var built int32
		cell := NewSingleton("svc", func(_ context.Context) (*testService, error) {
			atomic.AddInt32(&built, 1)
			return &testService{}, nil
		})
		defer cell.Close()

		if _, ok := cell.Peek(); ok {
			t.Error("expected Peek to miss on empty cell")
		}
		if atomic.LoadInt32(&built) != 0 {
			t.Errorf("Peek must not construct, got %d constructions", built)
		}

		want, _ := cell.Get(context.Background())
		got, ok := cell.Peek()
		if !ok || got != want {
			t.Errorf("expected Peek to return published instance")
		}
	})

	t.Run("Tracks Metrics", func(t *testing.T) {
		var attempts int32
		cell := NewSingleton("svc", func(_ context.Context) (*testService, error) {
			if atomic.AddInt32(&attempts, 1) == 1 {
				return nil, errors.New("not yet")
			}
			return &testService{}, nil
		})
		defer cell.Close()

		cell.Get(context.Background()) // fails
		cell.Get(context.Background()) // constructs
		cell.Get(context.Background()) // hit
		cell.Get(context.Background()) // hit
		cell.Reset()

		if v := cell.Metrics().Counter(SingletonFailuresTotal).Value(); v != 1 {
			t.Errorf("expected 1 failure, got %v", v)
		}
		if v := cell.Metrics().Counter(SingletonConstructionsTotal).Value(); v != 1 {
			t.Errorf("expected 1 construction, got %v", v)
		}
		if v := cell.Metrics().Counter(SingletonHitsTotal).Value(); v != 2 {
			t.Errorf("expected 2 hits, got %v", v)
		}
		if v := cell.Metrics().Counter(SingletonResetsTotal).Value(); v != 1 {
			t.Errorf("expected 1 reset, got %v", v)
		}
	})

	t.Run("Emits Lifecycle Events", func(t *testing.T) {
		cell := NewSingleton("svc", func(_ context.Context) (*testService, error) {
			return &testService{}, nil
		})
		defer cell.Close()

		var mu sync.Mutex
		var constructed, reset []SingletonEvent

		cell.OnConstructed(func(_ context.Context, event SingletonEvent) error {
			mu.Lock()
			constructed = append(constructed, event)
			mu.Unlock()
			return nil
		})
		cell.OnReset(func(_ context.Context, event SingletonEvent) error {
			mu.Lock()
			reset = append(reset, event)
			mu.Unlock()
			return nil
		})

		cell.Get(context.Background())
		cell.Reset()

		// Hooks deliver asynchronously
		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		if len(constructed) != 1 {
			t.Fatalf("expected 1 constructed event, got %d", len(constructed))
		}
		if !constructed[0].Success {
			t.Error("expected constructed event to be marked successful")
		}
		if constructed[0].TypeName != "*oncez.testService" {
			t.Errorf("unexpected type name %q", constructed[0].TypeName)
		}
		if len(reset) != 1 {
			t.Fatalf("expected 1 reset event, got %d", len(reset))
		}
		if reset[0].Generation != 1 {
			t.Errorf("expected reset event at generation 1, got %d", reset[0].Generation)
		}
	})

	t.Run("Reports Construction Duration With Injected Clock", func(t *testing.T) {
		clock := clockz.NewFakeClock()

		cell := NewSingleton("svc", func(_ context.Context) (*testService, error) {
			clock.Advance(5 * time.Second)
			return nil, errors.New("slow failure")
		})
		defer cell.Close()
		cell.WithClock(clock)

		_, err := cell.Get(context.Background())
		var cerr *ConstructionError
		if !errors.As(err, &cerr) {
			t.Fatalf("expected *ConstructionError, got %T", err)
		}
		if cerr.Duration != 5*time.Second {
			t.Errorf("expected 5s construction duration, got %v", cerr.Duration)
		}
		if v := cell.Metrics().Gauge(SingletonConstructMs).Value(); v != 5000 {
			t.Errorf("expected 5000ms gauge, got %v", v)
		}
	})

	t.Run("Expensive Constructor Runs Once Under Contention", func(t *testing.T) {
		const callers = 50
		const cost = 20 * time.Millisecond

		var built int32
		cell := NewSingleton("svc", func(_ context.Context) (*testService, error) {
			time.Sleep(cost)
			return &testService{id: int(atomic.AddInt32(&built, 1))}, nil
		})
		defer cell.Close()

		start := make(chan struct{})
		var wg sync.WaitGroup
		begin := time.Now()

		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				cell.Get(context.Background())
			}()
		}
		close(start)
		wg.Wait()
		elapsed := time.Since(begin)

		if atomic.LoadInt32(&built) != 1 {
			t.Errorf("expected 1 construction, got %d", built)
		}
		// All callers together should pay for roughly one construction,
		// not fifty. Generous bound to stay stable on loaded machines.
		if elapsed > 10*cost {
			t.Errorf("expected ~%v total, took %v", cost, elapsed)
		}
	})
}
