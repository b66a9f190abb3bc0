package oncez

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the Singleton cell.
const (
	// Metrics.
	SingletonHitsTotal          = metricz.Key("singleton.hits.total")
	SingletonConstructionsTotal = metricz.Key("singleton.constructions.total")
	SingletonFailuresTotal      = metricz.Key("singleton.failures.total")
	SingletonResetsTotal        = metricz.Key("singleton.resets.total")
	SingletonConstructMs        = metricz.Key("singleton.construct.ms")

	// Spans.
	SingletonConstructSpan = tracez.Key("singleton.construct")

	// Tags.
	SingletonTagName    = tracez.Tag("singleton.name")
	SingletonTagType    = tracez.Tag("singleton.type")
	SingletonTagSuccess = tracez.Tag("singleton.success")
	SingletonTagPanic   = tracez.Tag("singleton.panic")
	SingletonTagError   = tracez.Tag("singleton.error")

	// Hook event keys.
	SingletonEventConstructed = hookz.Key("singleton.constructed")
	SingletonEventFailed      = hookz.Key("singleton.construction_failed")
	SingletonEventReset       = hookz.Key("singleton.reset")
)

// SingletonEvent represents a singleton cell lifecycle event.
// This is emitted via hookz when an instance is constructed, when a
// constructor fails, or when the cell is reset, providing visibility
// into instance lifecycle without coupling callers to the cell.
type SingletonEvent struct {
	Name       Name          // Cell name
	TypeName   string        // Type held by the cell
	Generation int           // Epoch counter at the time of the event
	Success    bool          // Whether construction succeeded (for constructed/failed)
	Panicked   bool          // Whether the constructor panicked (for failed)
	Error      error         // Error if construction failed
	Duration   time.Duration // How long the constructor ran
	Timestamp  time.Time     // When the event occurred
}

// box wraps a constructed value so publication is a single atomic pointer
// store. Readers that observe a non-nil box observe a fully built value.
type box[T any] struct {
	value T
}

// Singleton is a lazily initialized once-cell for a single type T.
// The first Get runs the constructor under the cell's lock; every later
// Get returns the same instance through a lock-free atomic load.
//
// CRITICAL: Singleton is a STATEFUL component that caches its instance
// across calls. Create it once and reuse it — do NOT create a new cell
// per request, as each cell caches independently and the "singleton"
// guarantee only spans callers sharing the same cell.
//
// ❌ WRONG - Creating per request (constructs every time):
//
//	func handler(ctx context.Context) {
//	    pool := oncez.NewSingleton("db", openPool) // NEW cell!
//	    db, _ := pool.Get(ctx)                     // constructs again
//	}
//
// ✅ RIGHT - Create once, reuse:
//
//	var pool = oncez.NewSingleton("db", openPool)
//
//	func handler(ctx context.Context) {
//	    db, _ := pool.Get(ctx) // constructed at most once per epoch
//	}
//
// Each cell carries one lock, so first-construction of unrelated types
// held in different cells never serialize on each other. When many types
// should share a single provider (and a single guard lock), use Registry
// instead.
//
// # Observability
//
// Singleton provides comprehensive observability through metrics, tracing,
// and events:
//
// Metrics:
//   - singleton.hits.total: Counter of fast-path reads of a published instance
//   - singleton.constructions.total: Counter of successful constructor runs
//   - singleton.failures.total: Counter of failed constructor runs
//   - singleton.resets.total: Counter of resets
//   - singleton.construct.ms: Gauge of last constructor duration
//
// Traces:
//   - singleton.construct: Span for each constructor run (slow path only)
//
// Events (via hooks):
//   - singleton.constructed: Fired when an instance is published
//   - singleton.construction_failed: Fired when a constructor errors or panics
//   - singleton.reset: Fired when the cell is reset
//
// Example with hooks:
//
//	pool.OnConstructionFailed(func(ctx context.Context, event oncez.SingletonEvent) error {
//	    alert.Warn("building %s failed: %v", event.TypeName, event.Error)
//	    return nil
//	})
type Singleton[T any] struct {
	instance atomic.Pointer[box[T]]

	ctor       Constructor[T]
	clock      clockz.Clock
	name       Name
	mu         sync.Mutex
	generation int

	// Observability
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[SingletonEvent]
}

// NewSingleton creates a once-cell for T with the given constructor.
// The constructor is not invoked until the first Get.
func NewSingleton[T any](name Name, ctor Constructor[T]) *Singleton[T] {
	// Initialize observability
	metrics := metricz.New()
	metrics.Counter(SingletonHitsTotal)
	metrics.Counter(SingletonConstructionsTotal)
	metrics.Counter(SingletonFailuresTotal)
	metrics.Counter(SingletonResetsTotal)
	metrics.Gauge(SingletonConstructMs)

	return &Singleton[T]{
		name:    name,
		ctor:    ctor,
		clock:   clockz.RealClock,
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[SingletonEvent](),
	}
}

// Get returns the canonical instance of T, constructing it on first demand.
//
// Any two calls within the same epoch return the identical instance
// (pointer-identical for pointer types). Concurrent first callers block on
// the cell's lock while a single constructor runs; callers arriving after
// publication never block. If the constructor fails, the error propagates
// to the caller that ran it, nothing is cached, and the next caller
// retries from a clean state.
func (s *Singleton[T]) Get(ctx context.Context) (T, error) {
	// Fast path: published instance, no lock.
	if b := s.instance.Load(); b != nil {
		s.metrics.Counter(SingletonHitsTotal).Inc()
		return b.value, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check: another goroutine may have published while we waited.
	if b := s.instance.Load(); b != nil {
		s.metrics.Counter(SingletonHitsTotal).Inc()
		return b.value, nil
	}

	value, cerr := s.construct(ctx)
	if cerr != nil {
		var zero T
		return zero, cerr
	}

	s.instance.Store(&box[T]{value: value})
	return value, nil
}

// construct runs the constructor under the lock, recording observability.
func (s *Singleton[T]) construct(ctx context.Context) (T, *ConstructionError) {
	typ := typeName[T]()
	clock := s.clock

	ctx, span := s.tracer.StartSpan(ctx, SingletonConstructSpan)
	span.SetTag(SingletonTagName, string(s.name))
	span.SetTag(SingletonTagType, typ)
	defer span.Finish()

	start := clock.Now()
	value, cerr := runConstructor(ctx, s.name, typ, s.ctor, clock)
	elapsed := clock.Since(start)
	s.metrics.Gauge(SingletonConstructMs).Set(float64(elapsed.Milliseconds()))

	if cerr != nil {
		s.metrics.Counter(SingletonFailuresTotal).Inc()
		span.SetTag(SingletonTagSuccess, "false")
		span.SetTag(SingletonTagPanic, fmt.Sprintf("%t", cerr.Panicked))
		span.SetTag(SingletonTagError, cerr.Err.Error())

		capitan.Error(ctx, SignalSingletonConstructionFailed,
			FieldName.Field(string(s.name)),
			FieldType.Field(typ),
			FieldError.Field(cerr.Err.Error()),
			FieldPanicked.Field(fmt.Sprintf("%t", cerr.Panicked)),
			FieldGeneration.Field(s.generation),
			FieldDuration.Field(elapsed.Seconds()),
			FieldTimestamp.Field(float64(clock.Now().Unix())),
		)

		_ = s.hooks.Emit(ctx, SingletonEventFailed, SingletonEvent{ //nolint:errcheck
			Name:       s.name,
			TypeName:   typ,
			Generation: s.generation,
			Success:    false,
			Panicked:   cerr.Panicked,
			Error:      cerr.Err,
			Duration:   elapsed,
			Timestamp:  clock.Now(),
		})

		var zero T
		return zero, cerr
	}

	s.metrics.Counter(SingletonConstructionsTotal).Inc()
	span.SetTag(SingletonTagSuccess, "true")

	capitan.Info(ctx, SignalSingletonConstructed,
		FieldName.Field(string(s.name)),
		FieldType.Field(typ),
		FieldGeneration.Field(s.generation),
		FieldDuration.Field(elapsed.Seconds()),
		FieldTimestamp.Field(float64(clock.Now().Unix())),
	)

	_ = s.hooks.Emit(ctx, SingletonEventConstructed, SingletonEvent{ //nolint:errcheck
		Name:       s.name,
		TypeName:   typ,
		Generation: s.generation,
		Success:    true,
		Duration:   elapsed,
		Timestamp:  clock.Now(),
	})

	return value, nil
}

// Peek returns the published instance without constructing. The second
// return is false when the cell is empty.
func (s *Singleton[T]) Peek() (T, bool) {
	if b := s.instance.Load(); b != nil {
		return b.value, true
	}
	var zero T
	return zero, false
}

// Ready reports whether an instance has been constructed and published.
func (s *Singleton[T]) Ready() bool {
	return s.instance.Load() != nil
}

// Reset clears the cached instance, starting a new epoch. The next Get
// constructs a fresh instance with a new identity.
//
// Reset is intended for test isolation in a quiesced state. It is safe in
// the memory-model sense to race with Get — a racing Get returns either
// the pre-reset instance or a freshly constructed one, never a partially
// built object — but callers holding the old instance keep it.
func (s *Singleton[T]) Reset() *Singleton[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.instance.Load() == nil {
		return s
	}

	s.instance.Store(nil)
	s.generation++
	s.metrics.Counter(SingletonResetsTotal).Inc()

	typ := typeName[T]()
	capitan.Info(context.Background(), SignalSingletonReset,
		FieldName.Field(string(s.name)),
		FieldType.Field(typ),
		FieldGeneration.Field(s.generation),
		FieldTimestamp.Field(float64(s.clock.Now().Unix())),
	)

	_ = s.hooks.Emit(context.Background(), SingletonEventReset, SingletonEvent{ //nolint:errcheck
		Name:       s.name,
		TypeName:   typ,
		Generation: s.generation,
		Timestamp:  s.clock.Now(),
	})

	return s
}

// Generation returns the current epoch counter. It starts at zero and
// increments on every Reset that dropped an instance.
func (s *Singleton[T]) Generation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// WithClock sets a custom clock for testing.
func (s *Singleton[T]) WithClock(clock clockz.Clock) *Singleton[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
	return s
}

// Name returns the name of this cell.
func (s *Singleton[T]) Name() Name {
	return s.name
}

// Metrics returns the metrics registry for this cell.
func (s *Singleton[T]) Metrics() *metricz.Registry {
	return s.metrics
}

// Tracer returns the tracer for this cell.
func (s *Singleton[T]) Tracer() *tracez.Tracer {
	return s.tracer
}

// Close gracefully shuts down observability components.
func (s *Singleton[T]) Close() error {
	if s.tracer != nil {
		s.tracer.Close()
	}
	s.hooks.Close()
	return nil
}

// OnConstructed registers a handler for when an instance is published.
// The handler is called asynchronously after the constructor succeeds.
func (s *Singleton[T]) OnConstructed(handler func(context.Context, SingletonEvent) error) error {
	_, err := s.hooks.Hook(SingletonEventConstructed, handler)
	return err
}

// OnConstructionFailed registers a handler for when a constructor errors
// or panics. The handler is called asynchronously; the cell stays empty.
func (s *Singleton[T]) OnConstructionFailed(handler func(context.Context, SingletonEvent) error) error {
	_, err := s.hooks.Hook(SingletonEventFailed, handler)
	return err
}

// OnReset registers a handler for when the cell is reset.
func (s *Singleton[T]) OnReset(handler func(context.Context, SingletonEvent) error) error {
	_, err := s.hooks.Hook(SingletonEventReset, handler)
	return err
}
