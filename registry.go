package oncez

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the Registry.
const (
	// Metrics.
	RegistryHitsTotal          = metricz.Key("registry.hits.total")
	RegistryMissesTotal        = metricz.Key("registry.misses.total")
	RegistryConstructionsTotal = metricz.Key("registry.constructions.total")
	RegistryFailuresTotal      = metricz.Key("registry.failures.total")
	RegistryResetsTotal        = metricz.Key("registry.resets.total")
	RegistryTypesCount         = metricz.Key("registry.types.count")
	RegistryConstructMs        = metricz.Key("registry.construct.ms")

	// Spans.
	RegistryConstructSpan = tracez.Key("registry.construct")

	// Tags.
	RegistryTagName    = tracez.Tag("registry.name")
	RegistryTagType    = tracez.Tag("registry.type")
	RegistryTagSuccess = tracez.Tag("registry.success")
	RegistryTagPanic   = tracez.Tag("registry.panic")
	RegistryTagError   = tracez.Tag("registry.error")

	// Hook event keys.
	RegistryEventConstructed = hookz.Key("registry.constructed")
	RegistryEventFailed      = hookz.Key("registry.construction_failed")
	RegistryEventReset       = hookz.Key("registry.reset")
	RegistryEventResetAll    = hookz.Key("registry.reset_all")
)

// RegistryEvent represents a registry lifecycle event.
// This is emitted via hookz when a type's instance is constructed, when a
// constructor fails, or when cached instances are dropped by a reset.
type RegistryEvent struct {
	Name       Name          // Registry name
	TypeName   string        // Type the event concerns (empty for reset_all)
	Generation int           // Registry epoch counter at the time of the event
	Size       int           // Cached instance count after the event
	Success    bool          // Whether construction succeeded (for constructed/failed)
	Panicked   bool          // Whether the constructor panicked (for failed)
	Error      error         // Error if construction failed
	Duration   time.Duration // How long the constructor ran
	Timestamp  time.Time     // When the event occurred
}

// entry is one published instance. Entries are immutable once stored;
// replacing the cache means storing a new snapshot, never mutating one.
type entry struct {
	value      any
	typeName   string
	generation int
}

// snapshot is an immutable view of the instance cache. Readers load it
// atomically; writers copy, modify, and store a fresh one under the
// guard lock.
type snapshot map[reflect.Type]*entry

// Registry is a type-indexed lazy singleton provider.
//
// For any type T resolved through Get, the registry guarantees at most one
// instance per epoch: the first caller constructs under the registry's
// guard lock while concurrent first callers block; every later caller gets
// the same instance through a lock-free atomic snapshot read. Identity is
// the Go type itself — two Get calls for the same T always meet the same
// cache entry, regardless of which constructor closure they pass.
//
// CRITICAL: Registry is a STATEFUL component. Create it once and share it;
// a fresh registry per call site caches nothing across calls. Hold it as a
// package variable or inject it as a dependency.
//
// One guard mutex covers the whole registry, so first-construction of type
// A blocks concurrent first-construction of type B. That is a deliberate
// simplicity trade-off: after warm-up every read is lock-free, and first
// construction happens once per type per process in normal operation. When
// unrelated expensive constructions must proceed in parallel, give each
// type its own Singleton cell instead.
//
// # Observability
//
// Registry provides comprehensive observability through metrics, tracing,
// and events:
//
// Metrics:
//   - registry.hits.total: Counter of fast-path reads of published instances
//   - registry.misses.total: Counter of Get calls that entered the slow path
//   - registry.constructions.total: Counter of successful constructor runs
//   - registry.failures.total: Counter of failed constructor runs
//   - registry.resets.total: Counter of reset operations (per-type and all)
//   - registry.types.count: Gauge of currently cached instance count
//   - registry.construct.ms: Gauge of last constructor duration
//
// Traces:
//   - registry.construct: Span for each constructor run (slow path only)
//
// Events (via hooks):
//   - registry.constructed: Fired when a type's instance is published
//   - registry.construction_failed: Fired when a constructor errors or panics
//   - registry.reset: Fired when one type's instance is dropped
//   - registry.reset_all: Fired when every instance is dropped
//
// Example with hooks:
//
//	reg.OnConstructed(func(ctx context.Context, event oncez.RegistryEvent) error {
//	    log.Printf("%s ready in %v", event.TypeName, event.Duration)
//	    return nil
//	})
type Registry struct {
	snap atomic.Pointer[snapshot]

	clock      clockz.Clock
	name       Name
	mu         sync.Mutex // guard lock: serializes all construction and resets
	generation int

	// Observability
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[RegistryEvent]
}

// NewRegistry creates an empty registry.
func NewRegistry(name Name) *Registry {
	// Initialize observability
	metrics := metricz.New()
	metrics.Counter(RegistryHitsTotal)
	metrics.Counter(RegistryMissesTotal)
	metrics.Counter(RegistryConstructionsTotal)
	metrics.Counter(RegistryFailuresTotal)
	metrics.Counter(RegistryResetsTotal)
	metrics.Gauge(RegistryTypesCount)
	metrics.Gauge(RegistryConstructMs)

	r := &Registry{
		name:    name,
		clock:   clockz.RealClock,
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[RegistryEvent](),
	}
	empty := make(snapshot)
	r.snap.Store(&empty)
	return r
}

// Get returns the canonical instance of T from the registry, constructing
// it on first demand.
//
// Identity is the type T, not the constructor: if two callers race with
// different constructor closures for the same T, the one that constructs
// first wins and the other receives its instance. Construction arguments
// belong in the constructor closure.
//
// If the constructor fails, the error propagates to the caller that ran
// it, the type remains uninitialized, and callers that were blocked on the
// guard lock re-check, find nothing, and retry construction in turn.
func Get[T any](ctx context.Context, r *Registry, ctor Constructor[T]) (T, error) {
	key := typeOf[T]()

	// Fast path: published snapshot, no lock.
	if e, ok := (*r.snap.Load())[key]; ok {
		r.metrics.Counter(RegistryHitsTotal).Inc()
		return e.value.(T), nil
	}

	r.metrics.Counter(RegistryMissesTotal).Inc()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check: another goroutine may have published while we waited.
	if e, ok := (*r.snap.Load())[key]; ok {
		r.metrics.Counter(RegistryHitsTotal).Inc()
		return e.value.(T), nil
	}

	value, cerr := construct(ctx, r, ctor)
	if cerr != nil {
		var zero T
		return zero, cerr
	}

	r.publish(key, &entry{
		value:      value,
		typeName:   typeNameOf(key),
		generation: r.generation,
	})
	return value, nil
}

// construct runs a constructor under the guard lock, recording
// observability for the attempt.
func construct[T any](ctx context.Context, r *Registry, ctor Constructor[T]) (T, *ConstructionError) {
	typ := typeName[T]()
	clock := r.clock

	ctx, span := r.tracer.StartSpan(ctx, RegistryConstructSpan)
	span.SetTag(RegistryTagName, string(r.name))
	span.SetTag(RegistryTagType, typ)
	defer span.Finish()

	start := clock.Now()
	value, cerr := runConstructor(ctx, r.name, typ, ctor, clock)
	elapsed := clock.Since(start)
	r.metrics.Gauge(RegistryConstructMs).Set(float64(elapsed.Milliseconds()))

	if cerr != nil {
		r.metrics.Counter(RegistryFailuresTotal).Inc()
		span.SetTag(RegistryTagSuccess, "false")
		span.SetTag(RegistryTagPanic, fmt.Sprintf("%t", cerr.Panicked))
		span.SetTag(RegistryTagError, cerr.Err.Error())

		capitan.Error(ctx, SignalRegistryConstructionFailed,
			FieldName.Field(string(r.name)),
			FieldType.Field(typ),
			FieldError.Field(cerr.Err.Error()),
			FieldPanicked.Field(fmt.Sprintf("%t", cerr.Panicked)),
			FieldGeneration.Field(r.generation),
			FieldDuration.Field(elapsed.Seconds()),
			FieldTimestamp.Field(float64(clock.Now().Unix())),
		)

		_ = r.hooks.Emit(ctx, RegistryEventFailed, RegistryEvent{ //nolint:errcheck
			Name:       r.name,
			TypeName:   typ,
			Generation: r.generation,
			Size:       r.Len(),
			Success:    false,
			Panicked:   cerr.Panicked,
			Error:      cerr.Err,
			Duration:   elapsed,
			Timestamp:  clock.Now(),
		})

		var zero T
		return zero, cerr
	}

	r.metrics.Counter(RegistryConstructionsTotal).Inc()
	span.SetTag(RegistryTagSuccess, "true")

	capitan.Info(ctx, SignalRegistryConstructed,
		FieldName.Field(string(r.name)),
		FieldType.Field(typ),
		FieldGeneration.Field(r.generation),
		FieldDuration.Field(elapsed.Seconds()),
		FieldTimestamp.Field(float64(clock.Now().Unix())),
	)

	_ = r.hooks.Emit(ctx, RegistryEventConstructed, RegistryEvent{ //nolint:errcheck
		Name:       r.name,
		TypeName:   typ,
		Generation: r.generation,
		Size:       r.Len() + 1,
		Success:    true,
		Duration:   elapsed,
		Timestamp:  clock.Now(),
	})

	return value, nil
}

// publish stores a copy-on-write snapshot containing the new entry.
// Must hold r.mu.
func (r *Registry) publish(key reflect.Type, e *entry) {
	old := *r.snap.Load()
	next := make(snapshot, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[key] = e
	r.snap.Store(&next)
	r.metrics.Gauge(RegistryTypesCount).Set(float64(len(next)))
}

// Lookup returns the published instance of T without constructing.
// The second return is false when T has no cached instance.
func Lookup[T any](r *Registry) (T, bool) {
	if e, ok := (*r.snap.Load())[typeOf[T]()]; ok {
		return e.value.(T), true
	}
	var zero T
	return zero, false
}

// Ready reports whether T has a constructed, published instance.
func Ready[T any](r *Registry) bool {
	_, ok := (*r.snap.Load())[typeOf[T]()]
	return ok
}

// GenerationOf returns the registry epoch in which T's cached instance was
// constructed. The second return is false when T has no cached instance.
// An instance surviving from an earlier epoch than Generation() means only
// other types were reset since it was built.
func GenerationOf[T any](r *Registry) (int, bool) {
	if e, ok := (*r.snap.Load())[typeOf[T]()]; ok {
		return e.generation, true
	}
	return 0, false
}

// Reset drops the cached instance for T, starting a new epoch for that
// type. It returns true when an instance was dropped. Other types are
// unaffected.
//
// Reset is intended for test isolation in a quiesced state. A Get racing
// a Reset returns either the pre-reset instance or a freshly constructed
// one, never a partially built object.
func Reset[T any](r *Registry) bool {
	key := typeOf[T]()

	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.snap.Load()
	if _, ok := old[key]; !ok {
		return false
	}

	next := make(snapshot, len(old))
	for k, v := range old {
		if k != key {
			next[k] = v
		}
	}
	r.snap.Store(&next)
	r.generation++
	r.metrics.Counter(RegistryResetsTotal).Inc()
	r.metrics.Gauge(RegistryTypesCount).Set(float64(len(next)))

	typ := typeNameOf(key)
	capitan.Info(context.Background(), SignalRegistryReset,
		FieldName.Field(string(r.name)),
		FieldType.Field(typ),
		FieldGeneration.Field(r.generation),
		FieldSize.Field(len(next)),
		FieldTimestamp.Field(float64(r.clock.Now().Unix())),
	)

	_ = r.hooks.Emit(context.Background(), RegistryEventReset, RegistryEvent{ //nolint:errcheck
		Name:       r.name,
		TypeName:   typ,
		Generation: r.generation,
		Size:       len(next),
		Timestamp:  r.clock.Now(),
	})

	return true
}

// ResetAll drops every cached instance, starting a new epoch for all
// types. Intended for test isolation between test cases.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.snap.Load()
	if len(old) == 0 {
		return
	}

	empty := make(snapshot)
	r.snap.Store(&empty)
	r.generation++
	r.metrics.Counter(RegistryResetsTotal).Inc()
	r.metrics.Gauge(RegistryTypesCount).Set(0)

	capitan.Info(context.Background(), SignalRegistryResetAll,
		FieldName.Field(string(r.name)),
		FieldGeneration.Field(r.generation),
		FieldSize.Field(0),
		FieldTimestamp.Field(float64(r.clock.Now().Unix())),
	)

	_ = r.hooks.Emit(context.Background(), RegistryEventResetAll, RegistryEvent{ //nolint:errcheck
		Name:       r.name,
		Generation: r.generation,
		Size:       0,
		Timestamp:  r.clock.Now(),
	})
}

// Len returns the number of cached instances.
func (r *Registry) Len() int {
	return len(*r.snap.Load())
}

// Types returns the names of all cached types, sorted for stable output.
func (r *Registry) Types() []string {
	snap := *r.snap.Load()
	out := make([]string, 0, len(snap))
	for _, e := range snap {
		out = append(out, e.typeName)
	}
	sort.Strings(out)
	return out
}

// Generation returns the registry epoch counter. It starts at zero and
// increments on every reset operation that dropped at least one instance.
func (r *Registry) Generation() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

// WithClock sets a custom clock for testing.
func (r *Registry) WithClock(clock clockz.Clock) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = clock
	return r
}

// Name returns the name of this registry.
func (r *Registry) Name() Name {
	return r.name
}

// Metrics returns the metrics registry for this component.
func (r *Registry) Metrics() *metricz.Registry {
	return r.metrics
}

// Tracer returns the tracer for this component.
func (r *Registry) Tracer() *tracez.Tracer {
	return r.tracer
}

// Close gracefully shuts down observability components.
func (r *Registry) Close() error {
	if r.tracer != nil {
		r.tracer.Close()
	}
	r.hooks.Close()
	return nil
}

// OnConstructed registers a handler for when a type's instance is
// published. The handler is called asynchronously after the constructor
// succeeds.
func (r *Registry) OnConstructed(handler func(context.Context, RegistryEvent) error) error {
	_, err := r.hooks.Hook(RegistryEventConstructed, handler)
	return err
}

// OnConstructionFailed registers a handler for when a constructor errors
// or panics. The handler is called asynchronously; the type remains
// uninitialized.
func (r *Registry) OnConstructionFailed(handler func(context.Context, RegistryEvent) error) error {
	_, err := r.hooks.Hook(RegistryEventFailed, handler)
	return err
}

// OnReset registers a handler for when one type's instance is dropped.
func (r *Registry) OnReset(handler func(context.Context, RegistryEvent) error) error {
	_, err := r.hooks.Hook(RegistryEventReset, handler)
	return err
}

// OnResetAll registers a handler for when every instance is dropped.
func (r *Registry) OnResetAll(handler func(context.Context, RegistryEvent) error) error {
	_, err := r.hooks.Hook(RegistryEventResetAll, handler)
	return err
}
