// Package oncez provides lazy, thread-safe singleton construction for Go.
//
// # Overview
//
// oncez guarantees that for any registered type, at most one instance is
// ever constructed per epoch, no matter how many goroutines race to obtain
// the instance for the first time. It implements double-checked locking:
// a lock-free fast path for the overwhelmingly common "already constructed"
// case, and a mutex-guarded slow path that re-checks and constructs exactly
// once. An epoch is the period between process start (or the last reset)
// and the next reset; resets exist for test isolation and start a fresh
// epoch in which the next access constructs a new instance.
//
// # Core Concepts
//
// The library ships two components that share the same publication
// discipline:
//
//   - Singleton[T]: a standalone once-cell holding a single lazily built
//     instance of T, with its own lock. Use one cell per type when
//     unrelated first-constructions must not serialize on each other.
//   - Registry: a type-indexed provider holding many types behind one
//     guard mutex. Simpler to hold onto, at the cost of serializing
//     first-construction of unrelated types.
//
// Both publish instances through an atomic pointer store, so fast-path
// readers observe fully constructed instances without taking any lock.
// Constructors receive a context.Context, may fail with an error, and are
// retried by a later caller if they do; a panicking constructor is
// converted to a *ConstructionError and leaves the cell empty.
//
// # Usage Example
//
// A database pool that the whole process shares:
//
//	var pool = oncez.NewSingleton("db-pool", func(ctx context.Context) (*sql.DB, error) {
//	    return sql.Open("postgres", dsn)
//	})
//
//	func handler(ctx context.Context) error {
//	    db, err := pool.Get(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    // every caller sees the same *sql.DB
//	    return db.PingContext(ctx)
//	}
//
// Or many types behind one registry:
//
//	reg := oncez.NewRegistry("app")
//
//	flags, err := oncez.Get(ctx, reg, func(ctx context.Context) (*FeatureFlags, error) {
//	    return LoadFlags(ctx)
//	})
//
// # Error Handling
//
// Construction failures are wrapped in *ConstructionError, which records
// the type being built, the underlying cause, when the attempt happened,
// how long it ran, and whether it ended in a panic or a context
// cancellation:
//
//	_, err := pool.Get(ctx)
//	if err != nil {
//	    var cerr *oncez.ConstructionError
//	    if errors.As(err, &cerr) {
//	        log.Printf("building %s failed after %v: %v", cerr.TypeName, cerr.Duration, cerr.Err)
//	    }
//	}
//
// A failed construction caches nothing: the next Get retries from a clean
// state. Success is sticky until an explicit Reset.
//
// # Observability
//
// Every component carries its own metrics registry (construction counts,
// fast-path hits, failures, resets, construction duration), a tracer that
// spans each constructor run, lifecycle hooks (constructed, failed, reset)
// for external integration, and capitan signals for structured logging.
// See the Metrics, Tracer, and On* methods on each component.
//
// # Testing
//
// Reset and ResetAll clear cached instances between test cases. They are
// intended for quiesced states: a Get racing a Reset returns either the
// pre-reset instance or a freshly constructed one, never a partially built
// object. WithClock injects a clockz.Clock so tests can pin timestamps and
// durations.
package oncez
