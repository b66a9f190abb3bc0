package oncez

import "context"

// Name is a type alias for component names. Using this type encourages
// storing names as constants rather than using inline strings throughout
// your code. Names appear in errors, events, signals, and span tags.
//
// Example:
//
//	const (
//	    CellDatabasePool = "db-pool"
//	    CellFeatureFlags = "feature-flags"
//	)
type Name = string

// Constructor builds the canonical instance of T. It is invoked at most
// once per epoch per type: concurrent first callers block while a single
// constructor runs, and a successful result is cached until reset. On
// error (or panic) nothing is cached and a later caller retries.
//
// Constructors receive the context of the caller that triggered the slow
// path. They should honor cancellation for long-running work; oncez adds
// no timeout of its own.
type Constructor[T any] func(context.Context) (T, error)
