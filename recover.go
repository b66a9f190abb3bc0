package oncez

import (
	"context"
	"errors"
	"fmt"

	"github.com/zoobzio/clockz"
)

// runConstructor executes a constructor with panic containment and wraps
// any failure in a *ConstructionError. The returned error is nil exactly
// when the constructed value may be published.
func runConstructor[T any](ctx context.Context, source Name, typ string, ctor Constructor[T], clock clockz.Clock) (value T, cerr *ConstructionError) {
	start := clock.Now()

	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("constructor panic: %v", r)
			}
			cerr = &ConstructionError{
				Err:       err,
				TypeName:  typ,
				Source:    source,
				Timestamp: start,
				Duration:  clock.Since(start),
				Panicked:  true,
			}
		}
	}()

	value, err := ctor(ctx)
	if err != nil {
		return value, &ConstructionError{
			Err:       err,
			TypeName:  typ,
			Source:    source,
			Timestamp: start,
			Duration:  clock.Since(start),
			Canceled:  errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded),
		}
	}
	return value, nil
}
