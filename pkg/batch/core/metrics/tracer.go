package metrics

import "context"

// Tracer starts spans around the engine's blocking operations.
type Tracer interface {
	// StartSpan starts a span named name. The returned function ends it and
	// records err when it is non-nil.
	StartSpan(ctx context.Context, name string, attributes map[string]string) (context.Context, func(err error))
}
