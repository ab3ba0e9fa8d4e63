package resilience

import "context"

// OnRetry registers a hook invoked before every retry wait, typically a
// metrics counter keyed by operation.
func (e *Executor) OnRetry(hook func(operation string)) {
	if e == nil {
		return
	}
	e.onRetry = hook
}

func (e *Executor) notifyRetry(operation string) {
	if e.onRetry != nil {
		e.onRetry(operation)
	}
}

// Call is Execute for operations that produce a value.
func Call[T any](
	ctx context.Context,
	e *Executor,
	operation string,
	fn func(context.Context) (T, error),
	classifier ErrorClassifier,
) (T, error) {
	var out T
	err := e.Execute(ctx, operation, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, classifier)
	return out, err
}
