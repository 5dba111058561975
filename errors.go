// Error types for rxsched
// 管道错误类型：组合错误、panic错误和调度器拒绝
package rxsched

import (
	"errors"
	"fmt"
)

// ErrSchedulerShutdown is delivered when a hand-off targets a scheduler that no
// longer accepts work.
var ErrSchedulerShutdown = errors.New("rxsched: scheduler is shut down")

// ============================================================================
// 组合错误 - composition errors
// ============================================================================

// CompositionError reports an invalid chain, such as a nil stage function or a
// FlatMap mapper that returned no inner Single. It surfaces when the chain is
// subscribed, never at assembly.
type CompositionError struct {
	Operator string
	message  string
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("rxsched: invalid %s: %s", e.Operator, e.message)
}

// NewCompositionError 创建组合错误
func NewCompositionError(operator, message string) *CompositionError {
	return &CompositionError{Operator: operator, message: message}
}

// ============================================================================
// Panic错误
// ============================================================================

// PanicError wraps a value recovered from a panicking stage function.
type PanicError struct {
	Operator string
	Value    interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("rxsched: panic in %s: %v", e.Operator, e.Value)
}

// Unwrap returns the panic value when it was an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// guard runs fn and turns a panic into a *PanicError.
func guard(operator string, fn func() error) (err error) {
	if r := SafeExecute(func() { err = fn() }); r != nil {
		return &PanicError{Operator: operator, Value: r}
	}
	return err
}
