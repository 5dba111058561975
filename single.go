// Single implementation for rxsched
// 单值Single：冷的、延迟执行的计算描述，订阅后发射一个值或一个错误
package rxsched

import (
	"context"
)

// ============================================================================
// 节点类型
// ============================================================================

// nodeKind tags the variant a Single node holds.
type nodeKind int

const (
	kindJust nodeKind = iota
	kindError
	kindCallable
	kindMap
	kindDoOnSuccess
	kindFlatMap
	kindSubscribeOn
	kindObserveOn
)

func (k nodeKind) String() string {
	switch k {
	case kindJust:
		return "just"
	case kindError:
		return "error"
	case kindCallable:
		return "fromCallable"
	case kindMap:
		return "map"
	case kindDoOnSuccess:
		return "doOnSuccess"
	case kindFlatMap:
		return "flatMap"
	case kindSubscribeOn:
		return "subscribeOn"
	case kindObserveOn:
		return "observeOn"
	default:
		return "unknown"
	}
}

func (k nodeKind) isSource() bool {
	return k == kindJust || k == kindError || k == kindCallable
}

// ============================================================================
// Single
// ============================================================================

// Single is an immutable description of a deferred computation that yields one
// value or one error. Operators return new nodes pointing at their upstream, so
// a Single can be shared by any number of chains. Nothing runs until Subscribe.
type Single struct {
	kind     nodeKind
	upstream *Single

	value       interface{}
	err         error
	callable    Callable
	transformer Transformer
	consumer    Consumer
	mapper      SingleMapper
	scheduler   Scheduler
}

// validate 检查节点是否完整
func (s *Single) validate() error {
	if !s.kind.isSource() && s.upstream == nil {
		return NewCompositionError(s.kind.String(), "operator has no upstream Single")
	}

	switch s.kind {
	case kindError:
		if s.err == nil {
			return NewCompositionError(s.kind.String(), "nil error")
		}
	case kindCallable:
		if s.callable == nil {
			return NewCompositionError(s.kind.String(), "nil callable")
		}
	case kindMap:
		if s.transformer == nil {
			return NewCompositionError(s.kind.String(), "nil transformer")
		}
	case kindDoOnSuccess:
		if s.consumer == nil {
			return NewCompositionError(s.kind.String(), "nil consumer")
		}
	case kindFlatMap:
		if s.mapper == nil {
			return NewCompositionError(s.kind.String(), "nil mapper")
		}
	case kindSubscribeOn, kindObserveOn:
		if s.scheduler == nil {
			return NewCompositionError(s.kind.String(), "nil scheduler")
		}
	}
	return nil
}

// ============================================================================
// Single 工厂函数
// ============================================================================

// Just 创建发射单个值的Single，不做任何调度
func Just(value interface{}) *Single {
	return &Single{kind: kindJust, value: value}
}

// Error 创建发射错误的Single
func Error(err error) *Single {
	return &Single{kind: kindError, err: err}
}

// FromCallable creates a Single whose value is computed by callable at
// subscription time, on the scheduler chosen for the source step.
func FromCallable(callable Callable) *Single {
	return &Single{kind: kindCallable, callable: callable}
}

// ============================================================================
// 操作符
// ============================================================================

// Map applies transformer to the upstream value on the current worker.
func (s *Single) Map(transformer Transformer) *Single {
	return &Single{kind: kindMap, upstream: s, transformer: transformer}
}

// DoOnSuccess invokes consumer with the upstream value and forwards the value
// unchanged. An error returned by consumer terminates the chain.
func (s *Single) DoOnSuccess(consumer Consumer) *Single {
	return &Single{kind: kindDoOnSuccess, upstream: s, consumer: consumer}
}

// FlatMap subscribes to the Single returned by mapper, treating the current
// worker as the subscribing goroutine, and forwards its result. Stages after
// FlatMap continue on the worker the inner Single finished on.
func (s *Single) FlatMap(mapper SingleMapper) *Single {
	return &Single{kind: kindFlatMap, upstream: s, mapper: mapper}
}

// SubscribeOn runs the source step on scheduler. When a chain holds several
// SubscribeOn nodes, the one nearest to the source wins and the others have no
// effect.
func (s *Single) SubscribeOn(scheduler Scheduler) *Single {
	return &Single{kind: kindSubscribeOn, upstream: s, scheduler: scheduler}
}

// ObserveOn moves every stage after it onto scheduler.
func (s *Single) ObserveOn(scheduler Scheduler) *Single {
	return &Single{kind: kindObserveOn, upstream: s, scheduler: scheduler}
}

// ============================================================================
// 订阅
// ============================================================================

// Subscribe 订阅单值观察者，订阅者所在的goroutine即为调用方
func (s *Single) Subscribe(onSuccess OnSuccess, onError OnError) Subscription {
	return s.SubscribeWithContext(context.Background(), onSuccess, onError)
}

// SubscribeWithContext subscribes with ctx as the caller context. Values in ctx,
// including a name set with WithCallerName, reach every stage. Cancelling ctx
// ends the chain with ctx.Err() at the next stage boundary.
func (s *Single) SubscribeWithContext(ctx context.Context, onSuccess OnSuccess, onError OnError) Subscription {
	if ctx == nil {
		ctx = context.Background()
	}

	sub := newSubscription(ctx, onSuccess, onError)
	ex, err := newExecution(sub, s, sub.succeed, sub.fail)
	if err != nil {
		sub.fail(sub.ctx, err)
		return sub
	}

	ex.start(sub.ctx)
	return sub
}

// BlockingGet 阻塞获取值
//
// Calling it from a worker of a scheduler the chain needs, with no other free
// worker, deadlocks.
func (s *Single) BlockingGet(ctx context.Context) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	type result struct {
		value interface{}
		err   error
	}
	ch := make(chan result, 1)

	sub := s.SubscribeWithContext(ctx, func(_ context.Context, value interface{}) {
		ch <- result{value: value}
	}, func(_ context.Context, err error) {
		ch <- result{err: err}
	})

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		// 结果可能与取消同时到达
		select {
		case r := <-ch:
			return r.value, r.err
		default:
		}
		sub.Unsubscribe()
		return nil, ctx.Err()
	}
}
