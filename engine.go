// Execution engine for rxsched
// 执行引擎：编译链、确定源调度器、按顺序执行阶段，并在ObserveOn处切换线程
package rxsched

import (
	"context"
	"fmt"
)

// execution drives one pass over a compiled chain. An inner FlatMap chain gets
// its own execution that shares the outer subscription.
type execution struct {
	sub       *subscription
	stages    []*Single
	onSuccess func(ctx context.Context, value interface{})
	onError   func(ctx context.Context, err error)
}

func newExecution(sub *subscription, s *Single, onSuccess func(context.Context, interface{}), onError func(context.Context, error)) (*execution, error) {
	stages, err := compile(s)
	if err != nil {
		return nil, err
	}
	return &execution{
		sub:       sub,
		stages:    stages,
		onSuccess: onSuccess,
		onError:   onError,
	}, nil
}

// compile walks from s up to its source and returns the stages source first.
func compile(s *Single) ([]*Single, error) {
	if s == nil {
		return nil, NewCompositionError("subscribe", "nil Single")
	}

	var stages []*Single
	for n := s; n != nil; n = n.upstream {
		if err := n.validate(); err != nil {
			return nil, err
		}
		stages = append(stages, n)
		if n.kind.isSource() {
			break
		}
	}

	for i, j := 0, len(stages)-1; i < j; i, j = i+1, j-1 {
		stages[i], stages[j] = stages[j], stages[i]
	}
	return stages, nil
}

// sourceScheduler returns the scheduler of the SubscribeOn nearest to the
// source, or nil when the source runs on the subscribing goroutine.
func sourceScheduler(stages []*Single) Scheduler {
	for _, st := range stages {
		if st.kind == kindSubscribeOn {
			return st.scheduler
		}
	}
	return nil
}

// start commits the source step to its goroutine.
func (ex *execution) start(ctx context.Context) {
	target := sourceScheduler(ex.stages)
	if target == nil {
		ex.produce(ctx)
		return
	}
	ex.handOff(ctx, target, kindSubscribeOn, ex.produce)
}

// handOff submits next to target as a single task.
func (ex *execution) handOff(ctx context.Context, target Scheduler, kind nodeKind, next func(ctx context.Context)) {
	ex.sub.log.Trace().
		Str(FieldStage, kind.String()).
		Str(FieldWorker, CurrentWorker(ctx).String()).
		Str(FieldScheduler, target.Name()).
		Msg("hand-off")

	if d := target.ScheduleWithContext(ctx, next); d.IsDisposed() {
		ex.onError(ctx, fmt.Errorf("%s(%s): %w", kind, target.Name(), ErrSchedulerShutdown))
	}
}

// produce runs the source step.
func (ex *execution) produce(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		ex.onError(ctx, err)
		return
	}

	src := ex.stages[0]
	var value interface{}
	var err error

	switch src.kind {
	case kindJust:
		value = src.value
	case kindError:
		err = src.err
	case kindCallable:
		err = guard(src.kind.String(), func() (cerr error) {
			value, cerr = src.callable(ctx)
			return cerr
		})
	}

	if err != nil {
		ex.onError(ctx, err)
		return
	}
	ex.resume(ctx, 1, value)
}

// resume runs stages from index from onward on the current goroutine until the
// chain ends, fails, or hands off.
func (ex *execution) resume(ctx context.Context, from int, value interface{}) {
	for i := from; i < len(ex.stages); i++ {
		if err := ctx.Err(); err != nil {
			ex.onError(ctx, err)
			return
		}

		st := ex.stages[i]
		switch st.kind {
		case kindMap:
			next, err := ex.applyMap(ctx, st, value)
			if err != nil {
				ex.onError(ctx, err)
				return
			}
			value = next

		case kindDoOnSuccess:
			err := guard(st.kind.String(), func() error {
				return st.consumer(ctx, value)
			})
			if err != nil {
				ex.onError(ctx, err)
				return
			}

		case kindSubscribeOn:
			// the source step has already been committed to a goroutine

		case kindObserveOn:
			rest, v := i+1, value
			ex.handOff(ctx, st.scheduler, st.kind, func(wctx context.Context) {
				ex.resume(wctx, rest, v)
			})
			return

		case kindFlatMap:
			ex.flatMap(ctx, st, i+1, value)
			return
		}
	}

	ex.onSuccess(ctx, value)
}

func (ex *execution) applyMap(ctx context.Context, st *Single, value interface{}) (result interface{}, err error) {
	err = guard(st.kind.String(), func() (terr error) {
		result, terr = st.transformer(ctx, value)
		return terr
	})
	return result, err
}

// flatMap subscribes the inner chain with the current worker as its caller and
// continues the outer chain from next once the inner chain succeeds.
func (ex *execution) flatMap(ctx context.Context, st *Single, next int, value interface{}) {
	var inner *Single
	err := guard(st.kind.String(), func() (merr error) {
		inner, merr = st.mapper(ctx, value)
		return merr
	})
	if err != nil {
		ex.onError(ctx, err)
		return
	}
	if inner == nil {
		ex.onError(ctx, NewCompositionError(st.kind.String(), "mapper returned a nil Single"))
		return
	}

	innerEx, err := newExecution(ex.sub, inner, func(ictx context.Context, v interface{}) {
		ex.resume(ictx, next, v)
	}, ex.onError)
	if err != nil {
		ex.onError(ctx, err)
		return
	}

	ex.sub.log.Trace().Str(FieldWorker, CurrentWorker(ctx).String()).Msg("inner subscribe")
	innerEx.start(ctx)
}
