// Worker identity carried through context.Context
// 执行线程标识：记录当前阶段由哪个调度器的哪个worker执行
package rxsched

import "context"

// DefaultCallerName names the subscribing goroutine when the caller did not
// name it with WithCallerName.
const DefaultCallerName = "caller"

// Worker identifies the goroutine executing a stage. Scheduler is empty when the
// stage runs on the goroutine that called Subscribe.
type Worker struct {
	Scheduler string
	Name      string
}

// IsCaller reports whether the stage runs on the subscribing goroutine.
func (w Worker) IsCaller() bool {
	return w.Scheduler == ""
}

func (w Worker) String() string {
	if w.IsCaller() {
		return w.Name
	}
	return w.Scheduler + "/" + w.Name
}

type workerKey struct{}

// WithCallerName marks ctx as belonging to a caller goroutine called name.
func WithCallerName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, workerKey{}, Worker{Name: name})
}

// withWorker 由调度器在执行任务前调用
func withWorker(ctx context.Context, scheduler, name string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, workerKey{}, Worker{Scheduler: scheduler, Name: name})
}

// CurrentWorker returns the worker a stage function or callback is running on.
func CurrentWorker(ctx context.Context) Worker {
	if ctx != nil {
		if w, ok := ctx.Value(workerKey{}).(Worker); ok {
			return w
		}
	}
	return Worker{Name: DefaultCallerName}
}

// ThreadName returns the name of the worker in ctx, e.g. "RxCachedThreadScheduler-2".
func ThreadName(ctx context.Context) string {
	return CurrentWorker(ctx).Name
}
