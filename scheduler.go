// Scheduler implementations for rxsched
// 调度器系统：立即、新线程、固定线程池以及进程级默认调度器
package rxsched

import (
	"context"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// ============================================================================
// 调度器接口
// ============================================================================

// Scheduler is a named execution context backed by workers.
//
// ScheduleWithContext enqueues action and returns immediately. The action gets
// ctx enriched with the identity of the worker running it. A scheduler that no
// longer accepts work returns a Disposable that is already disposed and never
// runs the action. Disposing a returned handle before the task starts skips it.
type Scheduler interface {
	// Name 调度器名称，例如 "io"、"computation"
	Name() string
	// Schedule 调度一个任务
	Schedule(action func()) Disposable
	// ScheduleWithDelay 延迟调度一个任务
	ScheduleWithDelay(action func(), delay time.Duration) Disposable
	// ScheduleWithContext 带上下文的调度
	ScheduleWithContext(ctx context.Context, action func(ctx context.Context)) Disposable
}

// Scheduler names of the default pools.
const (
	NameIO          = "io"
	NameComputation = "computation"
	NameSingle      = "single"
	NameNewThread   = "new-thread"
	NameImmediate   = "immediate"
)

// scheduledTask 队列中的任务
type scheduledTask struct {
	ctx    context.Context
	action func(ctx context.Context)
	handle Disposable
}

func newScheduledTask(ctx context.Context, action func(ctx context.Context)) scheduledTask {
	if ctx == nil {
		ctx = context.Background()
	}
	return scheduledTask{ctx: ctx, action: action, handle: NewBaseDisposable(nil)}
}

// run executes the task as worker of scheduler. A panic is logged and swallowed
// so the worker survives.
func (t scheduledTask) run(scheduler, worker string) {
	if t.handle.IsDisposed() {
		return
	}
	ctx := withWorker(t.ctx, scheduler, worker)
	if r := SafeExecute(func() { t.action(ctx) }); r != nil {
		Logger().Error().
			Str(FieldScheduler, scheduler).
			Str(FieldWorker, worker).
			Interface("panic", r).
			Msg("scheduled task panicked")
	}
}

// scheduleAfter 延迟后交给目标调度器
func scheduleAfter(s Scheduler, action func(), delay time.Duration) Disposable {
	timer := time.NewTimer(delay)
	var inner atomic.Pointer[Disposable]
	handle := NewBaseDisposable(func() {
		timer.Stop()
		if d := inner.Load(); d != nil {
			(*d).Dispose()
		}
	})

	go func() {
		<-timer.C
		if handle.IsDisposed() {
			return
		}
		d := s.Schedule(action)
		inner.Store(&d)
		// Dispose may have run before the store
		if handle.IsDisposed() {
			d.Dispose()
		}
	}()

	return handle
}

func workerName(prefix string, n int64) string {
	return prefix + "-" + strconv.FormatInt(n, 10)
}

// ============================================================================
// 立即调度器 - Immediate Scheduler
// ============================================================================

// ImmediateScheduler runs every task inline on the submitting goroutine and
// keeps the submitter's identity.
type ImmediateScheduler struct{}

// Name 调度器名称
func (s *ImmediateScheduler) Name() string { return NameImmediate }

// Schedule 立即执行任务
func (s *ImmediateScheduler) Schedule(action func()) Disposable {
	action()
	return NewBaseDisposable(nil)
}

// ScheduleWithDelay 延迟执行任务
func (s *ImmediateScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	return scheduleAfter(s, action, delay)
}

// ScheduleWithContext 带上下文执行任务
func (s *ImmediateScheduler) ScheduleWithContext(ctx context.Context, action func(ctx context.Context)) Disposable {
	if ctx == nil {
		ctx = context.Background()
	}
	action(ctx)
	return NewBaseDisposable(nil)
}

// ============================================================================
// 新线程调度器 - New Thread Scheduler
// ============================================================================

// NewThreadScheduler starts a fresh goroutine for every task.
type NewThreadScheduler struct {
	name   string
	prefix string
	seq    int64
}

// ThreadConfig configures a NewThreadScheduler.
type ThreadConfig struct {
	NamePrefix string `yaml:"name_prefix" mapstructure:"name_prefix"`
}

// NewNewThreadScheduler 创建新线程调度器
func NewNewThreadScheduler(name string, cfg ThreadConfig) *NewThreadScheduler {
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = "RxNewThreadScheduler"
	}
	return &NewThreadScheduler{name: name, prefix: cfg.NamePrefix}
}

// Name 调度器名称
func (s *NewThreadScheduler) Name() string { return s.name }

// Schedule 在新goroutine中执行任务
func (s *NewThreadScheduler) Schedule(action func()) Disposable {
	return s.ScheduleWithContext(context.Background(), func(context.Context) { action() })
}

// ScheduleWithDelay 延迟在新goroutine中执行任务
func (s *NewThreadScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	return scheduleAfter(s, action, delay)
}

// ScheduleWithContext 带上下文在新goroutine中执行任务
func (s *NewThreadScheduler) ScheduleWithContext(ctx context.Context, action func(ctx context.Context)) Disposable {
	task := newScheduledTask(ctx, action)
	name := workerName(s.prefix, atomic.AddInt64(&s.seq, 1))
	go task.run(s.name, name)
	return task.handle
}

// ============================================================================
// 固定线程池调度器 - Fixed Pool Scheduler
// ============================================================================

// PoolConfig configures a FixedScheduler.
type PoolConfig struct {
	Workers    int    `yaml:"workers" mapstructure:"workers"`
	NamePrefix string `yaml:"name_prefix" mapstructure:"name_prefix"`
}

// FixedScheduler runs tasks on a bounded set of long-lived workers fed from an
// unbounded FIFO queue, so submission never blocks.
type FixedScheduler struct {
	name     string
	workers  int
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []scheduledTask
	shutdown bool
	wg       sync.WaitGroup
}

// NewFixedScheduler 创建固定大小的线程池调度器
func NewFixedScheduler(name string, cfg PoolConfig) *FixedScheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = "RxComputationThreadPool"
	}

	s := &FixedScheduler{
		name:    name,
		workers: cfg.Workers,
	}
	s.cond = sync.NewCond(&s.mu)

	// 启动worker goroutines
	for i := 1; i <= cfg.Workers; i++ {
		s.wg.Add(1)
		go s.work(workerName(cfg.NamePrefix, int64(i)))
	}

	Logger().Debug().
		Str(FieldScheduler, name).
		Int("workers", cfg.Workers).
		Msg("fixed scheduler started")

	return s
}

// Name 调度器名称
func (s *FixedScheduler) Name() string { return s.name }

// Workers returns the pool size.
func (s *FixedScheduler) Workers() int { return s.workers }

// Schedule 在线程池中执行任务
func (s *FixedScheduler) Schedule(action func()) Disposable {
	return s.ScheduleWithContext(context.Background(), func(context.Context) { action() })
}

// ScheduleWithDelay 延迟在线程池中执行任务
func (s *FixedScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	return scheduleAfter(s, action, delay)
}

// ScheduleWithContext 带上下文在线程池中执行任务
func (s *FixedScheduler) ScheduleWithContext(ctx context.Context, action func(ctx context.Context)) Disposable {
	task := newScheduledTask(ctx, action)

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return rejected()
	}
	s.queue = append(s.queue, task)
	s.mu.Unlock()
	s.cond.Signal()

	return task.handle
}

// Pending returns the number of queued tasks not yet picked by a worker.
func (s *FixedScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// work 工作goroutine
func (s *FixedScheduler) work(name string) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.shutdown {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		task := s.queue[0]
		s.queue[0] = scheduledTask{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		task.run(s.name, name)
	}
}

// Shutdown stops accepting work, drains the queue and waits for the workers.
// It must not be called from one of the pool's own workers.
func (s *FixedScheduler) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	s.mu.Unlock()

	s.cond.Broadcast()
	s.wg.Wait()

	Logger().Debug().Str(FieldScheduler, s.name).Msg("fixed scheduler stopped")
}

// ============================================================================
// 默认调度器
// ============================================================================

var immediate = &ImmediateScheduler{}

type defaultSchedulers struct {
	io          Scheduler
	computation Scheduler
	single      Scheduler
	newThread   Scheduler
	stop        []func()
}

func (d *defaultSchedulers) shutdown() {
	for _, stop := range d.stop {
		stop()
	}
}

var (
	defaultsMu sync.RWMutex
	defaults   *defaultSchedulers
)

func loadDefaults() {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()

	if defaults == nil {
		d, err := newDefaultSchedulers(DefaultConfig())
		if err != nil {
			// metrics are off in DefaultConfig
			panic(err)
		}
		defaults = d
	}
}

// swapDefaults installs d and returns the previous pools. Submissions through
// the shared handles never reach a pool after it was swapped out.
func swapDefaults(d *defaultSchedulers) *defaultSchedulers {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()

	old := defaults
	defaults = d
	return old
}

// sharedScheduler is the stable handle returned by IO, Computation,
// SingleThread and NewThread. Every submission goes to the pool installed at
// that moment, so a Single assembled before Configure or Shutdown keeps working.
type sharedScheduler struct {
	name string
	pick func(*defaultSchedulers) Scheduler
}

var (
	ioHandle          = &sharedScheduler{name: NameIO, pick: func(d *defaultSchedulers) Scheduler { return d.io }}
	computationHandle = &sharedScheduler{name: NameComputation, pick: func(d *defaultSchedulers) Scheduler { return d.computation }}
	singleHandle      = &sharedScheduler{name: NameSingle, pick: func(d *defaultSchedulers) Scheduler { return d.single }}
	newThreadHandle   = &sharedScheduler{name: NameNewThread, pick: func(d *defaultSchedulers) Scheduler { return d.newThread }}
)

// Name 调度器名称
func (h *sharedScheduler) Name() string { return h.name }

// Schedule 提交到当前的默认调度器
func (h *sharedScheduler) Schedule(action func()) Disposable {
	return h.ScheduleWithContext(context.Background(), func(context.Context) { action() })
}

// ScheduleWithDelay 延迟到期时才选择当前的默认调度器
func (h *sharedScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	return scheduleAfter(h, action, delay)
}

// ScheduleWithContext 带上下文提交到当前的默认调度器
func (h *sharedScheduler) ScheduleWithContext(ctx context.Context, action func(ctx context.Context)) Disposable {
	for {
		// 持有读锁直到提交完成，交换后的旧线程池不会再收到任务
		defaultsMu.RLock()
		if d := defaults; d != nil {
			defer defaultsMu.RUnlock()
			return h.pick(d).ScheduleWithContext(ctx, action)
		}
		defaultsMu.RUnlock()
		loadDefaults()
	}
}

// current returns the pool the handle submits to right now.
func (h *sharedScheduler) current() Scheduler {
	loadDefaults()
	defaultsMu.RLock()
	defer defaultsMu.RUnlock()
	if defaults == nil {
		return nil
	}
	return h.pick(defaults)
}

// IO returns the shared elastic pool meant for blocking work.
func IO() Scheduler { return ioHandle }

// Computation returns the shared bounded pool sized to the CPU count.
func Computation() Scheduler { return computationHandle }

// SingleThread returns the shared one-worker pool.
func SingleThread() Scheduler { return singleHandle }

// NewThread returns the shared scheduler that starts a goroutine per task.
func NewThread() Scheduler { return newThreadHandle }

// Immediate returns the scheduler that runs work inline.
func Immediate() Scheduler { return immediate }

// Shutdown stops the default pools and waits for queued work to finish. The
// handles returned by IO, Computation, SingleThread and NewThread stay valid:
// the next submission starts fresh pools. Shutdown must not be called from a
// worker of a default pool.
func Shutdown() {
	if d := swapDefaults(nil); d != nil {
		d.shutdown()
	}
}
