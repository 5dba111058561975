// Elastic (cached) scheduler for rxsched
// 弹性线程池：空闲worker复用，超过KeepAlive后回收，适合阻塞型IO任务
package rxsched

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ElasticConfig configures an ElasticScheduler.
type ElasticConfig struct {
	KeepAlive  time.Duration `yaml:"keep_alive" mapstructure:"keep_alive"`
	NamePrefix string        `yaml:"name_prefix" mapstructure:"name_prefix"`
}

// ElasticScheduler grows a new worker whenever no idle one is available and
// retires workers that stayed idle for KeepAlive. Idle workers are reused most
// recently parked first.
type ElasticScheduler struct {
	name      string
	prefix    string
	keepAlive time.Duration
	seq       int64
	live      int64

	mu       sync.Mutex
	idle     []*elasticWorker
	shutdown bool
	quit     chan struct{}
	wg       sync.WaitGroup
}

type elasticWorker struct {
	name  string
	tasks chan scheduledTask
}

// NewElasticScheduler 创建弹性调度器
func NewElasticScheduler(name string, cfg ElasticConfig) *ElasticScheduler {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = "RxCachedThreadScheduler"
	}
	return &ElasticScheduler{
		name:      name,
		prefix:    cfg.NamePrefix,
		keepAlive: cfg.KeepAlive,
		quit:      make(chan struct{}),
	}
}

// Name 调度器名称
func (s *ElasticScheduler) Name() string { return s.name }

// Schedule 在弹性线程池中执行任务
func (s *ElasticScheduler) Schedule(action func()) Disposable {
	return s.ScheduleWithContext(context.Background(), func(context.Context) { action() })
}

// ScheduleWithDelay 延迟执行任务
func (s *ElasticScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	return scheduleAfter(s, action, delay)
}

// ScheduleWithContext 带上下文执行任务
func (s *ElasticScheduler) ScheduleWithContext(ctx context.Context, action func(ctx context.Context)) Disposable {
	task := newScheduledTask(ctx, action)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return rejected()
	}

	var w *elasticWorker
	if n := len(s.idle); n > 0 {
		w = s.idle[n-1]
		s.idle[n-1] = nil
		s.idle = s.idle[:n-1]
	} else {
		w = s.spawnLocked()
	}
	// an idle or fresh worker has an empty buffer, the send does not block
	w.tasks <- task

	return task.handle
}

// Size returns the number of live workers, busy or idle.
func (s *ElasticScheduler) Size() int {
	return int(atomic.LoadInt64(&s.live))
}

// Idle returns the number of parked workers.
func (s *ElasticScheduler) Idle() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.idle)
}

func (s *ElasticScheduler) spawnLocked() *elasticWorker {
	w := &elasticWorker{
		name:  workerName(s.prefix, atomic.AddInt64(&s.seq, 1)),
		tasks: make(chan scheduledTask, 1),
	}
	atomic.AddInt64(&s.live, 1)
	s.wg.Add(1)
	go s.work(w)

	Logger().Trace().Str(FieldScheduler, s.name).Str(FieldWorker, w.name).Msg("worker started")
	return w
}

func (s *ElasticScheduler) work(w *elasticWorker) {
	defer func() {
		atomic.AddInt64(&s.live, -1)
		s.wg.Done()
	}()

	timer := time.NewTimer(s.keepAlive)
	defer timer.Stop()

	for {
		select {
		case task := <-w.tasks:
			task.run(s.name, w.name)
			if !s.park(w) {
				return
			}
			timer.Reset(s.keepAlive)
		case <-timer.C:
			if s.retire(w) {
				Logger().Trace().Str(FieldScheduler, s.name).Str(FieldWorker, w.name).Msg("worker expired")
				return
			}
			// handed a task while the timer fired; it is already buffered
			timer.Reset(s.keepAlive)
		case <-s.quit:
			select {
			case task := <-w.tasks:
				task.run(s.name, w.name)
			default:
			}
			return
		}
	}
}

// park returns w to the idle stack, or reports false once the pool is shut down.
func (s *ElasticScheduler) park(w *elasticWorker) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return false
	}
	s.idle = append(s.idle, w)
	return true
}

// retire removes w from the idle stack. It reports false when w was already
// taken by a submitter.
func (s *ElasticScheduler) retire(w *elasticWorker) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, candidate := range s.idle {
		if candidate == w {
			s.idle = append(s.idle[:i], s.idle[i+1:]...)
			return true
		}
	}
	return false
}

// Shutdown stops accepting work, lets running tasks finish and waits for every
// worker to exit. It must not be called from one of the pool's own workers.
func (s *ElasticScheduler) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	s.idle = nil
	close(s.quit)
	s.mu.Unlock()

	s.wg.Wait()
	Logger().Debug().Str(FieldScheduler, s.name).Msg("elastic scheduler stopped")
}
