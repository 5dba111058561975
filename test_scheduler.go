// Virtual-time scheduler for rxsched
// 用于测试的调度器，可以手动控制时间和任务执行
package rxsched

import (
	"context"
	"sort"
	"sync"
	"time"
)

// TestScheduler queues work on a virtual clock. Nothing runs until Trigger,
// AdvanceTimeBy or AdvanceTimeTo is called, which makes every hand-off visible
// to a test. All work runs on the calling goroutine as worker "<name>-1".
type TestScheduler struct {
	name     string
	worker   string
	mu       sync.Mutex
	clock    time.Duration
	seq      uint64
	queue    []virtualTask
	disposed bool
}

// virtualTask 调度的动作
type virtualTask struct {
	due  time.Duration
	seq  uint64
	task scheduledTask
}

// NewTestScheduler 创建测试调度器
func NewTestScheduler(name string) *TestScheduler {
	return &TestScheduler{name: name, worker: workerName(name, 1)}
}

// Name 调度器名称
func (s *TestScheduler) Name() string { return s.name }

// Schedule 调度任务
func (s *TestScheduler) Schedule(action func()) Disposable {
	return s.ScheduleWithContext(context.Background(), func(context.Context) { action() })
}

// ScheduleWithDelay 延迟调度任务
func (s *TestScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	return s.scheduleAt(delay, newScheduledTask(context.Background(), func(context.Context) { action() }))
}

// ScheduleWithContext 带上下文调度任务
func (s *TestScheduler) ScheduleWithContext(ctx context.Context, action func(ctx context.Context)) Disposable {
	return s.scheduleAt(0, newScheduledTask(ctx, action))
}

func (s *TestScheduler) scheduleAt(delay time.Duration, task scheduledTask) Disposable {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return rejected()
	}

	s.seq++
	s.queue = append(s.queue, virtualTask{due: s.clock + delay, seq: s.seq, task: task})
	// 保持时间顺序，同一时刻按提交顺序
	sort.SliceStable(s.queue, func(i, j int) bool { return s.queue[i].due < s.queue[j].due })

	return task.handle
}

// Trigger runs every task due at the current virtual time, including tasks
// those tasks schedule without delay.
func (s *TestScheduler) Trigger() {
	s.AdvanceTimeBy(0)
}

// AdvanceTimeBy 推进时间
func (s *TestScheduler) AdvanceTimeBy(d time.Duration) {
	s.mu.Lock()
	target := s.clock + d
	s.mu.Unlock()
	s.AdvanceTimeTo(target)
}

// AdvanceTimeTo 推进时间到指定时刻
func (s *TestScheduler) AdvanceTimeTo(t time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.queue) > 0 && s.queue[0].due <= t && !s.disposed {
		next := s.queue[0]
		s.queue = s.queue[1:]
		if next.due > s.clock {
			s.clock = next.due
		}

		// 解锁以允许action执行时调度新任务
		s.mu.Unlock()
		next.task.run(s.name, s.worker)
		s.mu.Lock()
	}
	if t > s.clock {
		s.clock = t
	}
}

// Now 获取当前虚拟时钟
func (s *TestScheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

// Pending returns the number of tasks waiting on the virtual clock.
func (s *TestScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Shutdown rejects new work, then runs the queued tasks in virtual-time order
// on the calling goroutine, like the pools that drain on shutdown. Work those
// tasks try to schedule is rejected.
func (s *TestScheduler) Shutdown() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	queue := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, next := range queue {
		s.mu.Lock()
		if next.due > s.clock {
			s.clock = next.due
		}
		s.mu.Unlock()

		next.task.run(s.name, s.worker)
	}
}
