// Package rxsched provides a cold, single-value asynchronous pipeline (Single)
// whose stages can be moved between worker pools with SubscribeOn and ObserveOn.
// 单值响应式管道，关注每个阶段由哪个调度器执行
package rxsched

import (
	"context"
	"sync/atomic"
)

// ============================================================================
// 函数类型定义 - callback and stage function types
// ============================================================================

// OnSuccess receives the single value of a pipeline. ctx identifies the worker
// that delivers it, see CurrentWorker.
type OnSuccess func(ctx context.Context, value interface{})

// OnError receives the error that terminated a pipeline.
type OnError func(ctx context.Context, err error)

// Transformer 转换函数，用于Map
type Transformer func(ctx context.Context, value interface{}) (interface{}, error)

// Consumer 副作用函数，用于DoOnSuccess。返回错误会终止管道
type Consumer func(ctx context.Context, value interface{}) error

// SingleMapper 把一个值映射为内部Single，用于FlatMap
type SingleMapper func(ctx context.Context, value interface{}) (*Single, error)

// Callable produces the value of a FromCallable source.
type Callable func(ctx context.Context) (interface{}, error)

// ============================================================================
// 生命周期管理
// ============================================================================

// Subscription is the runtime instance created by a Subscribe call.
type Subscription interface {
	// ID 订阅的唯一标识，用于日志关联
	ID() string
	// Unsubscribe 取消订阅，尚未送达的终止回调将被丢弃
	Unsubscribe()
	// IsUnsubscribed 检查是否已取消订阅
	IsUnsubscribed() bool
	// Done is closed once the terminal callback has returned or was suppressed.
	Done() <-chan struct{}
}

// Disposable 可释放资源的接口
type Disposable interface {
	// Dispose 释放资源
	Dispose()
	// IsDisposed 检查是否已释放
	IsDisposed() bool
}

// baseDisposable 基础可释放资源实现
type baseDisposable struct {
	disposed int32
	action   func()
}

// NewBaseDisposable 创建基础可释放资源
func NewBaseDisposable(action func()) Disposable {
	return &baseDisposable{
		action: action,
	}
}

// Dispose 释放资源
func (d *baseDisposable) Dispose() {
	if atomic.CompareAndSwapInt32(&d.disposed, 0, 1) {
		if d.action != nil {
			d.action()
		}
	}
}

// IsDisposed 检查是否已释放
func (d *baseDisposable) IsDisposed() bool {
	return atomic.LoadInt32(&d.disposed) == 1
}

// rejected returns the Disposable a scheduler hands back when it refuses work.
func rejected() Disposable {
	return &baseDisposable{disposed: 1}
}

// ============================================================================
// 工具函数
// ============================================================================

// SafeExecute 安全执行函数，捕获panic
func SafeExecute(action func()) (recovered interface{}) {
	defer func() {
		if r := recover(); r != nil {
			recovered = r
		}
	}()

	action()
	return nil
}
