// Subscription for rxsched
// 订阅：保证每次订阅只触发一次终止回调
package rxsched

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// subscription is the single-shot terminal gate of one Subscribe call.
type subscription struct {
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	onSuccess OnSuccess
	onError   OnError
	log       zerolog.Logger

	terminated   int32
	unsubscribed int32
	done         chan struct{}
}

func newSubscription(ctx context.Context, onSuccess OnSuccess, onError OnError) *subscription {
	ctx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()

	sub := &subscription{
		id:        id,
		ctx:       ctx,
		cancel:    cancel,
		onSuccess: onSuccess,
		onError:   onError,
		log:       Logger().With().Str(FieldSubscription, id).Logger(),
		done:      make(chan struct{}),
	}
	subscriptionStats().started(ctx)
	return sub
}

// ID 订阅ID
func (s *subscription) ID() string { return s.id }

// Done 终止回调完成后关闭
func (s *subscription) Done() <-chan struct{} { return s.done }

// IsUnsubscribed 检查是否已取消订阅
func (s *subscription) IsUnsubscribed() bool {
	return atomic.LoadInt32(&s.unsubscribed) == 1
}

// Unsubscribe cancels the subscription context and suppresses a terminal
// callback that has not fired yet.
func (s *subscription) Unsubscribe() {
	if !atomic.CompareAndSwapInt32(&s.unsubscribed, 0, 1) {
		return
	}
	s.cancel()
	if atomic.CompareAndSwapInt32(&s.terminated, 0, 1) {
		s.log.Debug().Msg("unsubscribed before terminal signal")
		close(s.done)
	}
}

func (s *subscription) finish() {
	close(s.done)
	s.cancel()
}

// succeed delivers the value unless a terminal signal was already delivered.
func (s *subscription) succeed(ctx context.Context, value interface{}) {
	if !atomic.CompareAndSwapInt32(&s.terminated, 0, 1) {
		s.log.Debug().Msg("success after terminal signal ignored")
		return
	}
	defer s.finish()

	subscriptionStats().succeeded(ctx)
	if s.onSuccess == nil {
		return
	}
	if r := SafeExecute(func() { s.onSuccess(ctx, value) }); r != nil {
		s.log.Error().Interface("panic", r).Str(FieldWorker, CurrentWorker(ctx).String()).Msg("onSuccess panicked")
	}
}

// fail delivers err unless a terminal signal was already delivered. Without an
// onError callback the error is logged.
func (s *subscription) fail(ctx context.Context, err error) {
	if !atomic.CompareAndSwapInt32(&s.terminated, 0, 1) {
		s.log.Debug().Err(err).Msg("error after terminal signal ignored")
		return
	}
	defer s.finish()

	subscriptionStats().failed(ctx)
	if s.onError == nil {
		s.log.Error().Err(err).Str(FieldWorker, CurrentWorker(ctx).String()).Msg("undeliverable error")
		return
	}
	if r := SafeExecute(func() { s.onError(ctx, err) }); r != nil {
		s.log.Error().Interface("panic", r).Err(err).Msg("onError panicked")
	}
}
