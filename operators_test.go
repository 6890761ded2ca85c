package rx

import (
	"errors"
	"sync"
	"testing"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHandlingOperators(t *testing.T) {
	t.Run("Catch切换到替换序列", func(t *testing.T) {
		var caught error
		values, err := Concat(Just(1, 2), Error(errTest)).
			Catch(func(err error) Observable {
				caught = err
				return Just(3, 4)
			}).
			BlockingSlice()

		require.NoError(t, err)
		assert.Equal(t, ints(1, 2, 3, 4), values)
		assert.ErrorIs(t, caught, errTest)
	})

	t.Run("Catch取消源的订阅", func(t *testing.T) {
		source := NewSubject()
		replacement := NewSubject()
		rec := newRecorder()

		source.Catch(func(error) Observable { return replacement }).Subscribe(rec)
		source.OnError(errTest)
		assert.Equal(t, 1, replacement.ObserverCount())

		replacement.OnNext(1)
		replacement.OnCompleted()
		assert.Equal(t, ints(1), rec.Values())
		assert.Equal(t, 1, rec.Completed())
	})

	t.Run("handler panic作为最终错误", func(t *testing.T) {
		calls := 0
		rec := newRecorder()

		Error(errTest).Catch(func(error) Observable {
			calls++
			panic("handler failed")
		}).Subscribe(rec)

		assert.Equal(t, 1, calls)
		assert.ErrorIs(t, rec.Err(), ErrHandlerPanic)
	})

	t.Run("替换序列的错误不再进入handler", func(t *testing.T) {
		calls := 0
		rec := newRecorder()

		Error(errTest).Catch(func(error) Observable {
			calls++
			return Error(ErrTimeout)
		}).Subscribe(rec)

		assert.Equal(t, 1, calls)
		assert.ErrorIs(t, rec.Err(), ErrTimeout)
	})

	t.Run("handler返回nil时传递原错误", func(t *testing.T) {
		rec := newRecorder()
		Error(errTest).Catch(func(error) Observable { return nil }).Subscribe(rec)
		assert.ErrorIs(t, rec.Err(), errTest)
	})

	t.Run("OnErrorReturn与OnErrorResumeNext", func(t *testing.T) {
		value, err := Error(errTest).OnErrorReturn(7).BlockingLast()
		require.NoError(t, err)
		assert.Equal(t, 7, value)

		values, err := Error(errTest).OnErrorResumeNext(Just(8, 9)).BlockingSlice()
		require.NoError(t, err)
		assert.Equal(t, ints(8, 9), values)
	})

	t.Run("Retry重新订阅直到成功", func(t *testing.T) {
		attempts := 0
		source := Defer(func() Observable {
			attempts++
			if attempts < 3 {
				return Concat(Just(attempts), Error(errTest))
			}
			return Just(attempts)
		})

		values, err := source.Retry(5).BlockingSlice()
		require.NoError(t, err)
		assert.Equal(t, ints(1, 2, 3), values)
		assert.Equal(t, 3, attempts)
	})

	t.Run("Retry用尽后发射最后的错误", func(t *testing.T) {
		attempts := 0
		source := Defer(func() Observable {
			attempts++
			return Error(errTest)
		})

		_, err := source.Retry(2).BlockingSlice()
		assert.ErrorIs(t, err, errTest)
		assert.Equal(t, 3, attempts)
	})

	t.Run("RetryWithBackOff用尽后发射ErrRetryExhausted", func(t *testing.T) {
		attempts := 0
		source := Defer(func() Observable {
			attempts++
			return Error(errTest)
		})

		policy := func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
		}
		_, err := source.RetryWithBackOff(policy, WithScheduler(Immediate)).BlockingSlice()

		assert.True(t, errors.Is(err, ErrRetryExhausted))
		assert.True(t, errors.Is(err, errTest))
		assert.Equal(t, 3, attempts)
	})

	t.Run("RetryWithBackOff按退避间隔重新订阅", func(t *testing.T) {
		scheduler := NewVirtualTimeScheduler()
		attempts := 0
		source := Defer(func() Observable {
			attempts++
			if attempts < 3 {
				return Error(errTest)
			}
			return Just("ok")
		})

		policy := func() backoff.BackOff {
			return backoff.NewConstantBackOff(100 * time.Millisecond)
		}
		rec := newRecorder()
		source.RetryWithBackOff(policy, WithScheduler(scheduler)).Subscribe(rec)
		assert.Equal(t, 1, attempts)

		scheduler.AdvanceTimeBy(99 * time.Millisecond)
		assert.Equal(t, 1, attempts)
		scheduler.AdvanceTimeBy(time.Millisecond)
		assert.Equal(t, 2, attempts)
		scheduler.AdvanceTimeBy(100 * time.Millisecond)
		assert.Equal(t, 3, attempts)

		assert.Equal(t, []interface{}{"ok"}, rec.Values())
		assert.Equal(t, 1, rec.Completed())
	})

	t.Run("取消订阅时取消等待中的重试", func(t *testing.T) {
		scheduler := NewVirtualTimeScheduler()
		attempts := 0
		source := Defer(func() Observable {
			attempts++
			return Error(errTest)
		})

		policy := func() backoff.BackOff { return backoff.NewConstantBackOff(time.Second) }
		sub := source.RetryWithBackOff(policy, WithScheduler(scheduler)).Subscribe(EmptyObserver())
		assert.Equal(t, 1, scheduler.Pending())

		sub.Dispose()
		assert.Equal(t, 0, scheduler.Pending())
		scheduler.AdvanceTimeBy(time.Minute)
		assert.Equal(t, 1, attempts)
	})

	t.Run("每个订阅使用独立的退避策略", func(t *testing.T) {
		scheduler := NewVirtualTimeScheduler()
		attempts := 0
		source := Defer(func() Observable {
			attempts++
			return Error(errTest)
		})

		created := 0
		policy := func() backoff.BackOff {
			created++
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(100*time.Millisecond), 2)
		}
		retrying := source.RetryWithBackOff(policy, WithScheduler(scheduler))

		first, second := newRecorder(), newRecorder()
		retrying.Subscribe(first)
		retrying.Subscribe(second)
		assert.Equal(t, 2, created)

		scheduler.AdvanceTimeBy(time.Second)

		assert.True(t, errors.Is(first.Err(), ErrRetryExhausted))
		assert.True(t, errors.Is(second.Err(), ErrRetryExhausted))
		assert.Equal(t, 6, attempts)
	})
}

func TestSideEffectOperators(t *testing.T) {
	t.Run("DoOnNext、DoOnError与DoOnCompleted", func(t *testing.T) {
		var seen []interface{}
		var seenErr error
		completed := 0

		Just(1, 2).
			DoOnNext(func(v interface{}) { seen = append(seen, v) }).
			DoOnCompleted(func() { completed++ }).
			Subscribe(EmptyObserver())
		Error(errTest).
			DoOnError(func(err error) { seenErr = err }).
			Subscribe(EmptyObserver())

		assert.Equal(t, ints(1, 2), seen)
		assert.Equal(t, 1, completed)
		assert.ErrorIs(t, seenErr, errTest)
	})

	t.Run("DoOnSubscribe与DoOnUnsubscribe", func(t *testing.T) {
		subscribed, unsubscribed := 0, 0
		subject := NewSubject()

		sub := subject.
			DoOnSubscribe(func() { subscribed++ }).
			DoOnUnsubscribe(func() { unsubscribed++ }).
			Subscribe(EmptyObserver())
		assert.Equal(t, 1, subscribed)
		assert.Equal(t, 0, unsubscribed)

		sub.Dispose()
		sub.Dispose()
		assert.Equal(t, 1, unsubscribed)
		assert.Equal(t, 0, subject.ObserverCount())
	})

	t.Run("Finally在完成之后执行一次", func(t *testing.T) {
		var order []string
		count := 0

		sub := Just(1).
			Finally(func() {
				count++
				order = append(order, "finally")
			}).
			SubscribeWithCallbacks(nil, nil, func() { order = append(order, "completed") })
		sub.Unsubscribe()
		sub.Unsubscribe()

		assert.Equal(t, 1, count)
		assert.Equal(t, []string{"completed", "finally"}, order)
	})

	t.Run("DoOnTerminate在终止通知之前执行一次", func(t *testing.T) {
		var order []string
		count := 0

		sub := Error(errTest).
			DoOnTerminate(func() {
				count++
				order = append(order, "terminate")
			}).
			SubscribeWithCallbacks(nil, func(error) { order = append(order, "error") }, nil)
		sub.Dispose()

		assert.Equal(t, 1, count)
		assert.Equal(t, []string{"terminate", "error"}, order)
	})

	t.Run("外部取消订阅时执行一次", func(t *testing.T) {
		finally, terminate := 0, 0
		subject := NewSubject()

		sub := subject.
			Finally(func() { finally++ }).
			DoOnTerminate(func() { terminate++ }).
			Subscribe(EmptyObserver())
		sub.Dispose()
		subject.OnCompleted()
		sub.Dispose()

		assert.Equal(t, 1, finally)
		assert.Equal(t, 1, terminate)
	})
}

func TestCombinationOperators(t *testing.T) {
	t.Run("Concat处理同步完成的重入", func(t *testing.T) {
		rec := newRecorder()
		sub := Concat(Just(1, 2), Just(3), Empty(), Just(4)).Subscribe(rec)

		assert.Equal(t, ints(1, 2, 3, 4), rec.Values())
		assert.Equal(t, 1, rec.Completed())
		assert.True(t, sub.IsUnsubscribed())
	})

	t.Run("Concat前一个完成后才订阅下一个", func(t *testing.T) {
		first := NewSubject()
		second := NewSubject()
		rec := newRecorder()

		sub := first.Concat(second).Subscribe(rec)
		assert.Equal(t, 0, second.ObserverCount())

		first.OnNext(1)
		first.OnCompleted()
		assert.Equal(t, 1, second.ObserverCount())

		second.OnNext(2)
		sub.Dispose()
		assert.Equal(t, 0, second.ObserverCount())
		assert.Equal(t, ints(1, 2), rec.Values())
		assert.Equal(t, 0, rec.Completed())
	})

	t.Run("Concat出错时停止", func(t *testing.T) {
		values, err := Concat(Just(1), Error(errTest), Just(2)).BlockingSlice()
		assert.ErrorIs(t, err, errTest)
		assert.Equal(t, ints(1), values)
	})

	t.Run("Merge在所有源完成后完成", func(t *testing.T) {
		a := NewSubject()
		b := NewSubject()
		rec := newRecorder()

		a.Merge(b).Subscribe(rec)
		a.OnNext(1)
		b.OnNext(2)
		a.OnCompleted()
		assert.Equal(t, 0, rec.Completed())
		a.OnNext(3)
		b.OnNext(4)
		b.OnCompleted()

		assert.Equal(t, ints(1, 2, 4), rec.Values())
		assert.Equal(t, 1, rec.Completed())
	})

	t.Run("Merge任一源出错即终止", func(t *testing.T) {
		a := NewSubject()
		b := NewSubject()
		rec := newRecorder()

		Merge(a, b).Subscribe(rec)
		a.OnError(errTest)

		assert.ErrorIs(t, rec.Err(), errTest)
		assert.Equal(t, 0, b.ObserverCount())
	})

	t.Run("Merge允许下游回调重入源", func(t *testing.T) {
		subject := NewSubject()
		var values []interface{}
		done := make(chan struct{})

		go func() {
			defer close(done)
			Merge(subject, Never()).SubscribeWithCallbacks(func(v interface{}) {
				values = append(values, v)
				if v == 1 {
					subject.OnNext(2)
				}
			}, nil, nil)
			subject.OnNext(1)
			subject.OnNext(3)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("重入的OnNext没有返回")
		}
		assert.Equal(t, ints(1, 2, 3), values)
	})

	t.Run("Merge串行化并发的源", func(t *testing.T) {
		a := NewSubject()
		b := NewSubject()
		var mu sync.Mutex
		inside := 0
		overlapped := false
		count := 0

		Merge(a, b).SubscribeWithCallbacks(func(interface{}) {
			mu.Lock()
			inside++
			if inside > 1 {
				overlapped = true
			}
			count++
			mu.Unlock()

			time.Sleep(time.Microsecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}, nil, nil)

		var wg sync.WaitGroup
		for _, s := range []*Subject{a, b} {
			wg.Add(1)
			go func(s *Subject) {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					s.OnNext(i)
				}
			}(s)
		}
		wg.Wait()

		mu.Lock()
		defer mu.Unlock()
		assert.False(t, overlapped)
		assert.Equal(t, 200, count)
	})

	t.Run("没有源时立即完成", func(t *testing.T) {
		merged := newRecorder()
		Merge().Subscribe(merged)
		assert.Equal(t, 1, merged.Completed())

		concatenated := newRecorder()
		Concat().Subscribe(concatenated)
		assert.Equal(t, 1, concatenated.Completed())
	})
}

func TestSchedulingOperators(t *testing.T) {
	t.Run("ObserveOn把通知投递到调度器", func(t *testing.T) {
		scheduler := NewMainThreadScheduler()
		defer scheduler.Close()
		rec := newRecorder()

		Just(1, 2).ObserveOn(scheduler).Subscribe(rec)
		assert.Empty(t, rec.Values())
		assert.Equal(t, 1, scheduler.Pending())

		scheduler.RunPending()
		assert.Equal(t, ints(1, 2), rec.Values())
		assert.Equal(t, 1, rec.Completed())
	})

	t.Run("ObserveOn丢弃取消订阅之后执行的通知", func(t *testing.T) {
		scheduler := NewMainThreadScheduler()
		defer scheduler.Close()
		subject := NewSubject()
		rec := newRecorder()

		sub := subject.ObserveOn(scheduler).Subscribe(rec)
		subject.OnNext(1)
		sub.Dispose()

		scheduler.RunPending()
		assert.Empty(t, rec.Values())
	})

	t.Run("ObserveOn在并发调度器上保持顺序", func(t *testing.T) {
		for round := 0; round < 20; round++ {
			rec := newRecorder()
			Range(0, 200).ObserveOn(NewThread).Subscribe(rec)
			rec.wait(t)

			expected := make([]int, 200)
			for i := range expected {
				expected[i] = i
			}
			require.Equal(t, ints(expected...), rec.Values(), "round %d", round)
			require.Equal(t, 1, rec.Completed())
		}
	})

	t.Run("ObserveOn在并发调度器上先发射所有值再发射错误", func(t *testing.T) {
		subject := NewSubject()
		rec := newRecorder()
		subject.ObserveOn(NewThread).Subscribe(rec)

		for i := 0; i < 100; i++ {
			subject.OnNext(i)
		}
		subject.OnError(errTest)
		rec.wait(t)

		values := rec.Values()
		require.Len(t, values, 100)
		for i, v := range values {
			assert.Equal(t, i, v)
		}
		assert.ErrorIs(t, rec.Err(), errTest)
	})

	t.Run("SubscribeOn在调度器上订阅", func(t *testing.T) {
		scheduler := NewMainThreadScheduler()
		defer scheduler.Close()
		subscribed := 0
		rec := newRecorder()

		Just(1).DoOnSubscribe(func() { subscribed++ }).SubscribeOn(scheduler).Subscribe(rec)
		assert.Equal(t, 0, subscribed)

		scheduler.RunPending()
		assert.Equal(t, 1, subscribed)
		assert.Equal(t, ints(1), rec.Values())
	})

	t.Run("SubscribeOn在调度器上取消订阅", func(t *testing.T) {
		scheduler := NewMainThreadScheduler()
		defer scheduler.Close()
		subject := NewSubject()

		sub := subject.SubscribeOn(scheduler).Subscribe(EmptyObserver())
		scheduler.RunPending()
		assert.Equal(t, 1, subject.ObserverCount())

		sub.Dispose()
		assert.Equal(t, 1, subject.ObserverCount())
		scheduler.RunPending()
		assert.Equal(t, 0, subject.ObserverCount())
	})

	t.Run("订阅执行前取消", func(t *testing.T) {
		scheduler := NewMainThreadScheduler()
		defer scheduler.Close()
		subscribed := 0

		sub := Never().DoOnSubscribe(func() { subscribed++ }).SubscribeOn(scheduler).Subscribe(EmptyObserver())
		sub.Dispose()

		scheduler.RunPending()
		assert.Equal(t, 0, subscribed)
	})
}

func TestTimeOperators(t *testing.T) {
	t.Run("ThrottleFirst从上一次发射开始计算窗口", func(t *testing.T) {
		scheduler := NewVirtualTimeScheduler()
		subject := NewSubject()
		rec := newRecorder()

		subject.ThrottleFirst(100*time.Millisecond, WithClock(scheduler)).Subscribe(rec)

		subject.OnNext(1)
		scheduler.AdvanceTimeBy(50 * time.Millisecond)
		subject.OnNext(2)
		scheduler.AdvanceTimeBy(50 * time.Millisecond)
		subject.OnNext(3)
		scheduler.AdvanceTimeBy(50 * time.Millisecond)
		subject.OnNext(4)
		scheduler.AdvanceTimeBy(60 * time.Millisecond)
		subject.OnNext(5)

		assert.Equal(t, ints(1, 3, 5), rec.Values())
	})

	t.Run("Debounce只发射静默之后的最后一个值", func(t *testing.T) {
		scheduler := NewVirtualTimeScheduler()
		subject := NewSubject()
		rec := newRecorder()

		subject.Debounce(100*time.Millisecond, WithScheduler(scheduler)).Subscribe(rec)

		subject.OnNext(1)
		scheduler.AdvanceTimeBy(50 * time.Millisecond)
		subject.OnNext(2)
		scheduler.AdvanceTimeBy(100 * time.Millisecond)
		assert.Equal(t, ints(2), rec.Values())

		subject.OnNext(3)
		subject.OnCompleted()
		assert.Equal(t, ints(2, 3), rec.Values())
		assert.Equal(t, 1, rec.Completed())
		assert.Equal(t, 0, scheduler.Pending())
	})

	t.Run("Delay保持顺序推迟值与完成", func(t *testing.T) {
		scheduler := NewVirtualTimeScheduler()
		subject := NewSubject()
		rec := newRecorder()

		subject.Delay(100*time.Millisecond, WithScheduler(scheduler), WithClock(scheduler)).Subscribe(rec)

		subject.OnNext(1)
		scheduler.AdvanceTimeBy(50 * time.Millisecond)
		subject.OnNext(2)
		subject.OnCompleted()

		scheduler.AdvanceTimeBy(50 * time.Millisecond)
		assert.Equal(t, ints(1), rec.Values())

		scheduler.AdvanceTimeBy(50 * time.Millisecond)
		assert.Equal(t, ints(1, 2), rec.Values())
		assert.Equal(t, 1, rec.Completed())
	})

	t.Run("Delay不推迟错误", func(t *testing.T) {
		scheduler := NewVirtualTimeScheduler()
		subject := NewSubject()
		rec := newRecorder()

		subject.Delay(100*time.Millisecond, WithScheduler(scheduler), WithClock(scheduler)).Subscribe(rec)
		subject.OnNext(1)
		subject.OnError(errTest)

		assert.ErrorIs(t, rec.Err(), errTest)
		scheduler.AdvanceTimeBy(time.Second)
		assert.Empty(t, rec.Values())
	})

	t.Run("Timeout每个值重新计时", func(t *testing.T) {
		scheduler := NewVirtualTimeScheduler()
		subject := NewSubject()
		rec := newRecorder()

		subject.Timeout(100*time.Millisecond, WithScheduler(scheduler)).Subscribe(rec)

		scheduler.AdvanceTimeBy(50 * time.Millisecond)
		subject.OnNext(1)
		scheduler.AdvanceTimeBy(80 * time.Millisecond)
		assert.NoError(t, rec.Err())

		scheduler.AdvanceTimeBy(30 * time.Millisecond)
		assert.ErrorIs(t, rec.Err(), ErrTimeout)
		assert.Equal(t, ints(1), rec.Values())
		assert.Equal(t, 0, subject.ObserverCount())
	})

	t.Run("Timeout源先完成", func(t *testing.T) {
		scheduler := NewVirtualTimeScheduler()
		rec := newRecorder()

		Just(1).Timeout(100*time.Millisecond, WithScheduler(scheduler)).Subscribe(rec)
		scheduler.AdvanceTimeBy(time.Second)

		assert.NoError(t, rec.Err())
		assert.Equal(t, 1, rec.Completed())
		assert.Equal(t, 0, scheduler.Pending())
	})
}
