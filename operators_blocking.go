// Blocking operators
// 阻塞操作符：等待Observable终止并返回结果
package rx

import (
	"context"
)

// ============================================================================
// 阻塞操作符实现
// ============================================================================

// BlockingForEach 对每个值执行action，阻塞直到Observable终止或ctx结束。
// ctx结束时取消订阅并返回ctx的错误。
func BlockingForEach(ctx context.Context, observable Observable, action OnNext) error {
	done := make(chan error, 1)

	sub := observable.Subscribe(NewObserver(
		action,
		func(err error) { done <- err },
		func() { done <- nil },
	))
	defer sub.Dispose()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BlockingFirst 阻塞获取第一个值；没有值就完成时返回ErrNoSuchElement
func (o *observableImpl) BlockingFirst() (interface{}, error) {
	var first interface{}
	found := false

	err := BlockingForEach(context.Background(), o.Take(1), func(value interface{}) {
		first = value
		found = true
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoSuchElement.Wrap("BlockingFirst")
	}
	return first, nil
}

// BlockingLast 阻塞获取最后一个值；没有值就完成时返回ErrNoSuchElement
func (o *observableImpl) BlockingLast() (interface{}, error) {
	var last interface{}
	found := false

	err := BlockingForEach(context.Background(), o, func(value interface{}) {
		last = value
		found = true
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoSuchElement.Wrap("BlockingLast")
	}
	return last, nil
}

// BlockingSlice 阻塞收集所有值；出错时返回已收集的值与错误
func (o *observableImpl) BlockingSlice() ([]interface{}, error) {
	values := make([]interface{}, 0)

	err := BlockingForEach(context.Background(), o, func(value interface{}) {
		values = append(values, value)
	})
	return values, err
}
