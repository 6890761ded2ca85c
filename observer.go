// Observer helpers
// 回调式观察者
package rx

// callbackObserver 由三个回调组成的观察者，缺省的回调被忽略
type callbackObserver struct {
	onNext      OnNext
	onError     OnError
	onCompleted OnCompleted
}

// NewObserver 使用回调函数创建观察者；未提供onError时错误被静默吸收
func NewObserver(onNext OnNext, onError OnError, onCompleted OnCompleted) Observer {
	return &callbackObserver{
		onNext:      onNext,
		onError:     onError,
		onCompleted: onCompleted,
	}
}

// EmptyObserver 忽略所有通知的观察者
func EmptyObserver() Observer {
	return &callbackObserver{}
}

func (o *callbackObserver) OnNext(value interface{}) {
	if o.onNext != nil {
		o.onNext(value)
	}
}

func (o *callbackObserver) OnError(err error) {
	if o.onError != nil {
		o.onError(err)
	}
}

func (o *callbackObserver) OnCompleted() {
	if o.onCompleted != nil {
		o.onCompleted()
	}
}
