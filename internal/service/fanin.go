package service

import "sync/atomic"

// spanProducer 一个生产者协程：向通道投递事件，退出时调用 done
type spanProducer func(ch chan<- spanEvent, done func())

// fanInSpans N 个生产者扇入一条通道，调用方协程串行消费全部事件
// 通道只关闭一次：由最后一个调用 done 的生产者关闭；
// 每个生产者投递的事件在消费侧保持其投递顺序，函数在通道排空后返回
func fanInSpans(producers []spanProducer, handle func(spanEvent)) {
	if len(producers) == 0 {
		return
	}
	ch := make(chan spanEvent, 64)

	var pending atomic.Int32
	pending.Store(int32(len(producers)))
	done := func() {
		if pending.Add(-1) == 0 {
			close(ch)
		}
	}

	for _, p := range producers {
		go p(ch, done)
	}

	for ev := range ch {
		handle(ev)
	}
}
