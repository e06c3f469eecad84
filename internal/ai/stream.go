package ai

import (
	"context"
	"io"
)

// SegmentStream 片段流读端 - Recv 在流自然结束时返回 io.EOF
type SegmentStream struct {
	ch   chan Segment
	done chan struct{}
}

// SegmentWriter 片段流写端 - 生产者持有，Close 后读端收到 io.EOF
type SegmentWriter struct {
	s *SegmentStream
}

// Pipe 创建一对读写端
func Pipe() (*SegmentStream, *SegmentWriter) {
	s := &SegmentStream{
		ch:   make(chan Segment, 16),
		done: make(chan struct{}),
	}
	return s, &SegmentWriter{s: s}
}

// Recv 读取下一个片段，流结束时返回 io.EOF
func (s *SegmentStream) Recv() (Segment, error) {
	seg, ok := <-s.ch
	if !ok {
		return Segment{}, io.EOF
	}
	return seg, nil
}

// Close 读端提前放弃，解除生产者阻塞
func (s *SegmentStream) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// Send 写入一个片段，读端关闭或 ctx 取消时返回 false
func (w *SegmentWriter) Send(ctx context.Context, seg Segment) bool {
	select {
	case w.s.ch <- seg:
		return true
	case <-w.s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Close 结束流，之后读端收到 io.EOF
func (w *SegmentWriter) Close() {
	close(w.s.ch)
}

// CollectStream 读空整个流并按合并规则聚合，返回聚合片段、用量与终止原因
func CollectStream(s *SegmentStream) (items []Segment, usage TokenUsage, reason FinishReason, err error) {
	reason = FinishUnknownError
	for {
		seg, recvErr := s.Recv()
		if recvErr == io.EOF {
			return items, usage, reason, nil
		}
		if recvErr != nil {
			return items, usage, reason, recvErr
		}
		switch seg.Type {
		case SegUsage:
			usage = *seg.Usage
		case SegFinishReason:
			reason = seg.FinishReason
		default:
			items = AddMerged(items, seg)
		}
	}
}
