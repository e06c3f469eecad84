package ai

import (
	"context"
	"io"
	"testing"
	"time"
)

func TestPipeSendRecv(t *testing.T) {
	stream, w := Pipe()

	go func() {
		ctx := context.Background()
		w.Send(ctx, TextSegment("a"))
		w.Send(ctx, FinishSegment(FinishSuccess))
		w.Close()
	}()

	seg, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if seg.Text != "a" {
		t.Errorf("seg = %+v", seg)
	}
	if seg, err = stream.Recv(); err != nil || seg.FinishReason != FinishSuccess {
		t.Errorf("Recv() = %+v, %v", seg, err)
	}
	if _, err = stream.Recv(); err != io.EOF {
		t.Errorf("Recv() after close error = %v, want io.EOF", err)
	}
}

func TestPipeReaderClose(t *testing.T) {
	stream, w := Pipe()
	stream.Close()
	stream.Close() // 重复关闭安全

	// 缓冲填满后读端已放弃，Send 必须返回 false 而不是永久阻塞
	ctx := context.Background()
	sent := 0
	for i := 0; i < 100; i++ {
		if !w.Send(ctx, TextSegment("x")) {
			break
		}
		sent++
	}
	if sent >= 100 {
		t.Fatal("Send() should fail once buffer is full and reader is gone")
	}
}

func TestPipeContextCancel(t *testing.T) {
	_, w := Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// 填满缓冲后，已取消的 ctx 解除生产者阻塞
	deadline := time.After(2 * time.Second)
	done := make(chan bool, 1)
	go func() {
		for i := 0; i < 100; i++ {
			if !w.Send(ctx, TextSegment("x")) {
				done <- true
				return
			}
		}
		done <- false
	}()

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("Send() never observed cancelled context")
		}
	case <-deadline:
		t.Fatal("Send() blocked despite cancelled context")
	}
}

func TestCollectStream(t *testing.T) {
	stream, w := Pipe()
	go func() {
		ctx := context.Background()
		w.Send(ctx, ThinkSegment("t1", ""))
		w.Send(ctx, ThinkSegment("t2", ""))
		w.Send(ctx, TextSegment("hello "))
		w.Send(ctx, TextSegment("world"))
		w.Send(ctx, UsageSegment(TokenUsage{InputTokens: 3, OutputTokens: 4}))
		w.Send(ctx, FinishSegment(FinishLength))
		w.Close()
	}()

	items, usage, reason, err := CollectStream(stream)
	if err != nil {
		t.Fatalf("CollectStream() error = %v", err)
	}
	if reason != FinishLength {
		t.Errorf("reason = %v, want %v", reason, FinishLength)
	}
	if usage.InputTokens != 3 || usage.OutputTokens != 4 {
		t.Errorf("usage = %+v", usage)
	}
	if len(items) != 2 {
		t.Fatalf("items = %+v, want merged think + text", items)
	}
	if items[0].Think != "t1t2" || items[1].Text != "hello world" {
		t.Errorf("items = %+v", items)
	}
}

func TestCollectStream_NoFinish(t *testing.T) {
	stream, w := Pipe()
	go w.Close()

	_, _, reason, err := CollectStream(stream)
	if err != nil {
		t.Fatalf("CollectStream() error = %v", err)
	}
	if reason != FinishUnknownError {
		t.Errorf("reason = %v, want %v on missing finish", reason, FinishUnknownError)
	}
}
