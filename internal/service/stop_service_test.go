package service

import (
	"sync"
	"testing"
)

func TestStopService(t *testing.T) {
	t.Run("cancel invokes registered func exactly once", func(t *testing.T) {
		s := NewStopService()
		called := 0
		stopID := s.Register(func() { called++ })

		if !s.TryCancel(stopID) {
			t.Fatal("TryCancel() = false for registered id")
		}
		if called != 1 {
			t.Fatalf("cancel called %d times", called)
		}
		// 第二次取消同一 id 无效
		if s.TryCancel(stopID) {
			t.Error("TryCancel() = true on second call")
		}
		if called != 1 {
			t.Errorf("cancel called %d times after repeat", called)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		s := NewStopService()
		if s.TryCancel("nope") {
			t.Error("TryCancel() = true for unknown id")
		}
	})

	t.Run("removed id cannot be cancelled", func(t *testing.T) {
		s := NewStopService()
		called := false
		stopID := s.Register(func() { called = true })
		s.Remove(stopID)

		if s.TryCancel(stopID) {
			t.Error("TryCancel() = true after Remove")
		}
		if called {
			t.Error("cancel func invoked after Remove")
		}
	})

	t.Run("ids are unique", func(t *testing.T) {
		s := NewStopService()
		seen := map[string]bool{}
		for i := 0; i < 100; i++ {
			stopID := s.Register(func() {})
			if seen[stopID] {
				t.Fatalf("duplicate stop id %q", stopID)
			}
			seen[stopID] = true
		}
	})

	t.Run("concurrent cancel races are safe", func(t *testing.T) {
		s := NewStopService()
		stopID := s.Register(func() {})

		var wg sync.WaitGroup
		wins := make(chan bool, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				wins <- s.TryCancel(stopID)
			}()
		}
		wg.Wait()
		close(wins)

		won := 0
		for ok := range wins {
			if ok {
				won++
			}
		}
		if won != 1 {
			t.Errorf("%d goroutines won the cancel, want exactly 1", won)
		}
	})
}
