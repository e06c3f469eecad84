package service

import (
	"context"
	"sync"

	"pomelo/internal/pkg/id"
)

// StopService 生成中断注册表
// 每次生成请求登记一个 stop id，客户端凭 id 取消对应的流式阶段
type StopService struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewStopService 创建中断注册表
func NewStopService() *StopService {
	return &StopService{cancels: map[string]context.CancelFunc{}}
}

// Register 登记一个取消函数，返回 stop id
func (s *StopService) Register(cancel context.CancelFunc) string {
	stopID := id.New()
	s.mu.Lock()
	s.cancels[stopID] = cancel
	s.mu.Unlock()
	return stopID
}

// TryCancel 按 stop id 取消，id 未登记或已完成时返回 false
func (s *StopService) TryCancel(stopID string) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[stopID]
	delete(s.cancels, stopID)
	s.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// Remove 生成完成后注销 stop id
func (s *StopService) Remove(stopID string) {
	s.mu.Lock()
	delete(s.cancels, stopID)
	s.mu.Unlock()
}
