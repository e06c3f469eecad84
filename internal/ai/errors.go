package ai

import "fmt"

// UpstreamError 上游返回非 2xx 时的错误，保留状态码与原始响应体
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Body)
}

// ConfigError 模型定义配置错误（缺 key、provider 未注册等），非用户可恢复
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "model config issue: " + e.Reason
}
