package ai

import (
	"context"
	"net/http"
	"time"

	"pomelo/internal/model"
)

// CallOptions 单次调用选项，来自会话的 span 配置
type CallOptions struct {
	Temperature     *float64
	TopP            *float64
	MaxOutputTokens *int
	ReasoningEffort string
	EndUserID       string // 透传给上游的最终用户标识
	Tools           []ToolDefinition
}

// ToolDefinition 暴露给模型的工具声明
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema
}

// Adapter 上游适配器 - 把一组中立消息变成一条片段流
//
// 建连前的失败（拼不出请求、非 2xx 响应）直接由 ChatStreamed 返回错误；
// 流开始后的异常以 FinishReason 片段收尾，调用方必须读空流。
type Adapter interface {
	ChatStreamed(ctx context.Context, messages []Message, opts CallOptions) (*SegmentStream, error)
	Chat(ctx context.Context, messages []Message, opts CallOptions) ([]Segment, TokenUsage, FinishReason, error)
}

// ModelLister 支持枚举上游模型列表的适配器（管理端校验用）
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

var httpClient = &http.Client{Timeout: 10 * time.Minute}

// NewAdapter 按模型定义的 API 类型构造适配器
func NewAdapter(def *model.ModelDef) (Adapter, error) {
	if def.Key.Secret == "" {
		return nil, &ConfigError{Reason: "missing upstream secret for model " + def.ModelID}
	}
	switch def.APIType {
	case model.APITypeChatCompletions:
		spec, err := LookupProvider(def.Provider)
		if err != nil {
			return nil, err
		}
		return newChatCompletionsAdapter(def, spec), nil
	case model.APITypeResponses:
		return newResponsesAdapter(def), nil
	case model.APITypeImageGeneration:
		return newImageGenerationAdapter(def), nil
	case model.APITypeSDK:
		return newSDKAdapter(def)
	default:
		return nil, &ConfigError{Reason: "unknown api type " + def.APIType}
	}
}
