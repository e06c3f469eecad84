package ai

import (
	"context"
	"io"

	arkext "github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/openai"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"pomelo/internal/model"
)

// sdkAdapter 经 eino ChatModel 走官方 SDK 的适配器
// 用于不暴露裸 HTTP 线格式、或希望复用 SDK 重试逻辑的上游
type sdkAdapter struct {
	def *model.ModelDef
}

func newSDKAdapter(def *model.ModelDef) (*sdkAdapter, error) {
	switch def.Provider {
	case "openai", "azure", "ark":
		return &sdkAdapter{def: def}, nil
	default:
		return nil, &ConfigError{Reason: "sdk api type does not support provider " + def.Provider}
	}
}

func (a *sdkAdapter) newChatModel(ctx context.Context, opts CallOptions) (einomodel.BaseChatModel, error) {
	modelName := a.def.ModelID
	if a.def.DeploymentName != "" {
		modelName = a.def.DeploymentName
	}

	switch a.def.Provider {
	case "ark":
		baseURL := a.def.Key.Host
		if baseURL == "" {
			baseURL = "https://ark.cn-beijing.volces.com/api/v3"
		}
		cfg := &arkext.ChatModelConfig{
			Model:   modelName,
			APIKey:  a.def.Key.Secret,
			BaseURL: baseURL,
		}
		if opts.Temperature != nil {
			temp := float32(*opts.Temperature)
			cfg.Temperature = &temp
		}
		if opts.MaxOutputTokens != nil {
			cfg.MaxTokens = opts.MaxOutputTokens
		}
		if opts.TopP != nil {
			topP := float32(*opts.TopP)
			cfg.TopP = &topP
		}
		return arkext.NewChatModel(ctx, cfg)
	default:
		cfg := &openai.ChatModelConfig{
			Model:   modelName,
			APIKey:  a.def.Key.Secret,
			ByAzure: a.def.Provider == "azure",
		}
		if a.def.Key.Host != "" {
			cfg.BaseURL = a.def.Key.Host
		}
		if opts.Temperature != nil {
			temp := float32(*opts.Temperature)
			cfg.Temperature = &temp
		}
		if opts.MaxOutputTokens != nil {
			cfg.MaxTokens = opts.MaxOutputTokens
		}
		if opts.TopP != nil {
			topP := float32(*opts.TopP)
			cfg.TopP = &topP
		}
		return openai.NewChatModel(ctx, cfg)
	}
}

// toSchemaMessages 中立消息转 eino schema；
// 思考内容不随历史回放，工具结果拍平为文本
func toSchemaMessages(messages []Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		text := plainText(m.Contents)
		switch m.Role {
		case RoleSystem:
			out = append(out, schema.SystemMessage(text))
		case RoleAssistant:
			out = append(out, schema.AssistantMessage(text, nil))
		case RoleTool:
			for _, c := range m.Contents {
				if c.Type == ContentToolCallResponse {
					out = append(out, schema.ToolMessage(c.Response, c.ToolCallID))
				}
			}
		default:
			out = append(out, schema.UserMessage(text))
		}
	}
	return out
}

func schemaUsage(msg *schema.Message) *TokenUsage {
	if msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return nil
	}
	u := msg.ResponseMeta.Usage
	return &TokenUsage{InputTokens: u.PromptTokens, OutputTokens: u.CompletionTokens}
}

// ChatStreamed 把 eino StreamReader 转译为片段流
func (a *sdkAdapter) ChatStreamed(ctx context.Context, messages []Message, opts CallOptions) (*SegmentStream, error) {
	cm, err := a.newChatModel(ctx, opts)
	if err != nil {
		return nil, &ConfigError{Reason: err.Error()}
	}
	sr, err := cm.Stream(ctx, toSchemaMessages(messages))
	if err != nil {
		return nil, err
	}

	stream, w := Pipe()
	go func() {
		defer sr.Close()
		defer w.Close()

		finished := false
		for {
			msg, err := sr.Recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				w.Send(ctx, FinishSegment(FinishUpstreamError))
				return
			}
			if msg.Content != "" && !w.Send(ctx, TextSegment(msg.Content)) {
				return
			}
			if u := schemaUsage(msg); u != nil {
				if !w.Send(ctx, UsageSegment(*u)) {
					return
				}
			}
			if msg.ResponseMeta != nil && msg.ResponseMeta.FinishReason != "" {
				finished = true
				if !w.Send(ctx, FinishSegment(ParseFinishReason(msg.ResponseMeta.FinishReason))) {
					return
				}
			}
		}
		if !finished {
			w.Send(ctx, FinishSegment(FinishSuccess))
		}
	}()
	return stream, nil
}

// Chat 非流式调用
func (a *sdkAdapter) Chat(ctx context.Context, messages []Message, opts CallOptions) ([]Segment, TokenUsage, FinishReason, error) {
	cm, err := a.newChatModel(ctx, opts)
	if err != nil {
		return nil, TokenUsage{}, FinishInternalConfigIssue, &ConfigError{Reason: err.Error()}
	}
	resp, err := cm.Generate(ctx, toSchemaMessages(messages))
	if err != nil {
		return nil, TokenUsage{}, FinishUpstreamError, err
	}

	var items []Segment
	if resp.Content != "" {
		items = append(items, TextSegment(resp.Content))
	}
	usage := TokenUsage{}
	if u := schemaUsage(resp); u != nil {
		usage = *u
	}
	reason := FinishSuccess
	if resp.ResponseMeta != nil && resp.ResponseMeta.FinishReason != "" {
		reason = ParseFinishReason(resp.ResponseMeta.FinishReason)
	}
	return items, usage, reason, nil
}
