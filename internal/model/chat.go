package model

import (
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Chat 会话实体 - 持有 0..N 个 span 和一棵消息树
type Chat struct {
	ID            primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	UserID        string              `bson:"user_id" json:"user_id"`
	Title         string              `bson:"title" json:"title"`
	Spans         []ChatSpan          `bson:"spans" json:"spans"`
	LeafMessageID *primitive.ObjectID `bson:"leaf_message_id,omitempty" json:"leaf_message_id,omitempty"`
	CreatedAt     time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time           `bson:"updated_at" json:"updated_at"`
}

// ChatSpan 会话内的一个并发生成单元（一个模型 + 一份配置）
type ChatSpan struct {
	SpanID  byte       `bson:"span_id" json:"span_id"`
	Enabled bool       `bson:"enabled" json:"enabled"`
	Config  ChatConfig `bson:"config" json:"config"`
}

// ChatConfig span 的生成配置
type ChatConfig struct {
	ModelID         string   `bson:"model_id" json:"model_id"`
	Temperature     *float64 `bson:"temperature,omitempty" json:"temperature,omitempty"`
	SystemPrompt    string   `bson:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	ReasoningEffort string   `bson:"reasoning_effort,omitempty" json:"reasoning_effort,omitempty"`
	ThinkingBudget  *int     `bson:"thinking_budget,omitempty" json:"thinking_budget,omitempty"`
	WebSearch       bool     `bson:"web_search" json:"web_search"`
	CodeExecution   bool     `bson:"code_execution" json:"code_execution"`
	MaxOutputTokens *int     `bson:"max_output_tokens,omitempty" json:"max_output_tokens,omitempty"`
}

// Clone 深拷贝 span - 重新生成时在副本上替换模型，不影响原配置
func (s ChatSpan) Clone() ChatSpan {
	out := s
	if s.Config.Temperature != nil {
		v := *s.Config.Temperature
		out.Config.Temperature = &v
	}
	if s.Config.ThinkingBudget != nil {
		v := *s.Config.ThinkingBudget
		out.Config.ThinkingBudget = &v
	}
	if s.Config.MaxOutputTokens != nil {
		v := *s.Config.MaxOutputTokens
		out.Config.MaxOutputTokens = &v
	}
	return out
}

// EnabledSpans 取出启用的 span，按 span id 升序
// 存储顺序不做保证，叶子指针等依赖编号序的逻辑都以这里的顺序为准
func (c *Chat) EnabledSpans() []ChatSpan {
	var out []ChatSpan
	for _, s := range c.Spans {
		if s.Enabled {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SpanID < out[j].SpanID })
	return out
}

// FindSpan 按 span id 查找
func (c *Chat) FindSpan(spanID byte) (ChatSpan, bool) {
	for _, s := range c.Spans {
		if s.SpanID == spanID {
			return s, true
		}
	}
	return ChatSpan{}, false
}
