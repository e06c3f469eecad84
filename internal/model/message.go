package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// 消息角色
const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
	MessageRoleTool      = "tool"
)

// 消息内容类型
const (
	MessageContentText             = "text"
	MessageContentFile             = "file"
	MessageContentThink            = "think"
	MessageContentToolCall         = "tool_call"
	MessageContentToolCallResponse = "tool_call_response"
	MessageContentError            = "error"
)

// Message 消息树节点 - parent_id 构成树，节点只追加不修改
type Message struct {
	ID        primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	ChatID    primitive.ObjectID  `bson:"chat_id" json:"chat_id"`
	ParentID  *primitive.ObjectID `bson:"parent_id,omitempty" json:"parent_id,omitempty"`
	Role      string              `bson:"role" json:"role"`
	SpanID    *byte               `bson:"span_id,omitempty" json:"span_id,omitempty"`
	Contents  []MessageContent    `bson:"contents" json:"contents"`
	Usage     *MessageUsage       `bson:"usage,omitempty" json:"usage,omitempty"`
	CreatedAt time.Time           `bson:"created_at" json:"created_at"`
}

// MessageContent 消息内容片段
type MessageContent struct {
	Type string `bson:"type" json:"type"`

	Text string `bson:"text,omitempty" json:"text,omitempty"`

	FileKey     string `bson:"file_key,omitempty" json:"file_key,omitempty"`
	FileURL     string `bson:"file_url,omitempty" json:"file_url,omitempty"`
	ContentType string `bson:"content_type,omitempty" json:"content_type,omitempty"`

	Think     string `bson:"think,omitempty" json:"think,omitempty"`
	Signature string `bson:"signature,omitempty" json:"signature,omitempty"` // 上游结构化推理编码，原样保存

	ToolCallID string `bson:"tool_call_id,omitempty" json:"tool_call_id,omitempty"`
	ToolName   string `bson:"tool_name,omitempty" json:"tool_name,omitempty"`
	Args       string `bson:"args,omitempty" json:"args,omitempty"`
	Response   string `bson:"response,omitempty" json:"response,omitempty"`

	Error string `bson:"error,omitempty" json:"error,omitempty"`
}

// MessageUsage 一次生成的最终用量与费用 - 每条助手消息恰好一条
type MessageUsage struct {
	ModelID         string    `bson:"model_id" json:"model_id"`
	FinishReason    string    `bson:"finish_reason" json:"finish_reason"`
	SegmentCount    int       `bson:"segment_count" json:"segment_count"`
	InputTokens     int       `bson:"input_tokens" json:"input_tokens"`
	OutputTokens    int       `bson:"output_tokens" json:"output_tokens"`
	ReasoningTokens int       `bson:"reasoning_tokens" json:"reasoning_tokens"`
	CachedTokens    int       `bson:"cached_tokens" json:"cached_tokens"`
	InputCost       float64   `bson:"input_cost" json:"input_cost"`
	OutputCost      float64   `bson:"output_cost" json:"output_cost"`
	ReasoningMs     int       `bson:"reasoning_ms" json:"reasoning_ms"`
	FirstResponseMs int       `bson:"first_response_ms" json:"first_response_ms"`
	TotalMs         int       `bson:"total_ms" json:"total_ms"`
	CreatedAt       time.Time `bson:"created_at" json:"created_at"`
}
