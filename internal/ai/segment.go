package ai

// FinishReason 一次生成的终止原因
type FinishReason string

const (
	FinishSuccess             FinishReason = "success"
	FinishLength              FinishReason = "length"
	FinishToolCalls           FinishReason = "tool_calls"
	FinishContentFilter       FinishReason = "content_filter"
	FinishCancelled           FinishReason = "cancelled"
	FinishInsufficientBalance FinishReason = "insufficient_balance"
	FinishUpstreamError       FinishReason = "upstream_error"
	FinishInternalConfigIssue FinishReason = "internal_config_issue"
	FinishUnknownError        FinishReason = "unknown_error"
)

// ParseFinishReason 解析 OpenAI 风格的 finish_reason
func ParseFinishReason(s string) FinishReason {
	switch s {
	case "stop", "end_turn", "":
		return FinishSuccess
	case "length", "max_tokens":
		return FinishLength
	case "tool_calls", "function_call", "tool_use":
		return FinishToolCalls
	case "content_filter":
		return FinishContentFilter
	default:
		// 没见过的终止原因不能当成功处理
		return FinishUnknownError
	}
}

// SegmentType 流式原子片段类型
type SegmentType string

const (
	SegText         SegmentType = "text"
	SegThink        SegmentType = "think"
	SegToolCall     SegmentType = "tool_call"
	SegImage        SegmentType = "image"
	SegUsage        SegmentType = "usage"
	SegFinishReason SegmentType = "finish_reason"
)

// TokenUsage token 用量统计，上游缺失的子字段一律按 0 处理
type TokenUsage struct {
	InputTokens     int `json:"input_tokens"`
	OutputTokens    int `json:"output_tokens"`
	ReasoningTokens int `json:"reasoning_tokens"`
	CachedTokens    int `json:"cached_tokens"`
}

// ToolCallDelta 工具调用增量 - 同一 Index 的增量按顺序累积
type ToolCallDelta struct {
	Index int
	ID    string
	Name  string
	Args  string
}

// ImageData 生成的图片数据
type ImageData struct {
	Base64      string
	URL         string
	ContentType string
	Preview     bool // true 表示低分辨率中间图
}

// Key 图片去重键 - 同一内容的图片只落盘一次
func (d ImageData) Key() string {
	if d.URL != "" {
		return d.URL
	}
	return d.ContentType + ":" + d.Base64
}

// Segment 适配器输出的流式原子片段
// 一次完整调用产生有限且不可重放的片段序列，以恰好一个 FinishReason 结尾
type Segment struct {
	Type SegmentType

	Text      string // SegText
	Think     string // SegThink
	Signature string // SegThink 结构化编码

	ToolCall *ToolCallDelta // SegToolCall
	Image    *ImageData     // SegImage

	Usage        *TokenUsage  // SegUsage
	FinishReason FinishReason // SegFinishReason
}

// TextSegment 创建文本片段
func TextSegment(text string) Segment {
	return Segment{Type: SegText, Text: text}
}

// ThinkSegment 创建思考片段
func ThinkSegment(think, signature string) Segment {
	return Segment{Type: SegThink, Think: think, Signature: signature}
}

// UsageSegment 创建用量片段
func UsageSegment(u TokenUsage) Segment {
	return Segment{Type: SegUsage, Usage: &u}
}

// FinishSegment 创建终止片段
func FinishSegment(reason FinishReason) Segment {
	return Segment{Type: SegFinishReason, FinishReason: reason}
}

// AddMerged 向合并列表追加片段
// 相邻同类的 text/think 直接拼接；同 Index 的工具调用增量累积参数，
// id/name 先到先得；其余类型原样追加
func AddMerged(items []Segment, seg Segment) []Segment {
	if len(items) == 0 {
		return append(items, seg)
	}

	last := &items[len(items)-1]
	switch {
	case last.Type == SegText && seg.Type == SegText:
		last.Text += seg.Text
	case last.Type == SegThink && seg.Type == SegThink:
		last.Think += seg.Think
		last.Signature += seg.Signature
	case last.Type == SegToolCall && seg.Type == SegToolCall && last.ToolCall.Index == seg.ToolCall.Index:
		last.ToolCall.Args += seg.ToolCall.Args
		if last.ToolCall.ID == "" {
			last.ToolCall.ID = seg.ToolCall.ID
		}
		if last.ToolCall.Name == "" {
			last.ToolCall.Name = seg.ToolCall.Name
		}
	default:
		items = append(items, seg)
	}
	return items
}
