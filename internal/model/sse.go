package model

// SSE 行类型 - 序列化后由 k 字段区分
const (
	SseKindSegment          = 0  // 文本增量
	SseKindReasoningSegment = 1  // 推理增量
	SseKindStartResponse    = 2  // 首个文本/工具片段到达
	SseKindStartReasoning   = 3  // 首个推理片段到达
	SseKindError            = 4  // 单个 span 的错误文本
	SseKindResponseMessage  = 5  // span 完成后落库的助手消息
	SseKindUserMessage      = 6  // 首个 span 完成时回发的用户消息
	SseKindStopID           = 7  // 可用于取消的 stop id
	SseKindUpdateTitle      = 8  // 标题重置
	SseKindTitleSegment     = 9  // 标题字符块
	SseKindLeafMessageID    = 10 // 会话叶子指针更新
	SseKindImageGenerating  = 11 // 低分辨率预览图
	SseKindImageGenerated   = 12 // 落盘后的最终图片
	SseKindCallingTool      = 13 // 工具调用发起
)

// SseLine 下发给客户端的一条事件记录
// i 为 span id（全局事件省略），r 为负载
type SseLine struct {
	Kind   int   `json:"k"`
	SpanID *byte `json:"i,omitempty"`
	R      any   `json:"r,omitempty"`
}

// StartResponsePayload 首响应负载
type StartResponsePayload struct {
	ReasoningMs int `json:"reasoning_ms"`
}

// CallingToolPayload 工具调用负载
type CallingToolPayload struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Args       string `json:"args"`
}

// ImagePayload 图片事件负载
type ImagePayload struct {
	Key         string `json:"key,omitempty"`
	URL         string `json:"url,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Base64      string `json:"base64,omitempty"` // 仅预览图内联
}

func spanPtr(spanID byte) *byte { return &spanID }

// SseSegment 文本增量行
func SseSegment(spanID byte, text string) SseLine {
	return SseLine{Kind: SseKindSegment, SpanID: spanPtr(spanID), R: text}
}

// SseReasoningSegment 推理增量行
func SseReasoningSegment(spanID byte, text string) SseLine {
	return SseLine{Kind: SseKindReasoningSegment, SpanID: spanPtr(spanID), R: text}
}

// SseStartResponse 首响应标记行
func SseStartResponse(spanID byte, reasoningMs int) SseLine {
	return SseLine{Kind: SseKindStartResponse, SpanID: spanPtr(spanID), R: StartResponsePayload{ReasoningMs: reasoningMs}}
}

// SseStartReasoning 首推理标记行
func SseStartReasoning(spanID byte) SseLine {
	return SseLine{Kind: SseKindStartReasoning, SpanID: spanPtr(spanID)}
}

// SseError 错误行
func SseError(spanID byte, errText string) SseLine {
	return SseLine{Kind: SseKindError, SpanID: spanPtr(spanID), R: errText}
}

// SseResponseMessage 助手消息行
func SseResponseMessage(spanID byte, msg *Message) SseLine {
	return SseLine{Kind: SseKindResponseMessage, SpanID: spanPtr(spanID), R: msg}
}

// SseUserMessage 用户消息行
func SseUserMessage(msg *Message) SseLine {
	return SseLine{Kind: SseKindUserMessage, R: msg}
}

// SseStopID stop id 行
func SseStopID(stopID string) SseLine {
	return SseLine{Kind: SseKindStopID, R: stopID}
}

// SseUpdateTitle 标题重置行
func SseUpdateTitle(title string) SseLine {
	return SseLine{Kind: SseKindUpdateTitle, R: title}
}

// SseTitleSegment 标题字符块行
func SseTitleSegment(seg string) SseLine {
	return SseLine{Kind: SseKindTitleSegment, R: seg}
}

// SseLeafMessageID 叶子指针行
func SseLeafMessageID(id string) SseLine {
	return SseLine{Kind: SseKindLeafMessageID, R: id}
}

// SseImageGenerating 预览图行
func SseImageGenerating(spanID byte, p ImagePayload) SseLine {
	return SseLine{Kind: SseKindImageGenerating, SpanID: spanPtr(spanID), R: p}
}

// SseImageGenerated 最终图片行
func SseImageGenerated(spanID byte, p ImagePayload) SseLine {
	return SseLine{Kind: SseKindImageGenerated, SpanID: spanPtr(spanID), R: p}
}

// SseCallingTool 工具调用行
func SseCallingTool(spanID byte, p CallingToolPayload) SseLine {
	return SseLine{Kind: SseKindCallingTool, SpanID: spanPtr(spanID), R: p}
}
