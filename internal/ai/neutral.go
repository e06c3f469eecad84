package ai

// Role 中立消息角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentType 中立内容类型
type ContentType string

const (
	ContentText             ContentType = "text"              // 纯文本
	ContentFileURL          ContentType = "file_url"          // 外部文件链接（图片等）
	ContentFileBlob         ContentType = "file_blob"         // 内联文件数据
	ContentThink            ContentType = "think"             // 思考/推理内容
	ContentToolCall         ContentType = "tool_call"         // 工具调用
	ContentToolCallResponse ContentType = "tool_call_response" // 工具调用结果
	ContentError            ContentType = "error"             // 错误文本（回放时按普通文本处理）
)

// Content 中立内容片段
// 用 Type 字段区分变体，未使用的字段保持零值
type Content struct {
	Type ContentType

	Text string // ContentText / ContentError

	URL       string // ContentFileURL
	Blob      []byte // ContentFileBlob
	MediaType string // ContentFileURL / ContentFileBlob

	Think     string // ContentThink 展示文本
	Signature string // ContentThink 上游原始编码（结构化推理负载，原样回传）

	ToolCallID string // ContentToolCall / ContentToolCallResponse
	ToolName   string // ContentToolCall
	Args       string // ContentToolCall 参数 JSON
	Response   string // ContentToolCallResponse
}

// Message 中立消息 - 发送给适配器后不可变
type Message struct {
	Role     Role
	Contents []Content
}

// TextContent 创建文本内容
func TextContent(text string) Content {
	return Content{Type: ContentText, Text: text}
}

// ThinkContent 创建思考内容
func ThinkContent(think, signature string) Content {
	return Content{Type: ContentThink, Think: think, Signature: signature}
}

// ToolCallContent 创建工具调用内容
func ToolCallContent(id, name, args string) Content {
	return Content{Type: ContentToolCall, ToolCallID: id, ToolName: name, Args: args}
}

// ToolResponseContent 创建工具调用结果内容
func ToolResponseContent(toolCallID, response string) Content {
	return Content{Type: ContentToolCallResponse, ToolCallID: toolCallID, Response: response}
}

// UserMessage 创建单文本用户消息
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Contents: []Content{TextContent(text)}}
}

// SystemMessage 创建系统提示消息
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Contents: []Content{TextContent(text)}}
}

// ToolCalls 取出消息中的工具调用内容
func (m Message) ToolCalls() []Content {
	var out []Content
	for _, c := range m.Contents {
		if c.Type == ContentToolCall {
			out = append(out, c)
		}
	}
	return out
}

// Thinks 取出消息中的思考内容
func (m Message) Thinks() []Content {
	var out []Content
	for _, c := range m.Contents {
		if c.Type == ContentThink {
			out = append(out, c)
		}
	}
	return out
}
