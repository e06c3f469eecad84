package model

// ContentRequestItem 用户消息的一个内容片段
// 文件可以给外部 URL，也可以给已上传附件的 file_key，二者至少其一
type ContentRequestItem struct {
	Type    string `json:"type" binding:"required"` // text / file
	Text    string `json:"text,omitempty"`
	URL     string `json:"url,omitempty"`
	FileKey string `json:"file_key,omitempty"`
}

// TurnRequest 新回合请求 - 对所有启用的 span 并发生成
type TurnRequest struct {
	ChatID          string               `json:"chat_id" binding:"required"`
	ParentMessageID string               `json:"parent_message_id,omitempty"` // 为空表示树根；否则必须指向助手消息
	UserMessage     []ContentRequestItem `json:"user_message" binding:"required"`
	TimezoneOffset  int                  `json:"timezone_offset,omitempty"`
}

// RegenerateRequest 重新生成请求 - 只跑一个 span，可替换模型
type RegenerateRequest struct {
	ChatID          string `json:"chat_id" binding:"required"`
	SpanID          byte   `json:"span_id"`
	ModelID         string `json:"model_id" binding:"required"`
	ParentMessageID string `json:"parent_message_id" binding:"required"` // 必须指向用户消息
}

// HasText 新回合请求是否至少包含一段文本
func (r *TurnRequest) HasText() bool {
	for _, item := range r.UserMessage {
		if item.Type == MessageContentText && item.Text != "" {
			return true
		}
	}
	return false
}

// FirstText 取第一段文本（用于生成标题）
func (r *TurnRequest) FirstText() string {
	for _, item := range r.UserMessage {
		if item.Type == MessageContentText {
			return item.Text
		}
	}
	return ""
}

// CreateChatRequest 创建会话请求
type CreateChatRequest struct {
	Title string     `json:"title,omitempty"`
	Spans []ChatSpan `json:"spans,omitempty"`
}
