package model

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// ChatListItem 会话列表项（不含消息树）
type ChatListItem struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	UpdatedAt     int64  `json:"updated_at"`
	LeafMessageID string `json:"leaf_message_id,omitempty"`
}
