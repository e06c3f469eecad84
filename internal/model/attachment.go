package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Attachment 聊天附件 - 用户上传后在回合消息里以 file_key 引用的文件
// 记录只描述文件本身，与消息的关联通过消息内容里的 file_key 建立
type Attachment struct {
	ID          string              `bson:"_id" json:"id"`
	UserID      string              `bson:"user_id" json:"user_id"`
	ChatID      *primitive.ObjectID `bson:"chat_id,omitempty" json:"chat_id,omitempty"` // 上传时已知所属会话则记录
	FileName    string              `bson:"file_name" json:"file_name"`
	ContentType string              `bson:"content_type" json:"content_type"`
	FileSize    int64               `bson:"file_size" json:"file_size"`
	StorageKey  string              `bson:"storage_key" json:"storage_key"`
	StorageType string              `bson:"storage_type" json:"storage_type"`
	CreatedAt   time.Time           `bson:"created_at" json:"created_at"`

	// URL 临时访问地址，上传或签发时填充，不落库
	URL string `bson:"-" json:"url,omitempty"`
}
