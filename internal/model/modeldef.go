package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// API 类型 - 决定适配器使用哪种线格式
const (
	APITypeChatCompletions = "chat_completions" // OpenAI 兼容 Chat Completions
	APITypeResponses       = "responses"        // Response/Background API
	APITypeImageGeneration = "image_generation" // 图片生成
	APITypeSDK             = "sdk"              // 经 eino ChatModel 走官方 SDK
)

// ModelKey 上游凭证
type ModelKey struct {
	Host   string `bson:"host,omitempty" json:"host,omitempty"`
	Secret string `bson:"secret" json:"-"`
}

// PriceConfig 超额后的货币计价（按 token）
type PriceConfig struct {
	InputTokenPrice  float64 `bson:"input_token_price" json:"input_token_price"`
	OutputTokenPrice float64 `bson:"output_token_price" json:"output_token_price"`
}

// ModelDef 模型定义 - 上游 provider、线格式与计价配置
type ModelDef struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ModelID        string             `bson:"model_id" json:"model_id"`
	Name           string             `bson:"name" json:"name"`
	Provider       string             `bson:"provider" json:"provider"`
	APIType        string             `bson:"api_type" json:"api_type"`
	DeploymentName string             `bson:"deployment_name" json:"deployment_name"`
	Key            ModelKey           `bson:"key" json:"key"`
	Price          PriceConfig        `bson:"price" json:"price"`

	AllowStreaming         bool `bson:"allow_streaming" json:"allow_streaming"`
	UseMaxCompletionTokens bool `bson:"use_max_completion_tokens" json:"use_max_completion_tokens"`
	UseBackgroundAPI       bool `bson:"use_background_api" json:"use_background_api"` // responses 家族的提交+轮询模式
	AllowVision            bool `bson:"allow_vision" json:"allow_vision"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
