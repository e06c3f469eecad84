package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UserModel 用户对单个模型的配额授权
// 只在管理员发放/回收和生成结束结算时变更，流式过程中不改动
type UserModel struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID       string             `bson:"user_id" json:"user_id"`
	ModelID      string             `bson:"model_id" json:"model_id"`
	CountBalance int                `bson:"count_balance" json:"count_balance"`
	TokenBalance int                `bson:"token_balance" json:"token_balance"`
	ExpiresAt    time.Time          `bson:"expires_at" json:"expires_at"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at" json:"updated_at"`
}

// Expired 授权是否已过期
func (u *UserModel) Expired(now time.Time) bool {
	return !u.ExpiresAt.IsZero() && u.ExpiresAt.Before(now)
}

// UserBalance 用户货币余额
type UserBalance struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    string             `bson:"user_id" json:"user_id"`
	Balance   float64            `bson:"balance" json:"balance"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}

// BalanceTransaction 货币余额流水
type BalanceTransaction struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    string             `bson:"user_id" json:"user_id"`
	Amount    float64            `bson:"amount" json:"amount"` // 扣费为负
	Kind      string             `bson:"kind" json:"kind"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}

// UsageTransaction 模型配额流水 - 每次请求每个模型至多一条
type UsageTransaction struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID      string             `bson:"user_id" json:"user_id"`
	ModelID     string             `bson:"model_id" json:"model_id"`
	CountAmount int                `bson:"count_amount" json:"count_amount"` // 扣减为负
	TokenAmount int                `bson:"token_amount" json:"token_amount"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
}
