package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes 创建所有集合的索引
// 统一入口，应用启动时调用一次
func EnsureIndexes(db *mongo.Database) error {
	ctx := context.Background()

	// chats 集合索引
	chatColl := db.Collection("chats")
	chatIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "user_id", Value: 1}, bson.E{Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("idx_user_updated"),
		},
	}
	if err := CreateIndexes(ctx, chatColl, chatIndexes); err != nil {
		return err
	}

	// messages 集合索引 - 消息树按 chat 聚簇，父指针用于回溯
	msgColl := db.Collection("messages")
	msgIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "chat_id", Value: 1}, bson.E{Key: "_id", Value: 1}},
			Options: options.Index().SetName("idx_chat_id"),
		},
		{
			Keys:    bson.D{bson.E{Key: "parent_id", Value: 1}},
			Options: options.Index().SetName("idx_parent"),
		},
	}
	if err := CreateIndexes(ctx, msgColl, msgIndexes); err != nil {
		return err
	}

	// user_models 集合索引 - 同一用户同一模型至多一条授权
	umColl := db.Collection("user_models")
	umIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "user_id", Value: 1}, bson.E{Key: "model_id", Value: 1}},
			Options: options.Index().SetName("idx_user_model").SetUnique(true),
		},
	}
	if err := CreateIndexes(ctx, umColl, umIndexes); err != nil {
		return err
	}

	// user_balances 集合索引
	ubColl := db.Collection("user_balances")
	ubIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "user_id", Value: 1}},
			Options: options.Index().SetName("idx_user").SetUnique(true),
		},
	}
	if err := CreateIndexes(ctx, ubColl, ubIndexes); err != nil {
		return err
	}

	// 流水集合索引
	for _, name := range []string{"usage_transactions", "balance_transactions"} {
		coll := db.Collection(name)
		indexes := []mongo.IndexModel{
			{
				Keys:    bson.D{bson.E{Key: "user_id", Value: 1}, bson.E{Key: "created_at", Value: -1}},
				Options: options.Index().SetName("idx_user_created"),
			},
		}
		if err := CreateIndexes(ctx, coll, indexes); err != nil {
			return err
		}
	}

	// model_defs 集合索引
	mdColl := db.Collection("model_defs")
	mdIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "model_id", Value: 1}},
			Options: options.Index().SetName("idx_model_id").SetUnique(true),
		},
	}
	if err := CreateIndexes(ctx, mdColl, mdIndexes); err != nil {
		return err
	}

	// users 集合索引
	userColl := db.Collection("users")
	userIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "username", Value: 1}},
			Options: options.Index().SetName("idx_username").SetUnique(true),
		},
		{
			Keys:    bson.D{bson.E{Key: "email", Value: 1}},
			Options: options.Index().SetName("idx_email").SetUnique(true),
		},
		{
			Keys:    bson.D{bson.E{Key: "role", Value: 1}, bson.E{Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_role_status"),
		},
	}
	if err := CreateIndexes(ctx, userColl, userIndexes); err != nil {
		return err
	}

	// attachments 集合索引
	attColl := db.Collection("attachments")
	attIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "user_id", Value: 1}, bson.E{Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_user_created"),
		},
		{
			Keys:    bson.D{bson.E{Key: "storage_key", Value: 1}},
			Options: options.Index().SetName("idx_storage_key").SetUnique(true),
		},
	}
	if err := CreateIndexes(ctx, attColl, attIndexes); err != nil {
		return err
	}

	// refresh_tokens 集合索引
	refreshTokenColl := db.Collection("refresh_tokens")
	refreshTokenIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "user_id", Value: 1}},
			Options: options.Index().SetName("idx_user_id"),
		},
		{
			Keys:    bson.D{bson.E{Key: "token", Value: 1}},
			Options: options.Index().SetName("idx_token").SetUnique(true),
		},
		{
			Keys:    bson.D{bson.E{Key: "expires_at", Value: 1}},
			Options: options.Index().SetName("idx_expires_at").SetExpireAfterSeconds(0), // TTL索引，自动删除过期token
		},
	}
	return CreateIndexes(ctx, refreshTokenColl, refreshTokenIndexes)
}
