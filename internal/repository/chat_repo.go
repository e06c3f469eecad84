package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pomelo/internal/model"
)

// ChatRepo 会话仓库
type ChatRepo struct {
	collection *mongo.Collection
}

// NewChatRepo 创建会话仓库
func NewChatRepo(db *mongo.Database) *ChatRepo {
	return &ChatRepo{
		collection: db.Collection("chats"),
	}
}

// Create 创建会话
func (r *ChatRepo) Create(ctx context.Context, chat *model.Chat) error {
	chat.CreatedAt = time.Now()
	chat.UpdatedAt = time.Now()

	result, err := r.collection.InsertOne(ctx, chat)
	if err != nil {
		return err
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		chat.ID = oid
	}
	return nil
}

// FindByIDForUser 按 ID 查询并校验归属
func (r *ChatRepo) FindByIDForUser(ctx context.Context, id, userID string) (*model.Chat, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}

	var chat model.Chat
	err = r.collection.FindOne(ctx, bson.M{"_id": objectID, "user_id": userID}).Decode(&chat)
	if err != nil {
		return nil, err
	}

	return &chat, nil
}

// ListByUserID 查询用户会话列表
func (r *ChatRepo) ListByUserID(ctx context.Context, userID string, limit, offset int64) ([]*model.Chat, error) {
	opts := options.Find().
		SetSort(bson.D{bson.E{Key: "updated_at", Value: -1}}).
		SetLimit(limit).
		SetSkip(offset)

	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var chats []*model.Chat
	if err := cursor.All(ctx, &chats); err != nil {
		return nil, err
	}

	return chats, nil
}

// SetLeaf 更新叶子指针
func (r *ChatRepo) SetLeaf(ctx context.Context, chatID primitive.ObjectID, leafID primitive.ObjectID) error {
	update := bson.M{"$set": bson.M{
		"leaf_message_id": leafID,
		"updated_at":      time.Now(),
	}}
	_, err := r.collection.UpdateByID(ctx, chatID, update)
	return err
}

// SetTitle 更新标题
func (r *ChatRepo) SetTitle(ctx context.Context, chatID primitive.ObjectID, title string) error {
	update := bson.M{"$set": bson.M{
		"title":      title,
		"updated_at": time.Now(),
	}}
	_, err := r.collection.UpdateByID(ctx, chatID, update)
	return err
}

// UpdateSpans 整体替换 span 配置
func (r *ChatRepo) UpdateSpans(ctx context.Context, chatID primitive.ObjectID, spans []model.ChatSpan) error {
	update := bson.M{"$set": bson.M{
		"spans":      spans,
		"updated_at": time.Now(),
	}}
	_, err := r.collection.UpdateByID(ctx, chatID, update)
	return err
}

// Delete 删除会话
func (r *ChatRepo) Delete(ctx context.Context, id, userID string) error {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}

	_, err = r.collection.DeleteOne(ctx, bson.M{"_id": objectID, "user_id": userID})
	return err
}
