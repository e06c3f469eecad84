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

// AttachmentRepo 附件仓库
type AttachmentRepo struct {
	collection *mongo.Collection
}

// NewAttachmentRepo 创建附件仓库
func NewAttachmentRepo(db *mongo.Database) *AttachmentRepo {
	return &AttachmentRepo{
		collection: db.Collection("attachments"),
	}
}

// Create 登记附件
func (r *AttachmentRepo) Create(ctx context.Context, att *model.Attachment) error {
	att.CreatedAt = time.Now()
	_, err := r.collection.InsertOne(ctx, att)
	return err
}

// FindByIDForUser 按 ID 查询并校验归属
func (r *AttachmentRepo) FindByIDForUser(ctx context.Context, id, userID string) (*model.Attachment, error) {
	var att model.Attachment
	err := r.collection.FindOne(ctx, bson.M{"_id": id, "user_id": userID}).Decode(&att)
	if err != nil {
		return nil, err
	}
	return &att, nil
}

// ListByUser 用户附件列表，可按会话过滤
func (r *AttachmentRepo) ListByUser(ctx context.Context, userID string, chatID *primitive.ObjectID, limit, offset int64) ([]*model.Attachment, error) {
	filter := bson.M{"user_id": userID}
	if chatID != nil {
		filter["chat_id"] = *chatID
	}

	opts := options.Find().
		SetSort(bson.D{bson.E{Key: "created_at", Value: -1}}).
		SetLimit(limit).
		SetSkip(offset)

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var atts []*model.Attachment
	if err := cursor.All(ctx, &atts); err != nil {
		return nil, err
	}
	return atts, nil
}

// Delete 删除附件记录
func (r *AttachmentRepo) Delete(ctx context.Context, id, userID string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": id, "user_id": userID})
	return err
}
