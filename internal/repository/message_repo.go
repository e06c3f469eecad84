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

// MessageRepo 消息仓库 - 消息树节点只追加不修改
type MessageRepo struct {
	collection *mongo.Collection
}

// NewMessageRepo 创建消息仓库
func NewMessageRepo(db *mongo.Database) *MessageRepo {
	return &MessageRepo{
		collection: db.Collection("messages"),
	}
}

// Create 追加一条消息
func (r *MessageRepo) Create(ctx context.Context, msg *model.Message) error {
	msg.CreatedAt = time.Now()

	result, err := r.collection.InsertOne(ctx, msg)
	if err != nil {
		return err
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		msg.ID = oid
	}
	return nil
}

// FindByID 按 ID 查询
func (r *MessageRepo) FindByID(ctx context.Context, id primitive.ObjectID) (*model.Message, error) {
	var msg model.Message
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListHeadersByChat 取会话全部消息的头部（不含内容），用于在内存中重建树
func (r *MessageRepo) ListHeadersByChat(ctx context.Context, chatID primitive.ObjectID) ([]*model.Message, error) {
	opts := options.Find().
		SetSort(bson.D{bson.E{Key: "_id", Value: 1}}).
		SetProjection(bson.M{"contents": 0})

	cursor, err := r.collection.Find(ctx, bson.M{"chat_id": chatID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var msgs []*model.Message
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// HydrateContents 批量回填消息内容 - 一次查询，不逐条往返
func (r *MessageRepo) HydrateContents(ctx context.Context, msgs []*model.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	ids := make([]primitive.ObjectID, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}

	opts := options.Find().SetProjection(bson.M{"contents": 1})
	cursor, err := r.collection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	contents := map[primitive.ObjectID][]model.MessageContent{}
	for cursor.Next(ctx) {
		var doc struct {
			ID       primitive.ObjectID     `bson:"_id"`
			Contents []model.MessageContent `bson:"contents"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return err
		}
		contents[doc.ID] = doc.Contents
	}
	if err := cursor.Err(); err != nil {
		return err
	}

	for _, m := range msgs {
		m.Contents = contents[m.ID]
	}
	return nil
}

// PathToRoot 沿 parent 指针回溯到根，返回按时间正序的路径
// 头部由调用方提供（通常来自 ListHeadersByChat），不再查库
func PathToRoot(headers []*model.Message, leafID primitive.ObjectID) []*model.Message {
	byID := make(map[primitive.ObjectID]*model.Message, len(headers))
	for _, m := range headers {
		byID[m.ID] = m
	}

	var reversed []*model.Message
	cur, ok := byID[leafID]
	for ok {
		reversed = append(reversed, cur)
		if cur.ParentID == nil {
			break
		}
		cur, ok = byID[*cur.ParentID]
	}

	path := make([]*model.Message, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		path = append(path, reversed[i])
	}
	return path
}

// DeleteByChat 删除会话的全部消息
func (r *MessageRepo) DeleteByChat(ctx context.Context, chatID primitive.ObjectID) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{"chat_id": chatID})
	return err
}
