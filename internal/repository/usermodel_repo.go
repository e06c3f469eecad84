package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pomelo/internal/model"
)

// UserModelRepo 用户模型配额仓库
type UserModelRepo struct {
	grants       *mongo.Collection
	transactions *mongo.Collection
}

// NewUserModelRepo 创建用户模型配额仓库
func NewUserModelRepo(db *mongo.Database) *UserModelRepo {
	return &UserModelRepo{
		grants:       db.Collection("user_models"),
		transactions: db.Collection("usage_transactions"),
	}
}

// FindByUserAndModels 批量取用户对一组模型的授权
func (r *UserModelRepo) FindByUserAndModels(ctx context.Context, userID string, modelIDs []string) ([]*model.UserModel, error) {
	cursor, err := r.grants.Find(ctx, bson.M{
		"user_id":  userID,
		"model_id": bson.M{"$in": modelIDs},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var grants []*model.UserModel
	if err := cursor.All(ctx, &grants); err != nil {
		return nil, err
	}
	return grants, nil
}

// ListByUser 取用户全部授权
func (r *UserModelRepo) ListByUser(ctx context.Context, userID string) ([]*model.UserModel, error) {
	cursor, err := r.grants.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var grants []*model.UserModel
	if err := cursor.All(ctx, &grants); err != nil {
		return nil, err
	}
	return grants, nil
}

// Grant 发放或覆盖授权
func (r *UserModelRepo) Grant(ctx context.Context, grant *model.UserModel) error {
	grant.UpdatedAt = time.Now()
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = grant.UpdatedAt
	}

	_, err := r.grants.UpdateOne(ctx,
		bson.M{"user_id": grant.UserID, "model_id": grant.ModelID},
		bson.M{"$set": grant},
		options.Update().SetUpsert(true),
	)
	return err
}

// SettleUsage 结算一次生成对单个模型的配额消耗
// $inc 负数扣减并写一条流水，每次请求每个模型至多调用一次
func (r *UserModelRepo) SettleUsage(ctx context.Context, userID, modelID string, counts, tokens int) error {
	if counts == 0 && tokens == 0 {
		return nil
	}

	_, err := r.grants.UpdateOne(ctx,
		bson.M{"user_id": userID, "model_id": modelID},
		bson.M{
			"$inc": bson.M{"count_balance": -counts, "token_balance": -tokens},
			"$set": bson.M{"updated_at": time.Now()},
		},
	)
	if err != nil {
		return err
	}

	_, err = r.transactions.InsertOne(ctx, &model.UsageTransaction{
		UserID:      userID,
		ModelID:     modelID,
		CountAmount: -counts,
		TokenAmount: -tokens,
		CreatedAt:   time.Now(),
	})
	return err
}
