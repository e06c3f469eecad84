package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pomelo/internal/model"
)

// BalanceRepo 用户货币余额仓库
type BalanceRepo struct {
	balances     *mongo.Collection
	transactions *mongo.Collection
}

// NewBalanceRepo 创建货币余额仓库
func NewBalanceRepo(db *mongo.Database) *BalanceRepo {
	return &BalanceRepo{
		balances:     db.Collection("user_balances"),
		transactions: db.Collection("balance_transactions"),
	}
}

// FindByUserID 取用户余额，没有记录按零处理
func (r *BalanceRepo) FindByUserID(ctx context.Context, userID string) (*model.UserBalance, error) {
	var b model.UserBalance
	err := r.balances.FindOne(ctx, bson.M{"user_id": userID}).Decode(&b)
	if err == mongo.ErrNoDocuments {
		return &model.UserBalance{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Deduct 扣减货币余额并写流水 - 每次请求至多调用一次
func (r *BalanceRepo) Deduct(ctx context.Context, userID string, amount float64, kind string) error {
	if amount == 0 {
		return nil
	}

	_, err := r.balances.UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{
			"$inc": bson.M{"balance": -amount},
			"$set": bson.M{"updated_at": time.Now()},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return err
	}

	_, err = r.transactions.InsertOne(ctx, &model.BalanceTransaction{
		UserID:    userID,
		Amount:    -amount,
		Kind:      kind,
		CreatedAt: time.Now(),
	})
	return err
}

// Credit 充值
func (r *BalanceRepo) Credit(ctx context.Context, userID string, amount float64, kind string) error {
	return r.Deduct(ctx, userID, -amount, kind)
}
