package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pomelo/internal/model"
	"pomelo/internal/pkg/cache"
)

// ModelDefRepo 模型定义仓库，读路径带 Redis 缓存
// 模型定义改动频率低，缓存失效靠写路径主动删除
type ModelDefRepo struct {
	collection *mongo.Collection
	cache      *cache.RedisCache
}

// NewModelDefRepo 创建模型定义仓库
func NewModelDefRepo(db *mongo.Database, c *cache.RedisCache) *ModelDefRepo {
	return &ModelDefRepo{
		collection: db.Collection("model_defs"),
		cache:      c,
	}
}

// FindByModelID 按 model_id 查询，优先走缓存
func (r *ModelDefRepo) FindByModelID(ctx context.Context, modelID string) (*model.ModelDef, error) {
	key := cache.ModelDefCacheKey(modelID)
	if r.cache != nil {
		var cached model.ModelDef
		if err := r.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	var def model.ModelDef
	err := r.collection.FindOne(ctx, bson.M{"model_id": modelID}).Decode(&def)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		_ = r.cache.Set(ctx, key, &def, cache.ModelDefCacheTTL)
	}
	return &def, nil
}

// FindByModelIDs 批量查询模型定义
func (r *ModelDefRepo) FindByModelIDs(ctx context.Context, modelIDs []string) (map[string]*model.ModelDef, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"model_id": bson.M{"$in": modelIDs}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := map[string]*model.ModelDef{}
	for cursor.Next(ctx) {
		var def model.ModelDef
		if err := cursor.Decode(&def); err != nil {
			return nil, err
		}
		out[def.ModelID] = &def
	}
	return out, cursor.Err()
}

// List 列出全部模型定义
func (r *ModelDefRepo) List(ctx context.Context) ([]*model.ModelDef, error) {
	cursor, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var defs []*model.ModelDef
	if err := cursor.All(ctx, &defs); err != nil {
		return nil, err
	}
	return defs, nil
}

// Upsert 新建或更新模型定义，同时失效缓存
func (r *ModelDefRepo) Upsert(ctx context.Context, def *model.ModelDef) error {
	def.UpdatedAt = time.Now()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = def.UpdatedAt
	}
	if def.ID.IsZero() {
		def.ID = primitive.NewObjectID()
	}

	_, err := r.collection.UpdateOne(ctx,
		bson.M{"model_id": def.ModelID},
		bson.M{"$set": def},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return err
	}

	if r.cache != nil {
		_ = r.cache.Delete(ctx, cache.ModelDefCacheKey(def.ModelID))
	}
	return nil
}
