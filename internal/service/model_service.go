package service

import (
	"context"
	"time"

	"pomelo/internal/ai"
	"pomelo/internal/model"
	"pomelo/internal/repository"
)

// ModelService 模型目录服务
type ModelService struct {
	modelDefRepo  *repository.ModelDefRepo
	userModelRepo *repository.UserModelRepo

	adapterFactory AdapterFactory
}

// NewModelService 创建模型目录服务
func NewModelService(modelDefRepo *repository.ModelDefRepo, userModelRepo *repository.UserModelRepo) *ModelService {
	return &ModelService{
		modelDefRepo:   modelDefRepo,
		userModelRepo:  userModelRepo,
		adapterFactory: ai.NewAdapter,
	}
}

// AvailableModel 用户视角的可用模型：定义加余量
type AvailableModel struct {
	ModelID      string `json:"model_id"`
	Name         string `json:"name"`
	Provider     string `json:"provider"`
	APIType      string `json:"api_type"`
	AllowVision  bool   `json:"allow_vision"`
	CountBalance int    `json:"count_balance"`
	TokenBalance int    `json:"token_balance"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
}

// ListAvailable 列出用户有有效授权的模型
func (s *ModelService) ListAvailable(ctx context.Context, userID string) ([]*AvailableModel, error) {
	grants, err := s.userModelRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	modelIDs := make([]string, 0, len(grants))
	valid := make([]*model.UserModel, 0, len(grants))
	for _, g := range grants {
		if g.Expired(now) {
			continue
		}
		valid = append(valid, g)
		modelIDs = append(modelIDs, g.ModelID)
	}
	if len(valid) == 0 {
		return nil, nil
	}

	defs, err := s.modelDefRepo.FindByModelIDs(ctx, modelIDs)
	if err != nil {
		return nil, err
	}

	out := make([]*AvailableModel, 0, len(valid))
	for _, g := range valid {
		def, ok := defs[g.ModelID]
		if !ok {
			continue
		}
		am := &AvailableModel{
			ModelID:      def.ModelID,
			Name:         def.Name,
			Provider:     def.Provider,
			APIType:      def.APIType,
			AllowVision:  def.AllowVision,
			CountBalance: g.CountBalance,
			TokenBalance: g.TokenBalance,
		}
		if !g.ExpiresAt.IsZero() {
			am.ExpiresAt = g.ExpiresAt.Unix()
		}
		out = append(out, am)
	}
	return out, nil
}

// Validate 管理端校验模型定义：优先枚举上游模型列表，
// 不支持枚举的家族退化为一次最小生成
func (s *ModelService) Validate(ctx context.Context, modelID string) error {
	def, err := s.modelDefRepo.FindByModelID(ctx, modelID)
	if err != nil {
		return err
	}
	adapter, err := s.adapterFactory(def)
	if err != nil {
		return err
	}

	if lister, ok := adapter.(ai.ModelLister); ok {
		_, err := lister.ListModels(ctx)
		return err
	}

	maxTokens := 1
	_, _, _, err = adapter.Chat(ctx, []ai.Message{ai.UserMessage("ping")}, ai.CallOptions{MaxOutputTokens: &maxTokens})
	return err
}

// Upsert 管理端新建或更新模型定义
func (s *ModelService) Upsert(ctx context.Context, def *model.ModelDef) error {
	if _, err := ai.LookupProvider(def.Provider); err != nil {
		return err
	}
	return s.modelDefRepo.Upsert(ctx, def)
}

// List 管理端列出全部模型定义
func (s *ModelService) List(ctx context.Context) ([]*model.ModelDef, error) {
	return s.modelDefRepo.List(ctx)
}
