package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"pomelo/internal/config"
	"pomelo/internal/handler"
	"pomelo/internal/pkg/cache"
	"pomelo/internal/pkg/jwt"
	"pomelo/internal/pkg/mongodb"
	"pomelo/internal/pkg/storage"
	"pomelo/internal/pkg/storagefactory"
	"pomelo/internal/repository"
	authRepo "pomelo/internal/repository/auth"
	"pomelo/internal/server/middleware"
	"pomelo/internal/service"
)

// Server HTTP 服务器
type Server struct {
	cfg    *config.Config
	engine *gin.Engine
	mongo  *mongodb.Client
	redis  *cache.RedisCache
	store  storage.Storage

	chatSvc  *service.ChatService
	modelSvc *service.ModelService
}

// New 创建服务器实例
func New(cfg *config.Config) (*Server, error) {
	// 设置 Gin 模式
	switch cfg.Server.Mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// MongoDB 是持久层，必须可用
	mongoClient, err := mongodb.New(&cfg.Mongo)
	if err != nil {
		return nil, err
	}
	log.Info().Str("database", cfg.Mongo.Database).Msg("connected to MongoDB")
	if err := mongodb.EnsureIndexes(mongoClient.Database()); err != nil {
		log.Warn().Err(err).Msg("failed to ensure indexes")
	}

	// Redis 缓存 (可选，缺失时模型定义直读库)
	var redisCache *cache.RedisCache
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCache(&cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Redis, continuing without it")
		} else {
			redisCache = rc
			log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")
		}
	}

	// 对象存储 (可选，缺失时生成的图片不落盘)
	var store storage.Storage
	if cfg.Storage.Type != "" {
		st, err := storagefactory.NewStorage(context.Background(), &cfg.Storage)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize storage, continuing without it")
		} else {
			store = st
			log.Info().Str("type", st.GetStorageType()).Msg("initialized storage")
		}
	}

	db := mongoClient.Database()
	chatRepo := repository.NewChatRepo(db)
	messageRepo := repository.NewMessageRepo(db)
	userModelRepo := repository.NewUserModelRepo(db)
	balanceRepo := repository.NewBalanceRepo(db)
	modelDefRepo := repository.NewModelDefRepo(db, redisCache)

	stopSvc := service.NewStopService()
	chatSvc := service.NewChatService(
		chatRepo, messageRepo, userModelRepo, balanceRepo, modelDefRepo,
		stopSvc, store,
		cfg.Chat.MaxSpans, cfg.Chat.TitleChunkDelay,
	)
	modelSvc := service.NewModelService(modelDefRepo, userModelRepo)

	srv := &Server{
		cfg:      cfg,
		engine:   engine,
		mongo:    mongoClient,
		redis:    redisCache,
		store:    store,
		chatSvc:  chatSvc,
		modelSvc: modelSvc,
	}

	srv.setupRoutes()

	return srv, nil
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	// 全局中间件
	s.engine.Use(middleware.Recovery())
	s.engine.Use(middleware.RequestID())
	s.engine.Use(middleware.Logger())
	s.engine.Use(middleware.CORS())

	// 健康检查
	healthHandler := handler.NewHealthHandler()
	s.engine.GET("/health", healthHandler.Health)
	s.engine.GET("/ready", healthHandler.Ready)

	// Swagger 文档
	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	jwtSecret := s.cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "default-secret-key-change-in-production"
		log.Warn().Msg("JWT secret not configured, using default (NOT SECURE for production)")
	}
	accessTokenExpiry := s.cfg.Auth.AccessTokenExpiry
	if accessTokenExpiry == 0 {
		accessTokenExpiry = 24 * time.Hour
	}
	refreshTokenExpiry := s.cfg.Auth.RefreshTokenExpiry
	if refreshTokenExpiry == 0 {
		refreshTokenExpiry = 7 * 24 * time.Hour
	}

	db := s.mongo.Database()
	userRepo := authRepo.NewUserRepo(db)
	refreshTokenRepo := authRepo.NewRefreshTokenRepo(db)
	authSvc := service.NewAuthService(userRepo, refreshTokenRepo, jwtSecret, accessTokenExpiry, refreshTokenExpiry)
	authHdl := handler.NewAuthHandler(authSvc)

	jwtUtil := jwt.NewJWT(jwtSecret, accessTokenExpiry)

	chatHdl := handler.NewChatHandler(s.chatSvc)
	modelHdl := handler.NewModelHandler(s.modelSvc)

	// API v1
	v1 := s.engine.Group("/api/v1")
	{
		// 认证接口（公开）
		v1.POST("/auth/register", authHdl.Register)
		v1.POST("/auth/login", authHdl.Login)
		v1.POST("/auth/refresh", authHdl.Refresh)

		// 需要认证的接口
		auth := v1.Group("")
		auth.Use(middleware.Auth(jwtUtil))
		{
			auth.POST("/auth/logout", authHdl.Logout)
			auth.GET("/auth/me", authHdl.Me)

			// 会话
			auth.POST("/chats", chatHdl.Create)
			auth.GET("/chats", chatHdl.List)
			auth.GET("/chats/:id", chatHdl.Get)
			auth.PUT("/chats/:id/spans", chatHdl.UpdateSpans)
			auth.PUT("/chats/:id/leaf", chatHdl.SetLeaf)
			auth.DELETE("/chats/:id", chatHdl.Delete)

			// 生成
			auth.POST("/chats/turn", chatHdl.Turn)
			auth.POST("/chats/regenerate", chatHdl.Regenerate)
			auth.POST("/chats/stop/:stopId", chatHdl.Stop)

			// 聊天附件（需要对象存储）
			if s.store != nil {
				attachmentSvc := service.NewAttachmentService(repository.NewAttachmentRepo(db), s.store)
				attachmentHdl := handler.NewAttachmentHandler(attachmentSvc)

				auth.POST("/attachments", attachmentHdl.Upload)
				auth.GET("/attachments", attachmentHdl.List)
				auth.GET("/attachments/:id/download-url", attachmentHdl.DownloadURL)
				auth.DELETE("/attachments/:id", attachmentHdl.Delete)
			}

			// 模型目录
			auth.GET("/models", modelHdl.ListAvailable)

			// 管理端
			auth.GET("/admin/models", modelHdl.AdminList)
			auth.POST("/admin/models", modelHdl.AdminUpsert)
			auth.POST("/admin/models/:modelId/validate", modelHdl.AdminValidate)
		}
	}
}

// Run 启动服务器
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server...")

		if s.mongo != nil {
			if err := s.mongo.Close(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to close MongoDB connection")
			}
		}
		if s.redis != nil {
			if err := s.redis.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close Redis connection")
			}
		}

		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// Engine 获取 Gin 引擎 (用于测试)
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
