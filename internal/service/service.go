package service

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ashwinyue/persona-chat/internal/config"
	"github.com/ashwinyue/persona-chat/internal/repository"
	"github.com/ashwinyue/persona-chat/internal/service/auth"
	"github.com/ashwinyue/persona-chat/internal/service/chat"
	"github.com/ashwinyue/persona-chat/internal/service/file"
	"github.com/ashwinyue/persona-chat/internal/service/history"
	"github.com/ashwinyue/persona-chat/internal/service/modelstream"
	"github.com/ashwinyue/persona-chat/internal/service/session"
	"github.com/ashwinyue/persona-chat/internal/service/store"
	"github.com/ashwinyue/persona-chat/internal/service/system"
)

// Services 服务集合
type Services struct {
	Auth    *auth.Service
	Chat    *chat.Service
	History *history.Service
	Gateway *store.Gateway
	System  *system.Service

	Config    *config.Config
	Snapshots *session.Manager
}

// Dependencies 外部依赖，测试时可替换
type Dependencies struct {
	Redis    *redis.Client
	Storage  file.Storage
	Streamer modelstream.Streamer
}

// NewDependencies 按配置创建外部依赖
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	storage, err := file.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	streamer, err := modelstream.New(ctx, &cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}

	deps := &Dependencies{Storage: storage, Streamer: streamer}
	if cfg.Redis.Enabled {
		deps.Redis = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := deps.Redis.Ping(ctx).Err(); err != nil {
			log.Printf("Warning: redis unavailable, snapshots stay in memory: %v", err)
		}
	}
	return deps, nil
}

// NewServices 创建所有服务
func NewServices(repo *repository.Repositories, cfg *config.Config, deps *Dependencies) (*Services, error) {
	authSvc, err := auth.NewService(repo.Auth, cfg.Auth.JWTSecret)
	if err != nil {
		return nil, err
	}
	if cfg.Auth.JWTSecret == "" {
		log.Printf("Warning: auth.jwtSecret not set, sessions will not survive a restart")
	}

	gateway := store.NewGateway(repo.Chat, deps.Storage)
	snapshots := session.NewManager(deps.Redis)

	return &Services{
		Auth:    authSvc,
		Chat:    chat.NewService(gateway, deps.Streamer, cfg.Model.Name, snapshots),
		History: history.NewService(gateway),
		Gateway: gateway,
		System:  system.NewService(cfg.App.Version, dbPinger{repo.DB}, cfg.Model),

		Config:    cfg,
		Snapshots: snapshots,
	}, nil
}

// dbPinger 用于系统状态检查
type dbPinger struct {
	db *gorm.DB
}

func (p dbPinger) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
