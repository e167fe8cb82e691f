package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/ashwinyue/persona-chat/internal/config"
	"github.com/ashwinyue/persona-chat/internal/database"
	"github.com/ashwinyue/persona-chat/internal/repository"
	"github.com/ashwinyue/persona-chat/internal/router"
	"github.com/ashwinyue/persona-chat/internal/service"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// 设置 Gin 模式
	gin.SetMode(cfg.Server.Mode)

	// 初始化数据库
	db, err := database.New(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Printf("Database connected: %s", cfg.Database.DBName)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := service.NewDependencies(ctx, cfg)
	if err != nil {
		return err
	}
	if deps.Redis != nil {
		defer deps.Redis.Close()
	}

	// 初始化各层
	repos := repository.NewRepositories(db.DB, tablesFrom(cfg))
	services, err := service.NewServices(repos, cfg, deps)
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}

	services.Chat.StartSweeper(ctx,
		time.Duration(cfg.Chat.SweepSeconds)*time.Second,
		time.Duration(cfg.Chat.IdleMinutes)*time.Minute)

	srv := &http.Server{
		Addr:        cfg.Server.GetAddr(),
		Handler:     router.SetupRouter(services),
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		// 0 表示不限制，流式回复可能持续很久
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Println("Shutting down server...")

	// 优雅关闭
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: server forced to shutdown: %v", err)
	}

	// 等待会话计数等后台写入完成
	services.Chat.Shutdown()
	log.Println("Server exited")
	return nil
}
