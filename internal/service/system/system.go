// Package system 汇总服务自身与依赖的运行状态
package system

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ashwinyue/persona-chat/internal/config"
)

// Pinger 可探活的依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

// ModelStatus 模型端点状态
type ModelStatus struct {
	Available bool   `json:"available"`
	Provider  string `json:"provider"`
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Info 系统信息
type Info struct {
	Version   string       `json:"version"`
	GoVersion string       `json:"go_version"`
	StartTime time.Time    `json:"start_time"`
	Uptime    string       `json:"uptime"`
	Database  string       `json:"database"`
	Model     *ModelStatus `json:"model"`
}

// Service 系统状态服务
type Service struct {
	version   string
	db        Pinger
	model     config.ModelConfig
	client    *resty.Client
	startTime time.Time
}

// NewService 创建系统状态服务，db 为 nil 时不检查数据库
func NewService(version string, db Pinger, model config.ModelConfig) *Service {
	return &Service{
		version:   version,
		db:        db,
		model:     model,
		client:    resty.New().SetTimeout(5 * time.Second),
		startTime: time.Now().UTC(),
	}
}

// CheckModel 检查模型端点是否可达
func (s *Service) CheckModel(ctx context.Context) *ModelStatus {
	status := &ModelStatus{
		Provider: s.model.Provider,
		Endpoint: s.model.Endpoint,
		Model:    s.model.Name,
	}
	if status.Provider == "" {
		status.Provider = "ollama"
	}
	base := strings.TrimRight(s.model.Endpoint, "/")

	var body struct {
		Version string `json:"version"`
	}
	req := s.client.R().SetContext(ctx)
	url := base + "/api/version"
	if status.Provider == "openai" {
		req.SetAuthToken(s.model.APIKey)
		url = base + "/models"
	} else {
		req.SetResult(&body)
	}

	resp, err := req.Get(url)
	if err != nil {
		status.Error = fmt.Sprintf("connection failed: %v", err)
		return status
	}
	if resp.IsError() {
		status.Error = fmt.Sprintf("endpoint returned status %d", resp.StatusCode())
		return status
	}
	status.Available = true
	status.Version = body.Version
	return status
}

// Info 获取系统信息
func (s *Service) Info(ctx context.Context) *Info {
	info := &Info{
		Version:   s.version,
		GoVersion: runtime.Version(),
		StartTime: s.startTime,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Database:  "unchecked",
		Model:     s.CheckModel(ctx),
	}
	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			info.Database = "unavailable: " + err.Error()
		} else {
			info.Database = "ok"
		}
	}
	return info
}
