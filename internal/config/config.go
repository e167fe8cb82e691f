package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	App      AppConfig
	Server   ServerConfig
	Database DatabaseConfig
	Store    StoreConfig
	Storage  StorageConfig
	Redis    RedisConfig
	Model    ModelConfig
	Auth     AuthConfig
	Setup    SetupConfig
	Chat     ChatConfig
}

// AppConfig 应用配置
type AppConfig struct {
	Name        string
	Environment string
	Version     string
	Debug       bool
}

// ServerConfig 服务器配置
// WriteTimeout 为 0 表示不限制，流式回复可能持续很久
type ServerConfig struct {
	Host         string
	Port         int
	Mode         string
	ReadTimeout  int
	WriteTimeout int
}

// DatabaseConfig 数据库配置（远端存储的文档部分）
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
}

// StoreConfig 远端存储的逻辑标识：项目、两个集合与图片桶
type StoreConfig struct {
	ProjectID          string
	SessionsCollection string
	MessagesCollection string
	Bucket             string
}

// StorageConfig 对象存储配置
type StorageConfig struct {
	Type      string // minio, local
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	URLPrefix string
	BasePath  string
}

// RedisConfig Redis配置
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// ModelConfig 模型端点配置
type ModelConfig struct {
	Provider string // ollama, openai
	Endpoint string
	Name     string
	APIKey   string
	Debug    bool
}

// AuthConfig 认证配置
type AuthConfig struct {
	JWTSecret    string
	CookieName   string
	CookieSecure bool
}

// ChatConfig 活跃对话的回收配置，IdleMinutes 为 0 表示不回收
type ChatConfig struct {
	IdleMinutes  int
	SweepSeconds int
}

// SetupConfig 仅供 setup 命令使用的特权凭证，运行中的服务不会读取
type SetupConfig struct {
	AccessKey string
	APIKey    string
}

// ErrMissingConfig 缺少必填配置
var ErrMissingConfig = errors.New("missing required configuration")

// Load 加载配置
// path 为空或文件不存在时只使用默认值与环境变量
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	// 环境变量
	v.SetEnvPrefix("PERSONA_CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate 校验运行服务所需的配置项
func (c *Config) Validate() error {
	var missing []string
	if c.Database.Host == "" {
		missing = append(missing, "database.host")
	}
	if c.Database.DBName == "" {
		missing = append(missing, "database.dbname")
	}
	if c.Store.ProjectID == "" {
		missing = append(missing, "store.projectId")
	}
	if c.Store.SessionsCollection == "" {
		missing = append(missing, "store.sessionsCollection")
	}
	if c.Store.MessagesCollection == "" {
		missing = append(missing, "store.messagesCollection")
	}
	if c.Store.Bucket == "" {
		missing = append(missing, "store.bucket")
	}
	if c.Storage.Type == "minio" && c.Storage.Endpoint == "" {
		missing = append(missing, "storage.endpoint")
	}
	if c.Model.Endpoint == "" {
		missing = append(missing, "model.endpoint")
	}
	if c.Model.Name == "" {
		missing = append(missing, "model.name")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}
	return nil
}

// ValidateSetup 校验 setup 命令额外需要的特权配置
func (c *Config) ValidateSetup() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Setup.APIKey == "" {
		return fmt.Errorf("%w: setup.apiKey", ErrMissingConfig)
	}
	return nil
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// GetAddr 获取服务器地址
func (c *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAddr 获取 Redis 地址
func (c *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func setDefaults(v *viper.Viper) {
	// App
	v.SetDefault("app.name", "persona-chat")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.debug", false)

	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 0)

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.maxLifetime", 300)

	// Store
	v.SetDefault("store.projectId", "")
	v.SetDefault("store.sessionsCollection", "chat_sessions")
	v.SetDefault("store.messagesCollection", "chat_messages")
	v.SetDefault("store.bucket", "chat-images")

	// Storage
	v.SetDefault("storage.type", "minio")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.accessKey", "")
	v.SetDefault("storage.secretKey", "")
	v.SetDefault("storage.useSSL", false)
	v.SetDefault("storage.urlPrefix", "/api/v1/images")
	v.SetDefault("storage.basePath", "./data/images")

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Model
	v.SetDefault("model.provider", "ollama")
	v.SetDefault("model.endpoint", "http://localhost:11434")
	v.SetDefault("model.name", "llava")
	v.SetDefault("model.apiKey", "")
	v.SetDefault("model.debug", false)

	// Auth
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.cookieName", "persona_session")
	v.SetDefault("auth.cookieSecure", false)

	// Chat
	v.SetDefault("chat.idleMinutes", 60)
	v.SetDefault("chat.sweepSeconds", 60)

	// Setup
	v.SetDefault("setup.accessKey", "")
	v.SetDefault("setup.apiKey", "")
}
