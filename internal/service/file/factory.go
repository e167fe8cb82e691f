package file

import (
	"fmt"

	"github.com/ashwinyue/persona-chat/internal/config"
)

// NewFromConfig 按配置创建对象存储
func NewFromConfig(cfg *config.Config) (Storage, error) {
	switch StorageType(cfg.Storage.Type) {
	case StorageTypeLocal:
		basePath := cfg.Storage.BasePath
		if basePath == "" {
			basePath = "./data/images"
		}
		return NewLocalStorage(basePath, cfg.Storage.URLPrefix)

	case StorageTypeMinIO, "":
		if cfg.Storage.Endpoint == "" || cfg.Storage.AccessKey == "" || cfg.Storage.SecretKey == "" || cfg.Store.Bucket == "" {
			return nil, fmt.Errorf("missing required MinIO config")
		}
		return NewMinIOStorage(&MinIOConfig{
			Endpoint:   cfg.Storage.Endpoint,
			AccessKey:  cfg.Storage.AccessKey,
			SecretKey:  cfg.Storage.SecretKey,
			BucketName: cfg.Store.Bucket,
			UseSSL:     cfg.Storage.UseSSL,
			URLPrefix:  cfg.Storage.URLPrefix,
		})

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}
