package file

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOStorage MinIO 对象存储
type MinIOStorage struct {
	client     *minio.Client
	bucketName string
	urlPrefix  string
}

// MinIOConfig MinIO 配置
type MinIOConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	BucketName string
	UseSSL     bool
	URLPrefix  string
}

// NewMinIOStorage 创建 MinIO 存储，桶由 setup 命令预先创建
func NewMinIOStorage(cfg *MinIOConfig) (*MinIOStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	return &MinIOStorage{
		client:     client,
		bucketName: cfg.BucketName,
		urlPrefix:  strings.TrimSuffix(cfg.URLPrefix, "/"),
	}, nil
}

// privatePolicy 只允许桶所有者访问，外部访问统一走图片代理接口
const privatePolicy = ""

// EnsureBucket 桶不存在时创建，存在时重新应用访问策略
// 返回桶是否已存在
func (s *MinIOStorage) EnsureBucket(ctx context.Context) (bool, error) {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return false, fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{}); err != nil {
			return false, fmt.Errorf("failed to create bucket: %w", err)
		}
		return false, nil
	}

	if err := s.client.SetBucketPolicy(ctx, s.bucketName, privatePolicy); err != nil {
		return true, fmt.Errorf("failed to update bucket policy: %w", err)
	}
	return true, nil
}

// Save 上传对象
func (s *MinIOStorage) Save(ctx context.Context, req *SaveRequest) (string, error) {
	if req.OwnerID == "" {
		return "", fmt.Errorf("owner id is required")
	}
	ext := filepath.Ext(req.FileName)
	if ext == "" {
		ext = extensionByContentType(req.ContentType)
	}
	key := fmt.Sprintf("%s/%s%s", req.OwnerID, uuid.New().String(), ext)

	_, err := s.client.PutObject(ctx, s.bucketName, key, req.Reader, req.Size, minio.PutObjectOptions{
		ContentType: req.ContentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file to MinIO: %w", err)
	}

	return key, nil
}

// Get 获取对象内容
func (s *MinIOStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if !validKey(key) {
		return nil, ErrNotFound
	}
	object, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get file from MinIO: %w", err)
	}
	// GetObject 是惰性的，Stat 才会真正发出请求
	if _, err := object.Stat(); err != nil {
		object.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}
	return object, nil
}

// Delete 删除对象
func (s *MinIOStorage) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucketName, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// GetURL 获取对象的访问URL，经由服务端代理
func (s *MinIOStorage) GetURL(key string) string {
	return fmt.Sprintf("%s/%s", s.urlPrefix, key)
}
