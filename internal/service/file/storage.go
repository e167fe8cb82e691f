// Package file 图片对象存储，对象按 <ownerID>/<uuid><ext> 组织
package file

import (
	"context"
	"errors"
	"io"
	"strings"
)

// ErrNotFound 对象不存在
var ErrNotFound = errors.New("object not found")

// Storage 对象存储接口
type Storage interface {
	// Save 保存对象，返回对象键
	Save(ctx context.Context, req *SaveRequest) (string, error)
	// Get 获取对象内容
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete 删除对象，不存在时不报错
	Delete(ctx context.Context, key string) error
	// GetURL 获取对象的访问URL
	GetURL(key string) string
}

// SaveRequest 保存对象请求
type SaveRequest struct {
	FileName    string
	ContentType string
	Size        int64
	Reader      io.Reader
	OwnerID     string
}

// StorageType 存储类型
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeMinIO StorageType = "minio"
)

// OwnerOf 返回对象键所属的用户
func OwnerOf(key string) string {
	owner, _, ok := strings.Cut(key, "/")
	if !ok {
		return ""
	}
	return owner
}

// validKey 拒绝越出 owner 目录的对象键
func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return false
	}
	return OwnerOf(key) != ""
}

// extensionByContentType 根据内容类型返回扩展名
func extensionByContentType(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
