// Package testutil 提供测试辅助工具
package testutil

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenSQLite 打开内存 SQLite 并迁移给定的表
// 内存库按连接隔离，限制为单连接保证后台 goroutine 看到同一份数据
func OpenSQLite(t *testing.T, tables map[string]interface{}) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for name, m := range tables {
		if err := db.Table(name).AutoMigrate(m); err != nil {
			t.Fatalf("migrate %s: %v", name, err)
		}
	}
	return db
}
