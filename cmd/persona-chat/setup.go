package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/ashwinyue/persona-chat/internal/config"
	"github.com/ashwinyue/persona-chat/internal/database"
	"github.com/ashwinyue/persona-chat/internal/repository"
	"github.com/ashwinyue/persona-chat/internal/service/file"
)

// bucketEnsurer 创建或修正图片桶
type bucketEnsurer interface {
	EnsureBucket(ctx context.Context) (bool, error)
}

func newSetupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Provision the session tables and the image bucket",
		Long: "Creates the sessions and messages tables with their indexes, and the image bucket. " +
			"Safe to run repeatedly: existing tables are migrated in place and an existing bucket gets its policy re-applied.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to config file")
	return cmd
}

func runSetup(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateSetup(); err != nil {
		return err
	}

	db, err := database.New(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	bucket, err := setupBucket(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()
	return provision(ctx, cmd.OutOrStdout(), db.DB, tablesFrom(cfg), bucket)
}

// setupBucket 使用特权凭证连接 MinIO，本地存储无需创建桶
func setupBucket(cfg *config.Config) (bucketEnsurer, error) {
	if file.StorageType(cfg.Storage.Type) == file.StorageTypeLocal {
		return nil, nil
	}
	accessKey := cfg.Setup.AccessKey
	if accessKey == "" {
		accessKey = cfg.Storage.AccessKey
	}
	storage, err := file.NewMinIOStorage(&file.MinIOConfig{
		Endpoint:   cfg.Storage.Endpoint,
		AccessKey:  accessKey,
		SecretKey:  cfg.Setup.APIKey,
		BucketName: cfg.Store.Bucket,
		UseSSL:     cfg.Storage.UseSSL,
		URLPrefix:  cfg.Storage.URLPrefix,
	})
	if err != nil {
		return nil, err
	}
	return storage, nil
}

func provision(ctx context.Context, out io.Writer, db *gorm.DB, tables repository.Tables, bucket bucketEnsurer) error {
	results, err := database.Provision(db.WithContext(ctx), tables)
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Existed {
			fmt.Fprintf(out, "Table %s exists, migrated in place\n", r.Table)
		} else {
			fmt.Fprintf(out, "Created table %s\n", r.Table)
		}
	}

	if bucket == nil {
		fmt.Fprintln(out, "Local storage configured, no bucket to provision")
		return nil
	}
	existed, err := bucket.EnsureBucket(ctx)
	if err != nil {
		return err
	}
	if existed {
		fmt.Fprintln(out, "Bucket exists, access policy re-applied")
	} else {
		fmt.Fprintln(out, "Created bucket")
	}
	return nil
}
