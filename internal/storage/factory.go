package storage

import (
	"context"
	"fmt"

	"github.com/hitoshi/kuzamarket/internal/config"
)

// NewFromConfig は設定に応じたObjectStoreを生成する。
// 戻り値の関数は終了時に接続を閉じるために呼ぶ。
func NewFromConfig(ctx context.Context, cfg *config.Config) (ObjectStore, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	switch cfg.StorageBackend {
	case "memory":
		return NewMemoryStore(), noop, nil
	case "s3":
		store, err := NewS3Store(ctx, S3Options{
			Bucket:          cfg.StorageBucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	case "gridfs":
		if cfg.MongoURI == "" {
			return nil, nil, fmt.Errorf("gridfs storage requires MONGO_URI to be set")
		}
		store, err := NewGridFSStore(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.StorageBucket)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend: %s", cfg.StorageBackend)
	}
}
