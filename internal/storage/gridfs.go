package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GridFSStore はMongoDB GridFSにオブジェクトを保存する。
// オブジェクトキーをGridFSのファイル名として使う。
type GridFSStore struct {
	client *mongo.Client
	bucket *gridfs.Bucket
}

// NewGridFSStore はMongoDBに接続してGridFSStoreを生成する。
// bucketNameはGridFSのバケット名（コレクションの接頭辞）になる。
func NewGridFSStore(ctx context.Context, uri, database, bucketName string) (*GridFSStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	bucket, err := gridfs.NewBucket(client.Database(database), options.GridFSBucket().SetName(bucketName))
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to open gridfs bucket: %w", err)
	}
	return &GridFSStore{client: client, bucket: bucket}, nil
}

// Put はオブジェクトをアップロードする。Content-Typeはメタデータに保存する。
func (s *GridFSStore) Put(ctx context.Context, key string, r io.Reader, _ int64, contentType string) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := s.bucket.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}
	opts := options.GridFSUpload().SetMetadata(bson.D{{Key: "contentType", Value: contentType}})
	if _, err := s.bucket.UploadFromStream(key, r, opts); err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Open はオブジェクトを読み出す。
func (s *GridFSStore) Open(ctx context.Context, key string) (io.ReadCloser, *Object, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := s.bucket.SetReadDeadline(deadline); err != nil {
			return nil, nil, fmt.Errorf("failed to set read deadline: %w", err)
		}
	}
	stream, err := s.bucket.OpenDownloadStreamByName(key)
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to open %s: %w", key, err)
	}

	file := stream.GetFile()
	obj := &Object{Key: key, Size: file.Length}
	if ct, ok := file.Metadata.Lookup("contentType").StringValueOK(); ok {
		obj.ContentType = ct
	} else {
		obj.ContentType = ContentTypeForKey(key)
	}
	return stream, obj, nil
}

// Delete は同名の全リビジョンを削除する。
func (s *GridFSStore) Delete(ctx context.Context, key string) error {
	cursor, err := s.bucket.FindContext(ctx, bson.D{{Key: "filename", Value: key}})
	if err != nil {
		return fmt.Errorf("failed to find %s: %w", key, err)
	}
	var files []gridfs.File
	if err := cursor.All(ctx, &files); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	for _, f := range files {
		if err := s.bucket.DeleteContext(ctx, f.ID); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	return nil
}

// Backend は実装名を返す。
func (s *GridFSStore) Backend() string { return "gridfs" }

// Close はMongoDBとの接続を閉じる。
func (s *GridFSStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

var _ ObjectStore = (*GridFSStore)(nil)
