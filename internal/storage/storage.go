// Package storage は出品画像を保存するオブジェクトストレージを抽象化する。
// 実装はS3、MongoDB GridFS、メモリの3種類。
package storage

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrNotFound は指定キーのオブジェクトが存在しないことを表す。
var ErrNotFound = errors.New("object not found")

// ErrUnsupportedType は画像として受け付けないContent-Typeを表す。
var ErrUnsupportedType = errors.New("unsupported image type")

// Object は保存済みオブジェクトの属性。
type Object struct {
	Key         string
	ContentType string
	Size        int64
}

// ObjectStore はオブジェクトの保存・取得・削除を行う。
type ObjectStore interface {
	// Put はオブジェクトを保存する。sizeが不明な場合は-1を渡す。
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Open はオブジェクトを読み出す。存在しない場合はErrNotFoundを返す。
	Open(ctx context.Context, key string) (io.ReadCloser, *Object, error)
	// Delete はオブジェクトを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, key string) error
	// Backend はログとメトリクス用の実装名を返す。
	Backend() string
}

// 受け付ける画像形式と拡張子
var imageExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
}

// ExtensionFor はContent-Typeに対応する拡張子を返す。
func ExtensionFor(contentType string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	ext, ok := imageExtensions[strings.ToLower(mediaType)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, mediaType)
	}
	return ext, nil
}

// ContentTypeForKey はキーの拡張子からContent-Typeを推定する。
func ContentTypeForKey(key string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(key)), ".")
	for ct, e := range imageExtensions {
		if e == ext {
			return ct
		}
	}
	return "application/octet-stream"
}

// KeyGenerator は "items/<ULID>.<ext>" 形式のオブジェクトキーを生成する。
// 同一ミリ秒内でも単調増加するULIDを返す。
type KeyGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// NewKeyGenerator はKeyGeneratorを生成する。
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// ItemImageKey は出品画像用のキーを生成する。
func (g *KeyGenerator) ItemImageKey(contentType string) (string, error) {
	ext, err := ExtensionFor(contentType)
	if err != nil {
		return "", err
	}
	g.mu.Lock()
	id, err := ulid.New(ulid.Timestamp(g.now()), g.entropy)
	g.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("failed to generate object key: %w", err)
	}
	return "items/" + id.String() + "." + ext, nil
}

// PublicURL はキーから公開URLを組み立てる。
func PublicURL(baseURL, key string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(key, "/")
}

// ValidKey は外部から渡されたキーが安全に扱えるかを返す。
func ValidKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return false
	}
	return path.Clean(key) == key
}
