// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/kuzamarket/internal/model"
	"github.com/hitoshi/kuzamarket/internal/search"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateWithProfile はユーザーとプロフィールを同一トランザクションで作成する。
	// メールアドレスが登録済みの場合はErrDuplicateEmailを返す。
	CreateWithProfile(ctx context.Context, user *model.User, profile *model.Profile) error

	// ListSummaries は管理画面用に全ユーザーを出品数付きで新しい順に返す。
	ListSummaries(ctx context.Context) ([]model.UserSummary, error)

	// Count はユーザー数を返す。
	Count(ctx context.Context) (int, error)
}

// ProfileRepository はプロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)

	// Update はプロフィールを更新する。対象が存在しない場合はnilを返す。
	Update(ctx context.Context, profile *model.Profile) (*model.Profile, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// ItemRepository は出品データの永続化インターフェース。
// 出品は作成と削除のみで、更新はない。
type ItemRepository interface {
	// FindByID は指定IDの出品を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Item, error)

	// Create は出品を作成する。
	Create(ctx context.Context, item *model.Item) error

	// Delete は出品を削除する。対象が存在しなかった場合はfalseを返す。
	// 保存済み参照の削除は呼び出し側が先に行う。
	Delete(ctx context.Context, id string) (bool, error)

	// Search はPlanの条件で出品を検索する。
	Search(ctx context.Context, plan search.Plan) ([]*model.Item, error)

	// Stats は出品数と出品価格の合計を返す。
	Stats(ctx context.Context) (count int, totalValue float64, err error)

	// ListPopular はsince以降の閲覧数と保存数の合計が多い順に出品を返す。
	ListPopular(ctx context.Context, since time.Time, limit int) ([]*model.Item, error)
}

// SavedItemRepository は保存済み商品の永続化インターフェース。
// 読み書きはストアドプロシージャを経由する。
type SavedItemRepository interface {
	// ListSaved は利用者の保存済み参照を新しい順に返す。
	ListSaved(ctx context.Context, userID string) ([]model.SavedItem, error)

	// AddSaved は保存を追加する。既に保存済みでもエラーにしない。
	// 出品が存在しない場合はKindNotFoundのAPIErrorを返す。
	AddSaved(ctx context.Context, userID, itemID string) error

	// RemoveSaved は保存を削除する。未保存でもエラーにしない。
	RemoveSaved(ctx context.Context, userID, itemID string) error

	// ListEntries は保存済み参照を出品情報付きで返す。参照切れの行はItemがnil。
	ListEntries(ctx context.Context, userID string) ([]model.SavedEntry, error)

	// DeleteByItem は出品を参照する全ての保存を削除する。
	DeleteByItem(ctx context.Context, itemID string) (int64, error)

	// DeleteDangling は存在しない出品への保存を削除し、削除件数を返す。
	DeleteDangling(ctx context.Context) (int64, error)
}

// SearchHistoryRepository は検索履歴の永続化インターフェース。
type SearchHistoryRepository interface {
	// Record は検索履歴を1件追加する。
	Record(ctx context.Context, rec *model.SearchRecord) error

	// TopTerms はsince以降に多く検索された語を件数の多い順に返す。
	TopTerms(ctx context.Context, since time.Time, limit int) ([]model.TermCount, error)

	// RecentCategories は利用者が最近検索したカテゴリを新しい順に重複なしで返す。
	RecentCategories(ctx context.Context, userID string, limit int) ([]string, error)

	// DeleteOlderThan はbeforeより古い履歴を削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// ItemViewRepository は出品の閲覧記録の永続化インターフェース。
type ItemViewRepository interface {
	// Record は閲覧を1件記録する。userIDが空なら匿名の閲覧。
	Record(ctx context.Context, itemID, userID string) error

	// CountByItem は出品の閲覧数を返す。
	CountByItem(ctx context.Context, itemID string) (int, error)

	// DeleteOlderThan はbeforeより古い閲覧記録を削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
