package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/kuzamarket/internal/model"
)

// PostgresSavedItemRepo はストアドプロシージャ経由で保存済み商品を扱うリポジトリ。
type PostgresSavedItemRepo struct {
	db *sql.DB
}

// NewPostgresSavedItemRepo はPostgresSavedItemRepoを生成する。
func NewPostgresSavedItemRepo(db *sql.DB) *PostgresSavedItemRepo {
	return &PostgresSavedItemRepo{db: db}
}

// ListSaved は利用者の保存済み参照を新しい順に返す。
func (r *PostgresSavedItemRepo) ListSaved(ctx context.Context, userID string) ([]model.SavedItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT item_id, created_at FROM get_user_saved_items($1)`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("保存済み商品の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var saved []model.SavedItem
	for rows.Next() {
		s := model.SavedItem{UserID: userID}
		if err := rows.Scan(&s.ItemID, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("保存済み商品の行読み取りに失敗しました: %w", err)
		}
		saved = append(saved, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("保存済み商品の走査に失敗しました: %w", err)
	}
	return saved, nil
}

// AddSaved は保存を追加する。出品が存在しない場合はKindNotFoundのエラーを返す。
func (r *PostgresSavedItemRepo) AddSaved(ctx context.Context, userID, itemID string) error {
	if !validID(itemID) {
		return model.NewItemNotFoundError(itemID)
	}
	_, err := r.db.ExecContext(ctx, `SELECT add_saved_item($1, $2)`, userID, itemID)
	if err != nil {
		if pqCode(err) == pqNoDataFound {
			return model.NewItemNotFoundError(itemID)
		}
		return fmt.Errorf("保存の追加に失敗しました: %w", err)
	}
	return nil
}

// RemoveSaved は保存を削除する。形式外のIDは保存されていないので何もしない。
func (r *PostgresSavedItemRepo) RemoveSaved(ctx context.Context, userID, itemID string) error {
	if !validID(itemID) {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `SELECT remove_saved_item($1, $2)`, userID, itemID)
	if err != nil {
		return fmt.Errorf("保存の削除に失敗しました: %w", err)
	}
	return nil
}

// ListEntries は保存済み参照を出品情報付きで返す。参照切れの行はItemがnil。
func (r *PostgresSavedItemRepo) ListEntries(ctx context.Context, userID string) ([]model.SavedEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT s.item_id, s.created_at,
		        i.id, i.title, i.price, i.category, i.description, i.location,
		        i.image_url, i.contact_email, i.contact_phone, i.user_id, i.created_at
		 FROM get_user_saved_items($1) s
		 LEFT JOIN items i ON i.id = s.item_id
		 ORDER BY s.created_at DESC, s.item_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("保存済み一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var entries []model.SavedEntry
	for rows.Next() {
		e := model.SavedEntry{SavedItem: model.SavedItem{UserID: userID}}
		var (
			id, title, category, description, location sql.NullString
			imageURL, contactEmail, contactPhone        sql.NullString
			ownerID                                     sql.NullString
			price                                       sql.NullFloat64
			createdAt                                   sql.NullTime
		)
		if err := rows.Scan(
			&e.ItemID, &e.CreatedAt,
			&id, &title, &price, &category, &description, &location,
			&imageURL, &contactEmail, &contactPhone, &ownerID, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("保存済み一覧の行読み取りに失敗しました: %w", err)
		}
		if id.Valid {
			e.Item = &model.Item{
				ID:           id.String,
				Title:        title.String,
				Price:        price.Float64,
				Category:     category.String,
				Description:  description.String,
				Location:     location.String,
				ImageURL:     nullStringValue(imageURL),
				ContactEmail: contactEmail.String,
				ContactPhone: nullStringValue(contactPhone),
				UserID:       ownerID.String,
				CreatedAt:    createdAt.Time,
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("保存済み一覧の走査に失敗しました: %w", err)
	}
	return entries, nil
}

// DeleteByItem は出品を参照する全ての保存を削除する。
func (r *PostgresSavedItemRepo) DeleteByItem(ctx context.Context, itemID string) (int64, error) {
	if !validID(itemID) {
		return 0, nil
	}
	result, err := r.db.ExecContext(ctx, `DELETE FROM saved_items WHERE item_id = $1`, itemID)
	if err != nil {
		return 0, fmt.Errorf("出品の保存参照の削除に失敗しました: %w", err)
	}
	return result.RowsAffected()
}

// DeleteDangling は存在しない出品への保存を削除する。
func (r *PostgresSavedItemRepo) DeleteDangling(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM saved_items s
		 WHERE NOT EXISTS (SELECT 1 FROM items i WHERE i.id = s.item_id)`,
	)
	if err != nil {
		return 0, fmt.Errorf("参照切れの保存の削除に失敗しました: %w", err)
	}
	return result.RowsAffected()
}

// compile-time interface check
var _ SavedItemRepository = (*PostgresSavedItemRepo)(nil)
