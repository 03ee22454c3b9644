package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/kuzamarket/internal/model"
)

// PostgresSearchHistoryRepo は検索履歴を扱うリポジトリ。
type PostgresSearchHistoryRepo struct {
	db *sql.DB
}

// NewPostgresSearchHistoryRepo はPostgresSearchHistoryRepoを生成する。
func NewPostgresSearchHistoryRepo(db *sql.DB) *PostgresSearchHistoryRepo {
	return &PostgresSearchHistoryRepo{db: db}
}

// Record は検索履歴を1件追加する。"all"のカテゴリ・場所はNULLで保存する。
func (r *PostgresSearchHistoryRepo) Record(ctx context.Context, rec *model.SearchRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_searches (user_id, query, category, location, price_min, price_max)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.UserID, rec.Query, nullFilter(rec.Category), nullFilter(rec.Location),
		rec.PriceMin, rec.PriceMax,
	)
	if err != nil {
		return fmt.Errorf("検索履歴の記録に失敗しました: %w", err)
	}
	return nil
}

func nullFilter(s string) sql.NullString {
	if s == "all" {
		return sql.NullString{}
	}
	return nullString(s)
}

// TopTerms はsince以降に多く検索された語を返す。語は小文字にまとめて数える。
func (r *PostgresSearchHistoryRepo) TopTerms(ctx context.Context, since time.Time, limit int) ([]model.TermCount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT lower(btrim(query)) AS term, count(*) AS n
		 FROM user_searches
		 WHERE created_at >= $1 AND btrim(query) <> ''
		 GROUP BY term
		 ORDER BY n DESC, term
		 LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("人気の検索語の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var terms []model.TermCount
	for rows.Next() {
		var tc model.TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("検索語の行読み取りに失敗しました: %w", err)
		}
		terms = append(terms, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("検索語の走査に失敗しました: %w", err)
	}
	return terms, nil
}

// RecentCategories は利用者が最近検索したカテゴリを新しい順に返す。
func (r *PostgresSearchHistoryRepo) RecentCategories(ctx context.Context, userID string, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT category
		 FROM user_searches
		 WHERE user_id = $1 AND category IS NOT NULL
		 GROUP BY category
		 ORDER BY max(created_at) DESC, category
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("最近のカテゴリの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("カテゴリの行読み取りに失敗しました: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("カテゴリの走査に失敗しました: %w", err)
	}
	return categories, nil
}

// DeleteOlderThan はbeforeより古い検索履歴を削除する。
func (r *PostgresSearchHistoryRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM user_searches WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("古い検索履歴の削除に失敗しました: %w", err)
	}
	return result.RowsAffected()
}

// PostgresItemViewRepo は出品の閲覧記録を扱うリポジトリ。
type PostgresItemViewRepo struct {
	db *sql.DB
}

// NewPostgresItemViewRepo はPostgresItemViewRepoを生成する。
func NewPostgresItemViewRepo(db *sql.DB) *PostgresItemViewRepo {
	return &PostgresItemViewRepo{db: db}
}

// Record は閲覧を1件記録する。
func (r *PostgresItemViewRepo) Record(ctx context.Context, itemID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO item_views (item_id, user_id) VALUES ($1, $2)`,
		itemID, nullString(userID),
	)
	if err != nil {
		return fmt.Errorf("閲覧の記録に失敗しました: %w", err)
	}
	return nil
}

// CountByItem は出品の閲覧数を返す。
func (r *PostgresItemViewRepo) CountByItem(ctx context.Context, itemID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM item_views WHERE item_id = $1`,
		itemID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("閲覧数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// DeleteOlderThan はbeforeより古い閲覧記録を削除する。
func (r *PostgresItemViewRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM item_views WHERE viewed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("古い閲覧記録の削除に失敗しました: %w", err)
	}
	return result.RowsAffected()
}

// compile-time interface check
var (
	_ SearchHistoryRepository = (*PostgresSearchHistoryRepo)(nil)
	_ ItemViewRepository      = (*PostgresItemViewRepo)(nil)
)
