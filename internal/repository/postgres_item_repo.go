package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/kuzamarket/internal/model"
	"github.com/hitoshi/kuzamarket/internal/search"
)

const itemColumns = `i.id, i.title, i.price, i.category, i.description, i.location,
		        i.image_url, i.contact_email, i.contact_phone, i.user_id, i.created_at`

// PostgresItemRepo はPostgreSQLを使用した出品リポジトリ。
type PostgresItemRepo struct {
	db *sql.DB
}

// NewPostgresItemRepo はPostgresItemRepoを生成する。
func NewPostgresItemRepo(db *sql.DB) *PostgresItemRepo {
	return &PostgresItemRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(s rowScanner) (*model.Item, error) {
	item := &model.Item{}
	var imageURL, contactPhone sql.NullString
	if err := s.Scan(
		&item.ID, &item.Title, &item.Price, &item.Category, &item.Description, &item.Location,
		&imageURL, &item.ContactEmail, &contactPhone, &item.UserID, &item.CreatedAt,
	); err != nil {
		return nil, err
	}
	item.ImageURL = nullStringValue(imageURL)
	item.ContactPhone = nullStringValue(contactPhone)
	return item, nil
}

func scanItems(rows *sql.Rows) ([]*model.Item, error) {
	defer rows.Close()
	var items []*model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("出品行の読み取りに失敗しました: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("出品一覧の走査に失敗しました: %w", err)
	}
	return items, nil
}

// FindByID は指定IDの出品を取得する。見つからない場合はnilを返す。
func (r *PostgresItemRepo) FindByID(ctx context.Context, id string) (*model.Item, error) {
	if !validID(id) {
		return nil, nil
	}
	item, err := scanItem(r.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items i WHERE i.id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("出品の取得に失敗しました: %w", err)
	}
	return item, nil
}

// Create は出品を作成する。
func (r *PostgresItemRepo) Create(ctx context.Context, item *model.Item) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO items (id, title, price, category, description, location,
		                    image_url, contact_email, contact_phone, user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		item.ID, item.Title, item.Price, item.Category, item.Description, item.Location,
		nullString(item.ImageURL), item.ContactEmail, nullString(item.ContactPhone),
		item.UserID, item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("出品の作成に失敗しました: %w", err)
	}
	return nil
}

// Delete は出品を削除する。対象が存在しなかった場合はfalseを返す。
func (r *PostgresItemRepo) Delete(ctx context.Context, id string) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	result, err := r.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("出品の削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// Search はPlanの条件で出品を検索する。
func (r *PostgresItemRepo) Search(ctx context.Context, plan search.Plan) ([]*model.Item, error) {
	query, args := buildSearchQuery(plan)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("出品の検索に失敗しました: %w", err)
	}
	return scanItems(rows)
}

// buildSearchQuery はPlanからSELECT文と引数を組み立てる。
// 並び順はsearch.Plan.Lessと同じ同順位解消を行う。
func buildSearchQuery(plan search.Plan) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if plan.Term != "" {
		conds = append(conds, `i.title ILIKE '%' || `+arg(escapeLike(plan.Term))+` || '%'`)
	}
	if len(plan.Categories) > 0 {
		conds = append(conds, "i.category = ANY("+arg(pq.Array(plan.Categories))+")")
	}
	if plan.Location != "" {
		conds = append(conds, `i.location ILIKE '%' || `+arg(escapeLike(plan.Location))+` || '%'`)
	}
	if plan.HasPriceRange {
		conds = append(conds, "i.price >= "+arg(plan.PriceMin), "i.price <= "+arg(plan.PriceMax))
	}
	if plan.OwnerID != "" {
		conds = append(conds, "i.user_id = "+arg(plan.OwnerID))
	}
	if plan.ExcludeOwner != "" {
		conds = append(conds, "i.user_id <> "+arg(plan.ExcludeOwner))
	}

	var b strings.Builder
	b.WriteString("SELECT " + itemColumns + " FROM items i")
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY " + orderClause(plan.Order))
	if plan.Limit > 0 {
		b.WriteString(" LIMIT " + arg(plan.Limit))
	}
	return b.String(), args
}

func orderClause(o search.Order) string {
	switch o {
	case search.OrderDateAsc:
		return "i.created_at ASC, i.id ASC"
	case search.OrderPriceAsc:
		return "i.price ASC, i.created_at DESC, i.id DESC"
	case search.OrderPriceDesc:
		return "i.price DESC, i.created_at DESC, i.id DESC"
	}
	return "i.created_at DESC, i.id DESC"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike はLIKEパターンの特殊文字をエスケープする。
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// Stats は出品数と出品価格の合計を返す。
func (r *PostgresItemRepo) Stats(ctx context.Context) (int, float64, error) {
	var count int
	var total float64
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*), COALESCE(sum(price), 0) FROM items`,
	).Scan(&count, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("出品集計の取得に失敗しました: %w", err)
	}
	return count, total, nil
}

// ListPopular はsince以降の閲覧数と保存数の合計が多い順に出品を返す。
// 閲覧も保存もない出品は含めない。
func (r *PostgresItemRepo) ListPopular(ctx context.Context, since time.Time, limit int) ([]*model.Item, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+itemColumns+`
		 FROM items i
		 LEFT JOIN (
		     SELECT item_id, count(*) AS n FROM item_views
		     WHERE viewed_at >= $1 GROUP BY item_id
		 ) v ON v.item_id = i.id
		 LEFT JOIN (
		     SELECT item_id, count(*) AS n FROM saved_items
		     WHERE created_at >= $1 GROUP BY item_id
		 ) s ON s.item_id = i.id
		 WHERE COALESCE(v.n, 0) + COALESCE(s.n, 0) > 0
		 ORDER BY COALESCE(v.n, 0) + COALESCE(s.n, 0) DESC, i.created_at DESC, i.id DESC
		 LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("人気の出品の取得に失敗しました: %w", err)
	}
	return scanItems(rows)
}

// compile-time interface check
var _ ItemRepository = (*PostgresItemRepo)(nil)
