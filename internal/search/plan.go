package search

import (
	"sort"
	"strings"

	"github.com/hitoshi/kuzamarket/internal/model"
)

// Order は商品一覧の並び順を表す。どの並びでも新着順を最終的な同順位解消に使う。
type Order int

const (
	OrderDateDesc Order = iota
	OrderDateAsc
	OrderPriceAsc
	OrderPriceDesc
)

// Plan は商品ストアに対する1回の読み込み条件。
// ゼロ値は「全件を新着順」を表す。
type Plan struct {
	Term          string   // タイトルの部分一致（大文字小文字を区別しない）
	Categories    []string // いずれかに一致。空なら条件なし
	Location      string   // 場所の部分一致（大文字小文字を区別しない）
	HasPriceRange bool
	PriceMin      float64
	PriceMax      float64
	OwnerID       string // 指定時はこの利用者の出品のみ
	ExcludeOwner  string // 指定時はこの利用者の出品を除く
	Order         Order
	Limit         int // 0は無制限
}

// Match は商品が条件を満たすかを返す。
func (p Plan) Match(it *model.Item) bool {
	if p.Term != "" && !containsFold(it.Title, p.Term) {
		return false
	}
	if len(p.Categories) > 0 {
		found := false
		for _, c := range p.Categories {
			if it.Category == c {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if p.Location != "" && !containsFold(it.Location, p.Location) {
		return false
	}
	if p.HasPriceRange && (it.Price < p.PriceMin || it.Price > p.PriceMax) {
		return false
	}
	if p.OwnerID != "" && it.UserID != p.OwnerID {
		return false
	}
	if p.ExcludeOwner != "" && it.UserID == p.ExcludeOwner {
		return false
	}
	return true
}

// Less はaがbより先に並ぶかを返す。
func (p Plan) Less(a, b *model.Item) bool {
	switch p.Order {
	case OrderPriceAsc:
		if a.Price != b.Price {
			return a.Price < b.Price
		}
	case OrderPriceDesc:
		if a.Price != b.Price {
			return a.Price > b.Price
		}
	case OrderDateAsc:
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// Apply は条件に一致する商品を並べ替えて返す。入力のスライスは変更しない。
func (p Plan) Apply(items []*model.Item) []*model.Item {
	out := make([]*model.Item, 0, len(items))
	for _, it := range items {
		if p.Match(it) {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return p.Less(out[i], out[j]) })
	if p.Limit > 0 && len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
