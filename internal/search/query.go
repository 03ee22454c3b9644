// Package search は商品検索の条件組み立てと、URLパラメータとの相互変換、
// クライアントごとの検索シーケンス管理を提供する。
package search

import (
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/hitoshi/kuzamarket/internal/model"
)

// Sort は検索結果の並び順を表す。
type Sort string

const (
	// SortRelevance は関連度順。ランキングエンジンは持たないため新着順と同じ並びになる。
	SortRelevance Sort = "relevance"
	// SortPriceAsc は価格の安い順。
	SortPriceAsc Sort = "price_asc"
	// SortPriceDesc は価格の高い順。
	SortPriceDesc Sort = "price_desc"
	// SortDateDesc は新着順。
	SortDateDesc Sort = "date_desc"
)

// All はカテゴリ・場所の「指定なし」を表す番兵値。
const All = "all"

// 価格帯の既定値（通貨の基本単位）。
const (
	DefaultPriceMin = 0
	DefaultPriceMax = 1000
)

// URLパラメータ名
const (
	ParamTerm     = "q"
	ParamCategory = "category"
	ParamLocation = "location"
	ParamPriceMin = "price_min"
	ParamPriceMax = "price_max"
	ParamSort     = "sort"
)

// Query は利用者の検索条件を表す。永続化はせず、URLパラメータと相互変換する。
type Query struct {
	Term     string
	Category string
	Location string
	PriceMin float64
	PriceMax float64
	Sort     Sort
}

// CategoryChecker はカテゴリがカタログに存在するかを判定する。
type CategoryChecker interface {
	HasCategory(slug string) bool
}

// Default は初期状態の検索条件を返す。
func Default() Query {
	return Query{
		Category: All,
		Location: All,
		PriceMin: DefaultPriceMin,
		PriceMax: DefaultPriceMax,
		Sort:     SortRelevance,
	}
}

// ValidSort は並び順が既知の値かを返す。
func ValidSort(s Sort) bool {
	switch s {
	case SortRelevance, SortPriceAsc, SortPriceDesc, SortDateDesc:
		return true
	}
	return false
}

// Normalize は条件を正規形に揃える。
// 検索語と場所はtrim、カテゴリは小文字化し、空の値は番兵値に置き換える。
// 価格は負値を既定値に戻し、下限が上限を超える場合は入れ替える。
func (q Query) Normalize() Query {
	q.Term = strings.TrimSpace(q.Term)

	q.Category = strings.ToLower(strings.TrimSpace(q.Category))
	if q.Category == "" {
		q.Category = All
	}

	q.Location = strings.TrimSpace(q.Location)
	if q.Location == "" || strings.EqualFold(q.Location, All) {
		q.Location = All
	}

	if !validPrice(q.PriceMin) {
		q.PriceMin = DefaultPriceMin
	}
	if !validPrice(q.PriceMax) {
		q.PriceMax = DefaultPriceMax
	}
	if q.PriceMin > q.PriceMax {
		q.PriceMin, q.PriceMax = q.PriceMax, q.PriceMin
	}

	if !ValidSort(q.Sort) {
		q.Sort = SortRelevance
	}
	return q
}

func validPrice(p float64) bool {
	return p >= 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}

// Validate はカテゴリがカタログに存在するかを検証する。Normalize済みの条件を想定する。
func (q Query) Validate(catalog CategoryChecker) error {
	if q.Category != All && !catalog.HasCategory(q.Category) {
		return model.NewUnknownCategoryError(q.Category)
	}
	return nil
}

// IsDefault は全ての条件が初期値のままかを返す。
func (q Query) IsDefault() bool {
	return q == Default()
}

// ShouldExecute は検索を実行すべきかを返す。
// 初期状態では明示的な検索が一度も行われていない限り読み込みを行わない。
func (q Query) ShouldExecute(performed bool) bool {
	return performed || !q.IsDefault()
}

// Values は条件をURLパラメータに変換する。常に6つ全てのキーを含む。
func (q Query) Values() url.Values {
	v := url.Values{}
	v.Set(ParamTerm, q.Term)
	v.Set(ParamCategory, q.Category)
	v.Set(ParamLocation, q.Location)
	v.Set(ParamPriceMin, formatPrice(q.PriceMin))
	v.Set(ParamPriceMax, formatPrice(q.PriceMax))
	v.Set(ParamSort, string(q.Sort))
	return v
}

// Encode はURLのクエリ文字列を返す。
func (q Query) Encode() string {
	return q.Values().Encode()
}

// ParseValues はURLパラメータから条件を復元する。
// 欠落・不正な値は既定値で補い、結果は正規形になる。
func ParseValues(v url.Values) Query {
	q := Default()
	q.Term = v.Get(ParamTerm)
	if c := v.Get(ParamCategory); c != "" {
		q.Category = c
	}
	if l := v.Get(ParamLocation); l != "" {
		q.Location = l
	}
	if p, ok := parsePrice(v.Get(ParamPriceMin)); ok {
		q.PriceMin = p
	}
	if p, ok := parsePrice(v.Get(ParamPriceMax)); ok {
		q.PriceMax = p
	}
	if s := v.Get(ParamSort); s != "" {
		q.Sort = Sort(s)
	}
	return q.Normalize()
}

// ParseQueryString はクエリ文字列から条件を復元する。
func ParseQueryString(raw string) (Query, error) {
	v, err := url.ParseQuery(raw)
	if err != nil {
		return Query{}, err
	}
	return ParseValues(v), nil
}

func parsePrice(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	p, err := strconv.ParseFloat(s, 64)
	if err != nil || !validPrice(p) {
		return 0, false
	}
	return p, true
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// Plan は条件を検索計画に変換する。
func (q Query) Plan() Plan {
	p := Plan{
		Term:          q.Term,
		HasPriceRange: true,
		PriceMin:      q.PriceMin,
		PriceMax:      q.PriceMax,
		Order:         orderFor(q.Sort),
	}
	if q.Category != All {
		p.Categories = []string{q.Category}
	}
	if q.Location != All {
		p.Location = q.Location
	}
	return p
}

func orderFor(s Sort) Order {
	switch s {
	case SortPriceAsc:
		return OrderPriceAsc
	case SortPriceDesc:
		return OrderPriceDesc
	default:
		return OrderDateDesc
	}
}
