// Package model はドメインモデルを定義する。
package model

import "time"

// Item は出品された1件の商品を表す。
// 作成後は削除のみ可能で、編集はできない。
type Item struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Price        float64   `json:"price"`
	Category     string    `json:"category"` // カタログのスラッグ（小文字）
	Description  string    `json:"description"`
	Location     string    `json:"location"`
	ImageURL     string    `json:"image_url,omitempty"`
	ContactEmail string    `json:"contact_email"`
	ContactPhone string    `json:"contact_phone,omitempty"`
	UserID       string    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// SavedItem は利用者が保存した商品への参照を表す。
// (UserID, ItemID) の組は一意。
type SavedItem struct {
	UserID    string    `json:"user_id"`
	ItemID    string    `json:"item_id"`
	CreatedAt time.Time `json:"created_at"`
}

// SavedEntry は保存済み一覧の1行を表す。
// 商品が削除済みの場合はItemがnilのまま返る（参照切れ）。
type SavedEntry struct {
	SavedItem
	Item *Item `json:"item,omitempty"`
}

// Missing は参照先の商品が既に存在しないかどうかを返す。
func (e SavedEntry) Missing() bool {
	return e.Item == nil
}

// SearchRecord は実行された検索条件の履歴を表す。
type SearchRecord struct {
	UserID   string
	Query    string
	Category string
	Location string
	PriceMin float64
	PriceMax float64
}

// TermCount は検索語と出現回数の組。
type TermCount struct {
	Term  string `json:"term"`
	Count int    `json:"count"`
}

// DashboardStats は管理画面に表示する集計値を表す。
type DashboardStats struct {
	TotalItems int     `json:"total_items"`
	TotalUsers int     `json:"total_users"`
	TotalValue float64 `json:"total_value"`
}
