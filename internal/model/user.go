// Package model はドメインモデルを定義する。
package model

import "time"

// User はマーケットプレイスの利用者を表す。
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile は利用者ごとに1件存在する公開プロフィールを表す。
// 所有者のみ更新できる。CreatedAtはユーザー作成時刻と一致する。
type Profile struct {
	ID         string    `json:"id"`
	FullName   string    `json:"full_name"`
	FirstName  string    `json:"first_name,omitempty"`
	LastName   string    `json:"last_name,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	University string    `json:"university,omitempty"`
	Location   string    `json:"location,omitempty"`
	AvatarURL  string    `json:"avatar_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// UserSummary は管理画面のユーザー一覧の1行を表す。
type UserSummary struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	ItemCount int       `json:"item_count"`
	CreatedAt time.Time `json:"created_at"`
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
