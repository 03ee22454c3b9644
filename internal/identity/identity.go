// Package identity はサインイン中の利用者の識別情報と、
// その状態遷移の通知、管理者権限の判定を提供する。
package identity

// Identity は認証済みの利用者とそのセッションを表す。
type Identity struct {
	UserID    string `json:"id"`
	Email     string `json:"email"`
	SessionID string `json:"-"`
}

// SignedIn は有効な識別情報かを返す。nilでも呼び出せる。
func (i *Identity) SignedIn() bool {
	return i != nil && i.UserID != ""
}

// EventType は識別情報の状態遷移の種別。
type EventType int

const (
	// SignedIn はサインアウト状態からサインイン状態への遷移。
	SignedIn EventType = iota + 1
	// SignedOut はサインイン状態からサインアウト状態への遷移。
	SignedOut
)

func (t EventType) String() string {
	switch t {
	case SignedIn:
		return "signed_in"
	case SignedOut:
		return "signed_out"
	}
	return "unknown"
}

// Event は識別情報の状態遷移を表す。
type Event struct {
	Type     EventType
	Identity Identity
}
