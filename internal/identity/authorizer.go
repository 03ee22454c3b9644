package identity

// Capability は権限チェックの対象となる操作を表す。
type Capability string

const (
	// CapAdminDashboard は管理ダッシュボードの閲覧。
	CapAdminDashboard Capability = "admin:dashboard"
	// CapModerateListings は他人の出品の削除。
	CapModerateListings Capability = "listings:moderate"
)

// Authorizer は識別情報が操作を許可されているかを判定する。
type Authorizer interface {
	Can(id *Identity, c Capability) bool
}

// AdminEmails は管理者として扱うメールアドレスの固定リスト。
var AdminEmails = []string{
	"admin@kuzamarket.com",
	"ngondimarklewis@gmail.com",
}

// IsAdmin は識別情報のメールアドレスが管理者リストに含まれるかを返す。
// nilやサインアウト状態の場合はfalse。比較は完全一致。
func IsAdmin(id *Identity) bool {
	if !id.SignedIn() {
		return false
	}
	for _, e := range AdminEmails {
		if id.Email == e {
			return true
		}
	}
	return false
}

// EmailAllowList はメールアドレスの許可リストに含まれる利用者に
// 指定の権限を与えるAuthorizer。
type EmailAllowList struct {
	emails map[string]struct{}
	caps   map[Capability]struct{}
}

// NewEmailAllowList はEmailAllowListを生成する。
func NewEmailAllowList(emails []string, caps ...Capability) *EmailAllowList {
	a := &EmailAllowList{
		emails: make(map[string]struct{}, len(emails)),
		caps:   make(map[Capability]struct{}, len(caps)),
	}
	for _, e := range emails {
		a.emails[e] = struct{}{}
	}
	for _, c := range caps {
		a.caps[c] = struct{}{}
	}
	return a
}

// DefaultAuthorizer は管理者リストに全ての管理権限を与えるAuthorizerを返す。
func DefaultAuthorizer() *EmailAllowList {
	return NewEmailAllowList(AdminEmails, CapAdminDashboard, CapModerateListings)
}

// Can はAuthorizerを実装する。
func (a *EmailAllowList) Can(id *Identity, c Capability) bool {
	if !id.SignedIn() {
		return false
	}
	if _, ok := a.caps[c]; !ok {
		return false
	}
	_, ok := a.emails[id.Email]
	return ok
}

var _ Authorizer = (*EmailAllowList)(nil)
