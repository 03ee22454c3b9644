package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/kuzamarket/internal/auth"
	"github.com/hitoshi/kuzamarket/internal/identity"
	"github.com/hitoshi/kuzamarket/internal/middleware"
	"github.com/hitoshi/kuzamarket/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignUp(ctx context.Context, in auth.SignUpInput) (*auth.Result, error)
	SignIn(ctx context.Context, email, password string) (*auth.Result, error)
	SignOut(ctx context.Context, id *identity.Identity) (*model.Notice, error)
}

// AuthHandler はサインアップ・サインイン・サインアウトのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	authz   identity.Authorizer
	cookie  middleware.SessionCookieConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, authz identity.Authorizer, cookie middleware.SessionCookieConfig) *AuthHandler {
	return &AuthHandler{service: service, authz: authz, cookie: cookie}
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User    *identity.Identity `json:"user"`
	IsAdmin bool               `json:"is_admin"`
	Notice  *model.Notice      `json:"notice,omitempty"`
}

func (h *AuthHandler) sessionBody(id *identity.Identity, notice *model.Notice) sessionResponse {
	if !id.SignedIn() {
		return sessionResponse{Notice: notice}
	}
	return sessionResponse{
		User:    id,
		IsAdmin: h.authz != nil && h.authz.Can(id, identity.CapAdminDashboard),
		Notice:  notice,
	}
}

// SignUp はアカウントを作成してサインインする。
// POST /api/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req auth.SignUpInput
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.service.SignUp(r.Context(), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	middleware.SetSessionCookie(w, res.Session.ID, h.cookie)
	writeJSON(w, http.StatusCreated, h.sessionBody(&res.Identity, res.Notice))
}

// SignIn はメールアドレスとパスワードでサインインする。
// POST /api/auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.service.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	middleware.SetSessionCookie(w, res.Session.ID, h.cookie)
	writeJSON(w, http.StatusOK, h.sessionBody(&res.Identity, res.Notice))
}

// SignOut はセッションを破棄する。サービスが失敗してもCookieは削除する。
// POST /api/auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	notice, err := h.service.SignOut(r.Context(), currentIdentity(r))
	middleware.ClearSessionCookie(w, h.cookie)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, noticeResponse{Notice: notice})
}

// Session は現在の識別情報を返す。未サインインならuserはnull。
// GET /api/auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessionBody(currentIdentity(r), nil))
}
