// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/kuzamarket/internal/identity"
	"github.com/hitoshi/kuzamarket/internal/model"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	identityContextKey = contextKey("identity")
	clientIDContextKey = contextKey("client_id")
)

// IdentityResolver はセッションIDから識別情報を解決する。
// 無効なセッションにはnil, nilを返す。
type IdentityResolver interface {
	Resolve(ctx context.Context, sessionID string) (*identity.Identity, error)
}

// SessionCookieConfig はセッションCookieの属性。
type SessionCookieConfig struct {
	MaxAge time.Duration
	Secure bool
	Domain string
}

// NewIdentityMiddleware はCookieのセッションから識別情報を解決し、
// リクエストコンテキストに注入するミドルウェアを返す。
// 未認証のリクエストもそのまま通す。認証を要求するルートはRequireIdentityを重ねる。
func NewIdentityMiddleware(resolver IdentityResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			id, err := resolver.Resolve(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to resolve session",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if !id.SignedIn() {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
		})
	}
}

// RequireIdentity はサインインしていないリクエストに401を返す。
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IdentityFromContext(r.Context()).SignedIn() {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError("continue"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IdentityFromContext はリクエストコンテキストの識別情報を返す。未認証ならnil。
func IdentityFromContext(ctx context.Context) *identity.Identity {
	id, _ := ctx.Value(identityContextKey).(*identity.Identity)
	return id
}

// ContextWithIdentity はコンテキストに識別情報を注入する。
func ContextWithIdentity(ctx context.Context, id *identity.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// UserIDFromContext はサインイン中の利用者のIDを返す。未認証なら空文字。
func UserIDFromContext(ctx context.Context) string {
	if id := IdentityFromContext(ctx); id.SignedIn() {
		return id.UserID
	}
	return ""
}

// SetSessionCookie はセッションCookieを設定する。
func SetSessionCookie(w http.ResponseWriter, sessionID string, cfg SessionCookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   int(cfg.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie はセッションCookieを削除する。
func ClearSessionCookie(w http.ResponseWriter, cfg SessionCookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
