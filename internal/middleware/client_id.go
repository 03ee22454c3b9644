package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const (
	// ClientIDCookieName はブラウザ単位の識別子を保持するCookieの名前。
	// 検索の実行状態はこの識別子ごとに保持する。
	ClientIDCookieName = "kuza_client"

	clientIDMaxAge = 365 * 24 * 60 * 60
)

// NewClientIDMiddleware はブラウザ識別子Cookieを読み取り、なければ発行して
// リクエストコンテキストに注入するミドルウェアを返す。
func NewClientIDMiddleware(secure bool, domain string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := ""
			if c, err := r.Cookie(ClientIDCookieName); err == nil {
				if _, perr := uuid.Parse(c.Value); perr == nil {
					clientID = c.Value
				}
			}
			if clientID == "" {
				clientID = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     ClientIDCookieName,
					Value:    clientID,
					Path:     "/",
					Domain:   domain,
					MaxAge:   clientIDMaxAge,
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientIDContextKey, clientID)))
		})
	}
}

// ClientIDFromContext はブラウザ識別子を返す。ミドルウェアを通っていなければ空文字。
func ClientIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(clientIDContextKey).(string)
	return id
}

// ContextWithClientID はコンテキストにブラウザ識別子を注入する。
func ContextWithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDContextKey, clientID)
}
