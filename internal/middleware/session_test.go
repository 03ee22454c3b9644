package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/kuzamarket/internal/identity"
)

type mockResolver struct {
	resolveFn func(ctx context.Context, sessionID string) (*identity.Identity, error)
	calls     int
}

func (m *mockResolver) Resolve(ctx context.Context, sessionID string) (*identity.Identity, error) {
	m.calls++
	return m.resolveFn(ctx, sessionID)
}

func validResolver() *mockResolver {
	return &mockResolver{resolveFn: func(_ context.Context, sid string) (*identity.Identity, error) {
		if sid == "valid-session" {
			return &identity.Identity{UserID: "user-1", Email: "jane@campus.ac.ke", SessionID: sid}, nil
		}
		return nil, nil
	}}
}

// captureIdentity はコンテキストの識別情報を記録するハンドラーを返す。
func captureIdentity(got **identity.Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestIdentityMiddleware_ValidSession_InjectsIdentity(t *testing.T) {
	var got *identity.Identity
	handler := NewIdentityMiddleware(validResolver())(captureIdentity(&got))

	req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got == nil || got.UserID != "user-1" || got.SessionID != "valid-session" {
		t.Errorf("identity = %+v", got)
	}
}

func TestIdentityMiddleware_AnonymousRequestsPassThrough(t *testing.T) {
	tests := []struct {
		name     string
		cookie   *http.Cookie
		resolver *mockResolver
	}{
		{"no cookie", nil, validResolver()},
		{"empty cookie", &http.Cookie{Name: SessionCookieName, Value: ""}, validResolver()},
		{"expired session", &http.Cookie{Name: SessionCookieName, Value: "stale"}, validResolver()},
		{"store error", &http.Cookie{Name: SessionCookieName, Value: "valid-session"}, &mockResolver{
			resolveFn: func(context.Context, string) (*identity.Identity, error) { return nil, errors.New("db down") },
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := &identity.Identity{UserID: "sentinel"}
			handler := NewIdentityMiddleware(tt.resolver)(captureIdentity(&got))

			req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
			}
			if got != nil {
				t.Errorf("identity = %+v, want nil", got)
			}
		})
	}
}

func TestIdentityMiddleware_SkipsResolverWithoutCookie(t *testing.T) {
	resolver := validResolver()
	handler := NewIdentityMiddleware(resolver)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if resolver.calls != 0 {
		t.Errorf("resolver calls = %d, want 0", resolver.calls)
	}
}

func TestRequireIdentity(t *testing.T) {
	called := false
	handler := RequireIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/saved/i1", nil))
	if w.Code != http.StatusUnauthorized || called {
		t.Fatalf("status = %d called = %v, want 401 and not called", w.Code, called)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != "AUTH_REQUIRED" {
		t.Errorf("code = %q", body.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/saved/i1", nil)
	req = req.WithContext(ContextWithIdentity(req.Context(), &identity.Identity{UserID: "user-1"}))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if !called {
		t.Error("signed-in request should reach the handler")
	}
}

func TestUserIDFromContext(t *testing.T) {
	if got := UserIDFromContext(context.Background()); got != "" {
		t.Errorf("empty context = %q", got)
	}
	ctx := ContextWithIdentity(context.Background(), &identity.Identity{UserID: "user-9"})
	if got := UserIDFromContext(ctx); got != "user-9" {
		t.Errorf("UserIDFromContext = %q", got)
	}
}

func TestSessionCookieHelpers(t *testing.T) {
	cfg := SessionCookieConfig{MaxAge: 24 * time.Hour, Secure: true, Domain: "kuzamarket.com"}

	w := httptest.NewRecorder()
	SetSessionCookie(w, "sid-1", cfg)
	c := w.Result().Cookies()[0]
	if c.Name != SessionCookieName || c.Value != "sid-1" || c.MaxAge != 86400 || !c.HttpOnly || !c.Secure {
		t.Errorf("set cookie = %+v", c)
	}

	w = httptest.NewRecorder()
	ClearSessionCookie(w, cfg)
	c = w.Result().Cookies()[0]
	if c.Value != "" || c.MaxAge >= 0 {
		t.Errorf("clear cookie = %+v", c)
	}
}
