package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/kuzamarket/internal/auth"
	"github.com/hitoshi/kuzamarket/internal/identity"
	"github.com/hitoshi/kuzamarket/internal/middleware"
	"github.com/hitoshi/kuzamarket/internal/model"
)

var testCookie = middleware.SessionCookieConfig{MaxAge: time.Hour}

func signedInResult(id *identity.Identity, title string) *auth.Result {
	return &auth.Result{
		Identity: *id,
		Session:  &model.Session{ID: id.SessionID, UserID: id.UserID},
		Notice:   model.NewNotice(title, ""),
	}
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func TestAuthHandler_SignUp(t *testing.T) {
	svc := &mockAuthService{signUpFn: func(_ context.Context, in auth.SignUpInput) (*auth.Result, error) {
		if in.Email != "new@campus.ac.ke" || in.ConfirmPassword != "secret1" || in.FirstName != "Jane" {
			t.Errorf("input = %+v", in)
		}
		return signedInResult(&identity.Identity{UserID: "u-new", Email: in.Email, SessionID: "s-new"}, "Account Created"), nil
	}}
	h := NewAuthHandler(svc, identity.DefaultAuthorizer(), testCookie)

	body := `{"email":"new@campus.ac.ke","password":"secret1","confirm_password":"secret1","first_name":"Jane","last_name":"Doe"}`
	w := httptest.NewRecorder()
	h.SignUp(w, httptest.NewRequest(http.MethodPost, "/api/auth/signup", strings.NewReader(body)))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if c := sessionCookie(t, w); c.Value != "s-new" || !c.HttpOnly || c.MaxAge != 3600 {
		t.Errorf("cookie = %+v", c)
	}
	resp := decodeBody[sessionResponse](t, w)
	if resp.User == nil || resp.User.UserID != "u-new" || resp.IsAdmin || resp.Notice.Title != "Account Created" {
		t.Errorf("response = %+v", resp)
	}
}

func TestAuthHandler_SignUp_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
		code string
	}{
		{"broken json", `{`, nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"mismatch", `{}`, model.NewPasswordMismatchError(), http.StatusBadRequest, model.ErrCodePasswordMismatch},
		{"email taken", `{}`, model.NewEmailTakenError(), http.StatusBadRequest, model.ErrCodeEmailTaken},
		{"store down", `{}`, model.NewRemoteFailureError("create account", errors.New("db")), http.StatusBadGateway, model.ErrCodeRemoteFailure},
		{"unexpected", `{}`, errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{signUpFn: func(context.Context, auth.SignUpInput) (*auth.Result, error) { return nil, tt.err }}
			w := httptest.NewRecorder()
			NewAuthHandler(svc, nil, testCookie).SignUp(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body)))

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if got := errorCode(t, w); got != tt.code {
				t.Errorf("code = %q, want %q", got, tt.code)
			}
			if len(w.Result().Cookies()) != 0 {
				t.Error("no cookie should be set on failure")
			}
		})
	}
}

func TestAuthHandler_SignIn_AdminFlag(t *testing.T) {
	svc := &mockAuthService{signInFn: func(_ context.Context, email, password string) (*auth.Result, error) {
		if email != admin.Email || password != "pw" {
			return nil, model.NewInvalidCredentialsError()
		}
		return signedInResult(admin, "Login Successful"), nil
	}}
	h := NewAuthHandler(svc, identity.DefaultAuthorizer(), testCookie)

	w := httptest.NewRecorder()
	h.SignIn(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"admin@kuzamarket.com","password":"pw"}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp := decodeBody[sessionResponse](t, w); !resp.IsAdmin {
		t.Errorf("response = %+v", resp)
	}

	w = httptest.NewRecorder()
	h.SignIn(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"admin@kuzamarket.com","password":"nope"}`)))
	if w.Code != http.StatusUnauthorized || errorCode(t, w) != model.ErrCodeInvalidCredentials {
		t.Errorf("status = %d", w.Code)
	}
}

func TestAuthHandler_SignOut_ClearsCookieEvenOnFailure(t *testing.T) {
	for name, err := range map[string]error{
		"ok":     nil,
		"failed": model.NewRemoteFailureError("log you out", errors.New("db")),
	} {
		t.Run(name, func(t *testing.T) {
			var got *identity.Identity
			svc := &mockAuthService{signOutFn: func(_ context.Context, id *identity.Identity) (*model.Notice, error) {
				got = id
				if err != nil {
					return nil, err
				}
				return model.NewNotice("Logged Out", "You have been successfully logged out."), nil
			}}
			w := httptest.NewRecorder()
			NewAuthHandler(svc, nil, testCookie).SignOut(w, withIdentity(httptest.NewRequest(http.MethodPost, "/", nil), buyer))

			if got != buyer {
				t.Errorf("identity = %+v", got)
			}
			if c := sessionCookie(t, w); c.MaxAge >= 0 {
				t.Errorf("cookie not cleared: %+v", c)
			}
			if (err == nil) != (w.Code == http.StatusOK) {
				t.Errorf("status = %d", w.Code)
			}
		})
	}
}

func TestAuthHandler_Session(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, identity.DefaultAuthorizer(), testCookie)

	w := httptest.NewRecorder()
	h.Session(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if resp := decodeBody[sessionResponse](t, w); resp.User != nil || resp.IsAdmin {
		t.Errorf("anonymous = %+v", resp)
	}

	w = httptest.NewRecorder()
	h.Session(w, withIdentity(httptest.NewRequest(http.MethodGet, "/", nil), admin))
	if resp := decodeBody[sessionResponse](t, w); resp.User == nil || resp.User.Email != admin.Email || !resp.IsAdmin {
		t.Errorf("admin = %+v", resp)
	}
}
