package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/kuzamarket/internal/identity"
	"github.com/hitoshi/kuzamarket/internal/model"
	"github.com/hitoshi/kuzamarket/internal/user"
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	Get(ctx context.Context, id *identity.Identity) (*model.Profile, error)
	Update(ctx context.Context, id *identity.Identity, in user.UpdateInput) (*model.Profile, *model.Notice, error)
	Public(ctx context.Context, userID string) (*user.PublicProfile, error)
}

// ProfileHandler はプロフィールのHTTPハンドラー。
type ProfileHandler struct {
	service ProfileServiceInterface
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{service: service}
}

type profileResponse struct {
	Profile *model.Profile `json:"profile"`
	Notice  *model.Notice  `json:"notice,omitempty"`
}

// Get は自分のプロフィールを返す。
// GET /api/me/profile
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Get(r.Context(), currentIdentity(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{Profile: p})
}

// Update は自分のプロフィールを更新する。省略した項目は変更しない。
// PUT /api/me/profile
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req user.UpdateInput
	if !decodeJSON(w, r, &req) {
		return
	}
	p, notice, err := h.service.Update(r.Context(), currentIdentity(r), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{Profile: p, Notice: notice})
}

// Public は出品者の公開プロフィールを返す。
// GET /api/profiles/{id}
func (h *ProfileHandler) Public(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Public(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
