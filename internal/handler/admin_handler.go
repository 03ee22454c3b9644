package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/kuzamarket/internal/identity"
	"github.com/hitoshi/kuzamarket/internal/model"
)

// AdminServiceInterface は管理ハンドラーが必要とするサービスインターフェース。
type AdminServiceInterface interface {
	Authorize(id *identity.Identity) error
	Stats(ctx context.Context, id *identity.Identity) (*model.DashboardStats, error)
	Items(ctx context.Context, id *identity.Identity) ([]*model.Item, error)
	Users(ctx context.Context, id *identity.Identity) ([]model.UserSummary, error)
	DeleteItem(ctx context.Context, id *identity.Identity, itemID string) (*model.Notice, error)
}

// AdminHandler は管理ダッシュボードのHTTPハンドラー。
type AdminHandler struct {
	service AdminServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service AdminServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

// RequireAdmin は管理権限のないリクエストを拒否するミドルウェア。
func (h *AdminHandler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.service.Authorize(currentIdentity(r)); err != nil {
			handleServiceError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stats は出品数・利用者数・出品価格合計を返す。
// GET /api/admin/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context(), currentIdentity(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Items は全出品を返す。
// GET /api/admin/items
func (h *AdminHandler) Items(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.Items(r.Context(), currentIdentity(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(items))
}

// Users は全利用者を出品数付きで返す。
// GET /api/admin/users
func (h *AdminHandler) Users(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.Users(r.Context(), currentIdentity(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if users == nil {
		users = []model.UserSummary{}
	}
	writeJSON(w, http.StatusOK, map[string][]model.UserSummary{"users": users})
}

// DeleteItem は出品を強制削除する。
// DELETE /api/admin/items/{id}
func (h *AdminHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	notice, err := h.service.DeleteItem(r.Context(), currentIdentity(r), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, noticeResponse{Notice: notice})
}
