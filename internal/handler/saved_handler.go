package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/kuzamarket/internal/identity"
	"github.com/hitoshi/kuzamarket/internal/model"
	"github.com/hitoshi/kuzamarket/internal/saved"
)

// SavedCaches はセッションごとの保存済み集合を返す。
type SavedCaches interface {
	For(id *identity.Identity) *saved.Cache
}

// SavedEntryLister は保存済みの出品を詳細付きで返す。
type SavedEntryLister interface {
	SavedEntries(ctx context.Context, id *identity.Identity) ([]model.SavedEntry, error)
}

// SavedHandler は保存済み出品のHTTPハンドラー。
type SavedHandler struct {
	caches  SavedCaches
	entries SavedEntryLister
}

// NewSavedHandler はSavedHandlerを生成する。
func NewSavedHandler(caches SavedCaches, entries SavedEntryLister) *SavedHandler {
	return &SavedHandler{caches: caches, entries: entries}
}

type toggleResponse struct {
	ItemID string        `json:"item_id"`
	Saved  bool          `json:"saved"`
	Notice *model.Notice `json:"notice"`
}

// savedEntryResponse は保存済み一覧の1行。出品が削除済みならmissingがtrueになる。
type savedEntryResponse struct {
	model.SavedEntry
	Missing bool `json:"missing"`
}

// Toggle は出品の保存状態を反転する。
// POST /api/items/{id}/save
func (h *SavedHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	nowSaved, err := h.caches.For(currentIdentity(r)).Toggle(r.Context(), itemID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	notice := model.NewNotice("Item Removed", "Item removed from your saved items")
	if nowSaved {
		notice = model.NewNotice("Item Saved", "Item added to your saved items")
	}
	writeJSON(w, http.StatusOK, toggleResponse{ItemID: itemID, Saved: nowSaved, Notice: notice})
}

// IDs は保存済み出品のIDを返す。
// GET /api/me/saved/ids
func (h *SavedHandler) IDs(w http.ResponseWriter, r *http.Request) {
	id := currentIdentity(r)
	if !id.SignedIn() {
		handleServiceError(w, model.NewAuthRequiredError("view saved items"))
		return
	}
	cache := h.caches.For(id)
	if err := cache.EnsureLoaded(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"ids": cache.IDs()})
}

// List は保存済みの出品を詳細付きで返す。
// GET /api/me/saved
func (h *SavedHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.entries.SavedEntries(r.Context(), currentIdentity(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	out := make([]savedEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = savedEntryResponse{SavedEntry: e, Missing: e.Missing()}
	}
	writeJSON(w, http.StatusOK, map[string][]savedEntryResponse{"items": out})
}
