package handler

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/kuzamarket/internal/identity"
	"github.com/hitoshi/kuzamarket/internal/item"
	"github.com/hitoshi/kuzamarket/internal/model"
)

// ItemServiceInterface は出品ハンドラーが必要とするサービスインターフェース。
type ItemServiceInterface interface {
	Create(ctx context.Context, id *identity.Identity, in item.CreateInput) (*model.Item, *model.Notice, error)
	Delete(ctx context.Context, id *identity.Identity, itemID string) (*model.Notice, error)
	Detail(ctx context.Context, viewer *identity.Identity, itemID string, saved item.SavedChecker) (*item.Detail, error)
	Latest(ctx context.Context, limit int) ([]*model.Item, error)
	ByCategory(ctx context.Context, category, sortBy, location string) ([]*model.Item, error)
	ListMine(ctx context.Context, id *identity.Identity) ([]*model.Item, error)
}

// ItemHandler は出品のHTTPハンドラー。
type ItemHandler struct {
	service   ItemServiceInterface
	saved     item.SavedChecker
	maxUpload int64
}

// multipartOverhead は画像以外のフォーム項目に許す容量。
const multipartOverhead = 1 << 20

// NewItemHandler はItemHandlerを生成する。maxImageSizeは画像1枚の上限バイト数。
func NewItemHandler(service ItemServiceInterface, saved item.SavedChecker, maxImageSize int64) *ItemHandler {
	if maxImageSize <= 0 {
		maxImageSize = item.DefaultMaxImageSize
	}
	return &ItemHandler{service: service, saved: saved, maxUpload: maxImageSize + multipartOverhead}
}

type itemResponse struct {
	Item   *model.Item   `json:"item"`
	Notice *model.Notice `json:"notice,omitempty"`
}

type itemsResponse struct {
	Items []*model.Item `json:"items"`
}

func listOf(items []*model.Item) itemsResponse {
	if items == nil {
		items = []*model.Item{}
	}
	return itemsResponse{Items: items}
}

// Latest は新着の出品を返す。
// GET /api/items/latest?limit=
func (h *ItemHandler) Latest(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.service.Latest(r.Context(), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(items))
}

// ByCategory はカテゴリの出品を返す。
// GET /api/categories/{category}/items?sort=&location=
func (h *ItemHandler) ByCategory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.service.ByCategory(r.Context(), chi.URLParam(r, "category"), q.Get("sort"), q.Get("location"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(items))
}

// Detail は出品詳細を返す。
// GET /api/items/{id}
func (h *ItemHandler) Detail(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Detail(r.Context(), currentIdentity(r), chi.URLParam(r, "id"), h.saved)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Create は出品を作成する。multipart/form-data（imageファイル可）とJSONの両方を受け付ける。
// POST /api/items
func (h *ItemHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in item.CreateInput
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
		if err := r.ParseMultipartForm(multipartOverhead); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				handleServiceError(w, model.NewValidationError("image", "the upload is too large"))
				return
			}
			handleServiceError(w, model.NewValidationError("form", "the form could not be read"))
			return
		}
		defer r.MultipartForm.RemoveAll()

		parsed, err := createInputFromForm(r)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		in = parsed
		if file, _, err := r.FormFile("image"); err == nil {
			defer file.Close()
			in.Image = &item.ImageUpload{Body: file}
		}
	} else if !decodeJSON(w, r, &in) {
		return
	}

	created, notice, err := h.service.Create(r.Context(), currentIdentity(r), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	w.Header().Set("Location", "/api/items/"+created.ID)
	writeJSON(w, http.StatusCreated, itemResponse{Item: created, Notice: notice})
}

func createInputFromForm(r *http.Request) (item.CreateInput, error) {
	in := item.CreateInput{
		Title:          r.FormValue("title"),
		Category:       r.FormValue("category"),
		Description:    r.FormValue("description"),
		Location:       r.FormValue("location"),
		ContactEmail:   r.FormValue("contact_email"),
		ContactPhone:   r.FormValue("contact_phone"),
		ImageSourceURL: r.FormValue("image_source_url"),
	}
	if raw := strings.TrimSpace(r.FormValue("price")); raw != "" {
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return in, model.NewValidationError("price", "must be a number")
		}
		in.Price = &price
	}
	return in, nil
}

// Delete は出品を削除する。所有者または出品の管理権限を持つ利用者が実行できる。
// DELETE /api/items/{id}
func (h *ItemHandler) Delete(w http.ResponseWriter, r *http.Request) {
	notice, err := h.service.Delete(r.Context(), currentIdentity(r), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, noticeResponse{Notice: notice})
}

// ListMine はサインイン中の利用者の出品を返す。
// GET /api/me/items
func (h *ItemHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListMine(r.Context(), currentIdentity(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(items))
}
