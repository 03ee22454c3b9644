package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/hitoshi/kuzamarket/internal/config"
	"github.com/hitoshi/kuzamarket/internal/identity"
	"github.com/hitoshi/kuzamarket/internal/middleware"
	"github.com/hitoshi/kuzamarket/internal/model"
	"github.com/hitoshi/kuzamarket/internal/search"
)

// SearchServiceInterface は検索ハンドラーが必要とするサービスインターフェース。
type SearchServiceInterface interface {
	Execute(ctx context.Context, req search.Request) (*search.Outcome, error)
}

// RecommendServiceInterface は注目の検索語とおすすめを返す。
type RecommendServiceInterface interface {
	Trending(ctx context.Context) []string
	Recommendations(ctx context.Context, id *identity.Identity, limit int) ([]*model.Item, error)
}

// SearchHandler は検索・注目の検索語・おすすめ・カタログのHTTPハンドラー。
type SearchHandler struct {
	search    SearchServiceInterface
	recommend RecommendServiceInterface
	catalog   *config.Catalog
}

// NewSearchHandler はSearchHandlerを生成する。
func NewSearchHandler(s SearchServiceInterface, rec RecommendServiceInterface, catalog *config.Catalog) *SearchHandler {
	return &SearchHandler{search: s, recommend: rec, catalog: catalog}
}

// searchResponse は検索結果。paramsはクライアントがURLに反映するクエリ文字列。
// staleがtrueの場合、より新しい検索が発行済みのためitemsは返さない。
type searchResponse struct {
	Params    string        `json:"params"`
	Performed bool          `json:"performed"`
	Stale     bool          `json:"stale"`
	Seq       uint64        `json:"seq,omitempty"`
	Items     []*model.Item `json:"items"`
}

// Search は検索条件を実行する。submit=1は検索フォームからの明示的な送信を表す。
// GET /api/search?q=&category=&location=&price_min=&price_max=&sort=&submit=
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	explicit, _ := strconv.ParseBool(values.Get("submit"))

	out, err := h.search.Execute(r.Context(), search.Request{
		ClientID: middleware.ClientIDFromContext(r.Context()),
		UserID:   middleware.UserIDFromContext(r.Context()),
		Query:    search.ParseValues(values),
		Explicit: explicit,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := searchResponse{
		Params:    out.Params,
		Performed: out.Performed,
		Stale:     out.Stale,
		Seq:       out.Seq,
		Items:     out.Items,
	}
	if resp.Items == nil && !resp.Stale {
		resp.Items = []*model.Item{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Trending は直近に多く検索された語を返す。
// GET /api/search/trending
func (h *SearchHandler) Trending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"terms": h.recommend.Trending(r.Context())})
}

// Recommendations はおすすめの出品を返す。
// GET /api/recommendations?limit=
func (h *SearchHandler) Recommendations(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.recommend.Recommendations(r.Context(), currentIdentity(r), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]*model.Item{"items": items})
}

// Catalog はカテゴリ・場所・受け渡し場所のマスタを返す。
// GET /api/catalog
func (h *SearchHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, h.catalog)
}
