package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/kuzamarket/internal/auth"
	"github.com/hitoshi/kuzamarket/internal/identity"
	"github.com/hitoshi/kuzamarket/internal/item"
	"github.com/hitoshi/kuzamarket/internal/middleware"
	"github.com/hitoshi/kuzamarket/internal/model"
	"github.com/hitoshi/kuzamarket/internal/search"
	"github.com/hitoshi/kuzamarket/internal/user"
)

// --- モック定義 ---

type mockAuthService struct {
	signUpFn  func(ctx context.Context, in auth.SignUpInput) (*auth.Result, error)
	signInFn  func(ctx context.Context, email, password string) (*auth.Result, error)
	signOutFn func(ctx context.Context, id *identity.Identity) (*model.Notice, error)
}

func (m *mockAuthService) SignUp(ctx context.Context, in auth.SignUpInput) (*auth.Result, error) {
	return m.signUpFn(ctx, in)
}

func (m *mockAuthService) SignIn(ctx context.Context, email, password string) (*auth.Result, error) {
	return m.signInFn(ctx, email, password)
}

func (m *mockAuthService) SignOut(ctx context.Context, id *identity.Identity) (*model.Notice, error) {
	return m.signOutFn(ctx, id)
}

type mockSearchService struct {
	executeFn func(ctx context.Context, req search.Request) (*search.Outcome, error)
}

func (m *mockSearchService) Execute(ctx context.Context, req search.Request) (*search.Outcome, error) {
	return m.executeFn(ctx, req)
}

type mockRecommendService struct {
	trending []string
	items    []*model.Item
	err      error
	limit    int
	viewer   *identity.Identity
}

func (m *mockRecommendService) Trending(context.Context) []string { return m.trending }

func (m *mockRecommendService) Recommendations(_ context.Context, id *identity.Identity, limit int) ([]*model.Item, error) {
	m.viewer, m.limit = id, limit
	return m.items, m.err
}

type mockItemService struct {
	createFn     func(ctx context.Context, id *identity.Identity, in item.CreateInput) (*model.Item, *model.Notice, error)
	deleteFn     func(ctx context.Context, id *identity.Identity, itemID string) (*model.Notice, error)
	detailFn     func(ctx context.Context, viewer *identity.Identity, itemID string, saved item.SavedChecker) (*item.Detail, error)
	latestFn     func(ctx context.Context, limit int) ([]*model.Item, error)
	byCategoryFn func(ctx context.Context, category, sortBy, location string) ([]*model.Item, error)
	listMineFn   func(ctx context.Context, id *identity.Identity) ([]*model.Item, error)
}

func (m *mockItemService) Create(ctx context.Context, id *identity.Identity, in item.CreateInput) (*model.Item, *model.Notice, error) {
	return m.createFn(ctx, id, in)
}

func (m *mockItemService) Delete(ctx context.Context, id *identity.Identity, itemID string) (*model.Notice, error) {
	return m.deleteFn(ctx, id, itemID)
}

func (m *mockItemService) Detail(ctx context.Context, viewer *identity.Identity, itemID string, saved item.SavedChecker) (*item.Detail, error) {
	return m.detailFn(ctx, viewer, itemID, saved)
}

func (m *mockItemService) Latest(ctx context.Context, limit int) ([]*model.Item, error) {
	return m.latestFn(ctx, limit)
}

func (m *mockItemService) ByCategory(ctx context.Context, category, sortBy, location string) ([]*model.Item, error) {
	return m.byCategoryFn(ctx, category, sortBy, location)
}

func (m *mockItemService) ListMine(ctx context.Context, id *identity.Identity) ([]*model.Item, error) {
	return m.listMineFn(ctx, id)
}

type mockProfileService struct {
	getFn    func(ctx context.Context, id *identity.Identity) (*model.Profile, error)
	updateFn func(ctx context.Context, id *identity.Identity, in user.UpdateInput) (*model.Profile, *model.Notice, error)
	publicFn func(ctx context.Context, userID string) (*user.PublicProfile, error)
}

func (m *mockProfileService) Get(ctx context.Context, id *identity.Identity) (*model.Profile, error) {
	return m.getFn(ctx, id)
}

func (m *mockProfileService) Update(ctx context.Context, id *identity.Identity, in user.UpdateInput) (*model.Profile, *model.Notice, error) {
	return m.updateFn(ctx, id, in)
}

func (m *mockProfileService) Public(ctx context.Context, userID string) (*user.PublicProfile, error) {
	return m.publicFn(ctx, userID)
}

// mockSavedStore は保存済み集合のリモートストアのメモリ実装。
type mockSavedStore struct {
	mu      sync.Mutex
	rows    map[string]map[string]bool
	addErr  error
	listErr error
	entries []model.SavedEntry
}

func newMockSavedStore() *mockSavedStore {
	return &mockSavedStore{rows: make(map[string]map[string]bool)}
}

func (m *mockSavedStore) ListSaved(_ context.Context, userID string) ([]model.SavedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []model.SavedItem
	for id := range m.rows[userID] {
		out = append(out, model.SavedItem{UserID: userID, ItemID: id})
	}
	return out, nil
}

func (m *mockSavedStore) AddSaved(_ context.Context, userID, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	if m.rows[userID] == nil {
		m.rows[userID] = make(map[string]bool)
	}
	m.rows[userID][itemID] = true
	return nil
}

func (m *mockSavedStore) RemoveSaved(_ context.Context, userID, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows[userID], itemID)
	return nil
}

func (m *mockSavedStore) SavedEntries(_ context.Context, id *identity.Identity) ([]model.SavedEntry, error) {
	if !id.SignedIn() {
		return nil, model.NewAuthRequiredError("view saved items")
	}
	return m.entries, nil
}

// --- テストヘルパー ---

var (
	buyer = &identity.Identity{UserID: "buyer-1", Email: "buyer@campus.ac.ke", SessionID: "sess-buyer"}
	admin = &identity.Identity{UserID: "admin-1", Email: "admin@kuzamarket.com", SessionID: "sess-admin"}
)

// withIdentity はリクエストコンテキストに識別情報を注入する。
func withIdentity(r *http.Request, id *identity.Identity) *http.Request {
	return r.WithContext(middleware.ContextWithIdentity(r.Context(), id))
}

// withChiURLParam はchiのURLパラメータを注入する。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v\nbody: %s", err, w.Body.String())
	}
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[middleware.ErrorResponseBody](t, w).Code
}
