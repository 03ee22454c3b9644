package saved

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hitoshi/kuzamarket/internal/identity"
	"github.com/hitoshi/kuzamarket/internal/model"
)

// mockStore はテスト用のStore実装。関数フィールドで振る舞いを差し替える。
type mockStore struct {
	mu       sync.Mutex
	listFn   func(ctx context.Context, userID string) ([]model.SavedItem, error)
	addFn    func(ctx context.Context, userID, itemID string) error
	removeFn func(ctx context.Context, userID, itemID string) error
	calls    []string
}

func (m *mockStore) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

func (m *mockStore) ListSaved(ctx context.Context, userID string) ([]model.SavedItem, error) {
	m.record("list:" + userID)
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockStore) AddSaved(ctx context.Context, userID, itemID string) error {
	m.record("add:" + itemID)
	if m.addFn != nil {
		return m.addFn(ctx, userID, itemID)
	}
	return nil
}

func (m *mockStore) RemoveSaved(ctx context.Context, userID, itemID string) error {
	m.record("remove:" + itemID)
	if m.removeFn != nil {
		return m.removeFn(ctx, userID, itemID)
	}
	return nil
}

func (m *mockStore) callLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func rows(userID string, itemIDs ...string) []model.SavedItem {
	out := make([]model.SavedItem, 0, len(itemIDs))
	for _, id := range itemIDs {
		out = append(out, model.SavedItem{UserID: userID, ItemID: id, CreatedAt: time.Now()})
	}
	return out
}

func TestCache_Load_PopulatesSet(t *testing.T) {
	store := &mockStore{listFn: func(_ context.Context, userID string) ([]model.SavedItem, error) {
		return rows(userID, "a", "b"), nil
	}}
	c := NewCache(store, "u1", nil, nil)

	if c.State() != Unloaded {
		t.Fatalf("initial state = %v, want unloaded", c.State())
	}
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.State() != Ready {
		t.Errorf("state = %v, want ready", c.State())
	}
	if diff := cmp.Diff([]string{"a", "b"}, c.IDs()); diff != "" {
		t.Errorf("IDs mismatch (-want +got):\n%s", diff)
	}
	if !c.IsSaved("a") || c.IsSaved("z") {
		t.Error("IsSaved does not reflect loaded set")
	}
}

func TestCache_Load_FailureLeavesSetEmpty(t *testing.T) {
	store := &mockStore{listFn: func(context.Context, string) ([]model.SavedItem, error) {
		return nil, errors.New("timeout")
	}}
	c := NewCache(store, "u1", nil, nil)

	err := c.Load(context.Background())
	if model.KindOf(err) != model.KindRemoteFailure {
		t.Fatalf("KindOf(err) = %v, want remote failure", model.KindOf(err))
	}
	if c.State() != Unloaded || c.Len() != 0 {
		t.Errorf("state = %v len = %d, want unloaded and empty", c.State(), c.Len())
	}
	if got := len(store.callLog()); got != 1 {
		t.Errorf("store calls = %d, want 1 (no automatic retry)", got)
	}
}

func TestCache_Load_WithoutIdentityIsUnauthenticated(t *testing.T) {
	c := NewCache(&mockStore{}, "", nil, nil)
	if err := c.Load(context.Background()); model.KindOf(err) != model.KindUnauthenticated {
		t.Errorf("KindOf(err) = %v, want unauthenticated", model.KindOf(err))
	}
}

func TestCache_Load_DanglingReferencesDoNotCrash(t *testing.T) {
	store := &mockStore{listFn: func(_ context.Context, userID string) ([]model.SavedItem, error) {
		return rows(userID, "deleted-item-1", "deleted-item-2"), nil
	}}
	c := NewCache(store, "u1", nil, nil)

	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestCache_EnsureLoaded_LoadsOnce(t *testing.T) {
	store := &mockStore{}
	c := NewCache(store, "u1", nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := c.EnsureLoaded(ctx); err != nil {
			t.Fatalf("EnsureLoaded: %v", err)
		}
	}
	if got := len(store.callLog()); got != 1 {
		t.Errorf("store calls = %d, want 1", got)
	}
}

func TestCache_Toggle_SavesAndUnsaves(t *testing.T) {
	store := &mockStore{}
	c := NewCache(store, "u1", nil, nil)
	ctx := context.Background()

	saved, err := c.Toggle(ctx, "X")
	if err != nil || !saved {
		t.Fatalf("first Toggle = %v, %v; want true, nil", saved, err)
	}
	if !c.IsSaved("X") {
		t.Error("IsSaved(X) should be true after saving")
	}

	saved, err = c.Toggle(ctx, "X")
	if err != nil || saved {
		t.Fatalf("second Toggle = %v, %v; want false, nil", saved, err)
	}
	if c.IsSaved("X") {
		t.Error("IsSaved(X) should be false after unsaving")
	}
	if c.Len() != 0 {
		t.Errorf("set should be back to its initial empty state, Len() = %d", c.Len())
	}

	want := []string{"list:u1", "add:X", "remove:X"}
	if diff := cmp.Diff(want, store.callLog()); diff != "" {
		t.Errorf("store calls mismatch (-want +got):\n%s", diff)
	}
}

func TestCache_Toggle_WithoutIdentityDoesNotMutate(t *testing.T) {
	store := &mockStore{}
	c := NewCache(store, "", nil, nil)

	_, err := c.Toggle(context.Background(), "X")
	if model.KindOf(err) != model.KindUnauthenticated {
		t.Fatalf("KindOf(err) = %v, want unauthenticated", model.KindOf(err))
	}
	if c.IsSaved("X") {
		t.Error("set must not change without identity")
	}
	if len(store.callLog()) != 0 {
		t.Errorf("store should not be called, got %v", store.callLog())
	}
}

func TestCache_Toggle_IsOptimistic(t *testing.T) {
	inFlight := make(chan struct{})
	release := make(chan struct{})
	store := &mockStore{addFn: func(context.Context, string, string) error {
		close(inFlight)
		<-release
		return nil
	}}
	c := NewCache(store, "u1", nil, nil)
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.Toggle(context.Background(), "X")
		done <- err
	}()

	<-inFlight
	if !c.IsSaved("X") {
		t.Error("set should be updated before the store confirms")
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Toggle: %v", err)
	}
}

func TestCache_Toggle_RollsBackOnFailure(t *testing.T) {
	store := &mockStore{
		listFn: func(_ context.Context, userID string) ([]model.SavedItem, error) {
			return rows(userID, "kept"), nil
		},
		addFn:    func(context.Context, string, string) error { return errors.New("network down") },
		removeFn: func(context.Context, string, string) error { return errors.New("network down") },
	}
	c := NewCache(store, "u1", nil, nil)
	ctx := context.Background()

	saved, err := c.Toggle(ctx, "new")
	if model.KindOf(err) != model.KindRemoteFailure {
		t.Fatalf("KindOf(err) = %v, want remote failure", model.KindOf(err))
	}
	if saved || c.IsSaved("new") {
		t.Error("failed add must be rolled back")
	}

	saved, err = c.Toggle(ctx, "kept")
	if err == nil {
		t.Fatal("expected error from failed remove")
	}
	if !saved || !c.IsSaved("kept") {
		t.Error("failed remove must be rolled back")
	}
}

func TestCache_Toggle_NotFoundIsPassedThrough(t *testing.T) {
	store := &mockStore{addFn: func(_ context.Context, _, itemID string) error {
		return model.NewItemNotFoundError(itemID)
	}}
	c := NewCache(store, "u1", nil, nil)

	_, err := c.Toggle(context.Background(), "gone")
	if model.KindOf(err) != model.KindNotFound {
		t.Errorf("KindOf(err) = %v, want not found", model.KindOf(err))
	}
	if c.IsSaved("gone") {
		t.Error("failed add must be rolled back")
	}
}

func TestCache_Reset_ClearsUnconditionally(t *testing.T) {
	store := &mockStore{listFn: func(_ context.Context, userID string) ([]model.SavedItem, error) {
		return rows(userID, "a", "b", "c"), nil
	}}
	c := NewCache(store, "u1", nil, nil)
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	c.Reset()

	if c.Len() != 0 || c.State() != Unloaded || c.UserID() != "" {
		t.Errorf("after Reset: len=%d state=%v user=%q", c.Len(), c.State(), c.UserID())
	}
	if _, err := c.Toggle(context.Background(), "a"); model.KindOf(err) != model.KindUnauthenticated {
		t.Errorf("toggle after reset should be unauthenticated, got %v", err)
	}
}

func TestCache_Reset_DiscardsInFlightLoad(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	store := &mockStore{listFn: func(_ context.Context, userID string) ([]model.SavedItem, error) {
		close(started)
		<-release
		return rows(userID, "leaked"), nil
	}}
	c := NewCache(store, "u1", nil, nil)

	done := make(chan error, 1)
	go func() { done <- c.Load(context.Background()) }()
	<-started
	c.Reset()
	close(release)
	<-done

	if c.IsSaved("leaked") {
		t.Error("load finishing after sign-out must not repopulate the set")
	}
}

func TestCache_Load_CallerCancelDoesNotAbortSharedLoad(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	loadErr := make(chan error, 1)
	var once sync.Once
	store := &mockStore{listFn: func(ctx context.Context, userID string) ([]model.SavedItem, error) {
		once.Do(func() { close(started) })
		<-release
		select {
		case loadErr <- ctx.Err():
		default:
		}
		return rows(userID, "X"), nil
	}}
	c := NewCache(store, "u1", nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() { first <- c.Load(ctx) }()
	<-started

	second := make(chan error, 1)
	go func() { second <- c.Load(context.Background()) }()

	cancel()
	err := <-first
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller err = %v, want context.Canceled", err)
	}

	close(release)
	if err := <-second; err != nil {
		t.Fatalf("second caller err = %v", err)
	}
	if err := <-loadErr; err != nil {
		t.Errorf("store saw ctx.Err() = %v, want nil", err)
	}
	if c.State() != Ready || !c.IsSaved("X") {
		t.Errorf("state = %v, IsSaved = %v", c.State(), c.IsSaved("X"))
	}
}

func TestRegistry_SignOutClearsCache(t *testing.T) {
	store := &mockStore{listFn: func(_ context.Context, userID string) ([]model.SavedItem, error) {
		return rows(userID, "a"), nil
	}}
	reg := NewRegistry(store, nil, nil)
	bus := identity.NewBus()
	bus.Subscribe(reg.HandleEvent)

	id := &identity.Identity{UserID: "u1", Email: "u1@example.com", SessionID: "s1"}
	c := reg.For(id)
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reg.For(id) != c {
		t.Fatal("same session should reuse cache")
	}

	bus.Publish(identity.Event{Type: identity.SignedOut, Identity: *id})

	if c.Len() != 0 || c.IsSaved("a") {
		t.Error("sign-out must clear the local set")
	}
	if reg.Len() != 0 {
		t.Errorf("Len() = %d, want 0", reg.Len())
	}
}

func TestRegistry_NeverSharesAcrossIdentities(t *testing.T) {
	store := &mockStore{listFn: func(_ context.Context, userID string) ([]model.SavedItem, error) {
		return rows(userID, "owned-by-"+userID), nil
	}}
	reg := NewRegistry(store, nil, nil)

	first := reg.For(&identity.Identity{UserID: "u1", SessionID: "s1"})
	if err := first.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	// 同じセッションIDに別の利用者が現れた場合は作り直す
	second := reg.For(&identity.Identity{UserID: "u2", SessionID: "s1"})
	if second == first {
		t.Fatal("different user must not reuse cache")
	}
	if second.IsSaved("owned-by-u1") || first.IsSaved("owned-by-u1") {
		t.Error("memberships leaked across identities")
	}
}

func TestRegistry_AnonymousCacheIsNotRetained(t *testing.T) {
	reg := NewRegistry(&mockStore{}, nil, nil)
	c := reg.For(nil)
	if c.UserID() != "" {
		t.Error("anonymous cache should have no user")
	}
	if reg.Len() != 0 {
		t.Errorf("Len() = %d, want 0", reg.Len())
	}
}

func TestRegistry_DropUserAndPrune(t *testing.T) {
	reg := NewRegistry(&mockStore{}, nil, nil)
	reg.For(&identity.Identity{UserID: "u1", SessionID: "s1"})
	reg.For(&identity.Identity{UserID: "u1", SessionID: "s2"})
	reg.For(&identity.Identity{UserID: "u2", SessionID: "s3"})

	reg.HandleEvent(identity.Event{Type: identity.SignedOut, Identity: identity.Identity{UserID: "u1"}})
	if reg.Len() != 1 {
		t.Fatalf("Len() after DropUser = %d, want 1", reg.Len())
	}

	if n := reg.Prune(time.Now().Add(time.Hour), 30*time.Minute); n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}
	if reg.Len() != 0 {
		t.Errorf("Len() after Prune = %d, want 0", reg.Len())
	}
}

func TestRegistry_SignInEventIsIgnored(t *testing.T) {
	reg := NewRegistry(&mockStore{}, nil, nil)
	reg.For(&identity.Identity{UserID: "u1", SessionID: "s1"})
	reg.HandleEvent(identity.Event{Type: identity.SignedIn, Identity: identity.Identity{UserID: "u1", SessionID: "s1"}})
	if reg.Len() != 1 {
		t.Errorf("Len() = %d, want 1", reg.Len())
	}
}
