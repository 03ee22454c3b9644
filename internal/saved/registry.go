package saved

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/kuzamarket/internal/identity"
	"github.com/hitoshi/kuzamarket/internal/metrics"
)

// Registry はセッションごとのCacheを管理する。
// サインアウトのイベントを受けると該当セッションのCacheを破棄する。
type Registry struct {
	store   Store
	metrics metrics.MetricsCollector
	logger  *slog.Logger

	mu     sync.Mutex
	caches map[string]*entry
}

type entry struct {
	cache    *Cache
	lastUsed time.Time
}

// NewRegistry はRegistryを生成する。
func NewRegistry(store Store, mc metrics.MetricsCollector, logger *slog.Logger) *Registry {
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:   store,
		metrics: mc,
		logger:  logger,
		caches:  make(map[string]*entry),
	}
}

// For は識別情報に対応するCacheを返す。
// 未サインインの場合は保持しない空のCacheを返す。
// セッションの所有者が変わっていた場合は古いCacheを破棄して作り直す。
func (r *Registry) For(id *identity.Identity) *Cache {
	if !id.SignedIn() || id.SessionID == "" {
		return NewCache(r.store, "", r.metrics, r.logger)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.caches[id.SessionID]; ok {
		if e.cache.UserID() == id.UserID {
			e.lastUsed = time.Now()
			return e.cache
		}
		e.cache.Reset()
	}
	c := NewCache(r.store, id.UserID, r.metrics, r.logger)
	r.caches[id.SessionID] = &entry{cache: c, lastUsed: time.Now()}
	return c
}

// Drop はセッションのCacheを空にして破棄する。
func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	e, ok := r.caches[sessionID]
	delete(r.caches, sessionID)
	r.mu.Unlock()
	if ok {
		e.cache.Reset()
	}
}

// DropUser は利用者の全セッションのCacheを破棄する。
func (r *Registry) DropUser(userID string) {
	r.mu.Lock()
	var dropped []*Cache
	for sid, e := range r.caches {
		if e.cache.UserID() == userID {
			dropped = append(dropped, e.cache)
			delete(r.caches, sid)
		}
	}
	r.mu.Unlock()
	for _, c := range dropped {
		c.Reset()
	}
}

// Len は保持しているCache数を返す。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.caches)
}

// Prune はmaxIdle以上使われていないCacheを破棄し、破棄した件数を返す。
// 期限切れセッションのCacheが残り続けないよう定期的に呼ぶ。
func (r *Registry) Prune(now time.Time, maxIdle time.Duration) int {
	r.mu.Lock()
	var dropped []*Cache
	for sid, e := range r.caches {
		if now.Sub(e.lastUsed) > maxIdle {
			dropped = append(dropped, e.cache)
			delete(r.caches, sid)
		}
	}
	r.mu.Unlock()
	for _, c := range dropped {
		c.Reset()
	}
	return len(dropped)
}

// HandleEvent は識別情報の状態遷移を処理する。identity.Busに購読させる。
func (r *Registry) HandleEvent(ev identity.Event) {
	if ev.Type != identity.SignedOut {
		return
	}
	if ev.Identity.SessionID != "" {
		r.Drop(ev.Identity.SessionID)
		return
	}
	if ev.Identity.UserID != "" {
		r.DropUser(ev.Identity.UserID)
	}
}

// IsSaved は識別情報の保存済み集合にitemIDが含まれるかを返す。
// 未読み込みなら先に読み込み、読み込みに失敗した場合はfalseを返す。
func (r *Registry) IsSaved(ctx context.Context, id *identity.Identity, itemID string) bool {
	if !id.SignedIn() {
		return false
	}
	c := r.For(id)
	if err := c.EnsureLoaded(ctx); err != nil {
		return false
	}
	return c.IsSaved(itemID)
}
