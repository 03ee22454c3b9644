// Package saved はサインイン中の利用者が保存した商品IDの集合をローカルに保持し、
// 保存トグルを楽観的に反映するキャッシュを提供する。
package saved

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/kuzamarket/internal/metrics"
	"github.com/hitoshi/kuzamarket/internal/model"
)

// State はキャッシュの読み込み状態を表す。
type State int

const (
	Unloaded State = iota
	Loading
	Ready
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	}
	return "unknown"
}

// Store は保存済み商品のリモートストア。
// 保存済み一覧の取得・追加・削除の3つの手続きに対応する。
type Store interface {
	ListSaved(ctx context.Context, userID string) ([]model.SavedItem, error)
	AddSaved(ctx context.Context, userID, itemID string) error
	RemoveSaved(ctx context.Context, userID, itemID string) error
}

// Cache は1つのセッションにおける保存済み商品IDの集合。
type Cache struct {
	store   Store
	metrics metrics.MetricsCollector
	logger  *slog.Logger

	mu         sync.Mutex
	userID     string
	state      State
	members    map[string]struct{}
	generation uint64 // Resetのたびに進み、古い読み込み・書き込みの反映を防ぐ

	loads singleflight.Group
}

// NewCache はuserIDの利用者用のキャッシュを生成する。userIDが空なら未サインイン扱い。
func NewCache(store Store, userID string, mc metrics.MetricsCollector, logger *slog.Logger) *Cache {
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:   store,
		metrics: mc,
		logger:  logger,
		userID:  userID,
		members: make(map[string]struct{}),
	}
}

// UserID はキャッシュの所有者を返す。
func (c *Cache) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// State は現在の読み込み状態を返す。
func (c *Cache) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsSaved はitemIDが保存済みかを返す。ストアへの問い合わせは行わない。
func (c *Cache) IsSaved(itemID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.members[itemID]
	return ok
}

// IDs は保存済みの商品IDを昇順で返す。
func (c *Cache) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.members))
	for id := range c.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len は保存済みの件数を返す。
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.members)
}

// EnsureLoaded は未読み込みの場合のみLoadを行う。
func (c *Cache) EnsureLoaded(ctx context.Context) error {
	if c.State() == Ready {
		return nil
	}
	return c.Load(ctx)
}

// loadTimeout は共有される読み込み1回あたりの上限時間。
const loadTimeout = 10 * time.Second

// Load は保存済み一覧を1回のリクエストで取得して集合を置き換える。
// 失敗した場合は集合を空のままUnloadedに戻す。自動的な再試行はしない。
// 同時に呼ばれた場合はリクエストを1回にまとめる。読み込み自体は呼び出し元の
// キャンセルから切り離し、キャンセルされた呼び出し元だけが先に戻る。
func (c *Cache) Load(ctx context.Context) error {
	ch := c.loads.DoChan("load", func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return nil, c.load(loadCtx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return model.NewRemoteFailureError("load your saved items", ctx.Err())
	}
}

func (c *Cache) load(ctx context.Context) error {
	c.mu.Lock()
	userID := c.userID
	if userID == "" {
		c.mu.Unlock()
		return model.NewAuthRequiredError("view saved items")
	}
	gen := c.generation
	c.state = Loading
	c.mu.Unlock()

	rows, err := c.store.ListSaved(ctx, userID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		// 読み込み中にサインアウトされた。結果は捨てる。
		return nil
	}
	if err != nil {
		c.members = make(map[string]struct{})
		c.state = Unloaded
		c.logger.Error("failed to load saved items",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return model.NewRemoteFailureError("load your saved items", err)
	}

	members := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		members[r.ItemID] = struct{}{}
	}
	c.members = members
	c.state = Ready
	return nil
}

// Toggle はitemIDの保存状態を反転し、反転後の状態を返す。
// ローカルの集合を先に更新してからストアに書き込み、書き込みが失敗した場合は
// その項目を元の状態に戻してエラーを返す。
// 未サインインの場合はUnauthenticatedエラーを返し、集合は変更しない。
func (c *Cache) Toggle(ctx context.Context, itemID string) (bool, error) {
	if c.UserID() == "" {
		return false, model.NewAuthRequiredError("save items")
	}
	if err := c.EnsureLoaded(ctx); err != nil {
		return false, err
	}

	c.mu.Lock()
	userID := c.userID
	if userID == "" {
		c.mu.Unlock()
		return false, model.NewAuthRequiredError("save items")
	}
	_, wasSaved := c.members[itemID]
	if wasSaved {
		delete(c.members, itemID)
	} else {
		c.members[itemID] = struct{}{}
	}
	gen := c.generation
	c.mu.Unlock()

	action := "add"
	var err error
	if wasSaved {
		action = "remove"
		err = c.store.RemoveSaved(ctx, userID, itemID)
	} else {
		err = c.store.AddSaved(ctx, userID, itemID)
	}
	c.metrics.RecordSavedToggle(action, err == nil)

	if err != nil {
		c.mu.Lock()
		if gen == c.generation {
			if wasSaved {
				c.members[itemID] = struct{}{}
			} else {
				delete(c.members, itemID)
			}
		}
		c.mu.Unlock()
		c.logger.Error("failed to toggle saved item",
			slog.String("user_id", userID),
			slog.String("item_id", itemID),
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
		if model.KindOf(err) == model.KindNotFound {
			return wasSaved, err
		}
		return wasSaved, model.NewRemoteFailureError("update your saved items", err)
	}
	return !wasSaved, nil
}

// Reset は集合を空にしてUnloadedに戻し、所有者を外す。
// サインアウト時に呼ばれ、以前の内容に関わらず必ず空になる。
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members = make(map[string]struct{})
	c.state = Unloaded
	c.userID = ""
	c.generation++
}
