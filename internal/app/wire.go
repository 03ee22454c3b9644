package app

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/kuzamarket/internal/admin"
	"github.com/hitoshi/kuzamarket/internal/auth"
	"github.com/hitoshi/kuzamarket/internal/config"
	"github.com/hitoshi/kuzamarket/internal/handler"
	"github.com/hitoshi/kuzamarket/internal/identity"
	"github.com/hitoshi/kuzamarket/internal/item"
	"github.com/hitoshi/kuzamarket/internal/metrics"
	"github.com/hitoshi/kuzamarket/internal/middleware"
	"github.com/hitoshi/kuzamarket/internal/recommend"
	"github.com/hitoshi/kuzamarket/internal/repository"
	"github.com/hitoshi/kuzamarket/internal/saved"
	"github.com/hitoshi/kuzamarket/internal/search"
	"github.com/hitoshi/kuzamarket/internal/security"
	"github.com/hitoshi/kuzamarket/internal/storage"
	"github.com/hitoshi/kuzamarket/internal/user"
)

// services はサーバーが保持する長寿命のコンポーネント。
type services struct {
	deps    *handler.RouterDeps
	saved   *saved.Registry
	search  *search.Registry
	limiter *middleware.RateLimiter
	unsub   func()
}

// rateLimiterConfig は1分あたりのリクエスト数の設定をトークンバケットに変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60)
		rl.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitListing > 0 {
		rl.ListingRate = rate.Limit(float64(cfg.RateLimitListing) / 60)
		rl.ListingBurst = cfg.RateLimitListing
	}
	return rl
}

// wire はリポジトリ・サービス・ハンドラーの依存関係を組み立てる。
func wire(cfg *config.Config, db *sql.DB, store storage.ObjectStore, catalog *config.Catalog, mc metrics.MetricsCollector, log *slog.Logger) *services {
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)
	itemRepo := repository.NewPostgresItemRepo(db)
	savedRepo := repository.NewPostgresSavedItemRepo(db)
	historyRepo := repository.NewPostgresSearchHistoryRepo(db)
	viewRepo := repository.NewPostgresItemViewRepo(db)

	authz := identity.DefaultAuthorizer()
	bus := identity.NewBus()
	sanitizer := security.NewTextSanitizer()
	guard := security.NewURLGuard()

	savedRegistry := saved.NewRegistry(savedRepo, mc, log)
	unsub := bus.Subscribe(savedRegistry.HandleEvent)

	authService := auth.NewService(userRepo, sessionRepo, bus, auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge})

	itemService := item.NewService(item.Deps{
		Items:         itemRepo,
		Saved:         savedRepo,
		Views:         viewRepo,
		Profiles:      profileRepo,
		Objects:       store,
		Keys:          storage.NewKeyGenerator(),
		Importer:      security.NewImageFetcher(guard.NewSafeClient(cfg.ImageFetchTimeout), guard, cfg.ImageMaxSize),
		Sanitizer:     sanitizer,
		Catalog:       catalog,
		Authorizer:    authz,
		Metrics:       mc,
		Logger:        log,
		PublicBaseURL: cfg.StoragePublicBaseURL,
		MaxImageSize:  cfg.ImageMaxSize,
	})

	searchRegistry := search.NewRegistry(cfg.SearchClientTTL, cfg.SearchClientTTL/2)
	searchService := search.NewService(itemRepo, historyRepo, searchRegistry, catalog, mc, log)

	limiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))

	deps := &handler.RouterDeps{
		Logger:            log,
		IdentityResolver:  authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		CSRF:              middleware.CSRFConfig{CookieSecure: cfg.CookieSecure, CookieDomain: cfg.CookieDomain},
		SessionCookie: middleware.SessionCookieConfig{
			MaxAge: time.Duration(cfg.SessionMaxAge) * time.Second,
			Secure: cfg.CookieSecure,
			Domain: cfg.CookieDomain,
		},
		Metrics:     mc,
		HealthCheck: db.PingContext,

		Authorizer: authz,
		Catalog:    catalog,
		BaseURL:    cfg.BaseURL,

		AuthService:      authService,
		SearchService:    searchService,
		RecommendService: recommend.NewService(itemRepo, historyRepo, catalog.TrendingTerms, log),
		ItemService:      itemService,
		SavedCaches:      savedRegistry,
		SavedChecker:     savedRegistry,
		SavedEntries:     itemService,
		ProfileService:   user.NewService(profileRepo, itemRepo, sanitizer),
		AdminService:     admin.NewService(itemRepo, userRepo, itemService, authz),
		ObjectStore:      store,
		MaxImageSize:     cfg.ImageMaxSize,
	}

	return &services{
		deps:    deps,
		saved:   savedRegistry,
		search:  searchRegistry,
		limiter: limiter,
		unsub:   unsub,
	}
}

// Router はHTTPハンドラーを返す。
func (s *services) Router() http.Handler {
	return handler.NewRouter(s.deps)
}

// Close はバックグラウンドのゴルーチンを停止する。
func (s *services) Close() {
	s.unsub()
	s.limiter.Stop()
	s.search.Stop()
}
