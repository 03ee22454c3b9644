package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/kuzamarket/internal/config"
	"github.com/hitoshi/kuzamarket/internal/identity"
	"github.com/hitoshi/kuzamarket/internal/item"
	"github.com/hitoshi/kuzamarket/internal/metrics"
	"github.com/hitoshi/kuzamarket/internal/middleware"
	"github.com/hitoshi/kuzamarket/internal/storage"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア
	IdentityResolver  middleware.IdentityResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRF              middleware.CSRFConfig
	SessionCookie     middleware.SessionCookieConfig
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler
	HealthCheck       func(ctx context.Context) error

	Authorizer identity.Authorizer
	Catalog    *config.Catalog
	BaseURL    string

	AuthService      AuthServiceInterface
	SearchService    SearchServiceInterface
	RecommendService RecommendServiceInterface
	ItemService      ItemServiceInterface
	SavedCaches      SavedCaches
	SavedChecker     item.SavedChecker
	SavedEntries     SavedEntryLister
	ProfileService   ProfileServiceInterface
	AdminService     AdminServiceInterface
	ObjectStore      storage.ObjectStore
	MaxImageSize     int64
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Metrics → ClientID → Identity → Logging → CSRF → RateLimit(General)
//
// /healthz と /metrics はチェーンの外に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.Nop{}
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.Authorizer, deps.SessionCookie)
	searchHandler := NewSearchHandler(deps.SearchService, deps.RecommendService, deps.Catalog)
	itemHandler := NewItemHandler(deps.ItemService, deps.SavedChecker, deps.MaxImageSize)
	savedHandler := NewSavedHandler(deps.SavedCaches, deps.SavedEntries)
	profileHandler := NewProfileHandler(deps.ProfileService)
	adminHandler := NewAdminHandler(deps.AdminService)
	mediaHandler := NewMediaHandler(deps.ObjectStore)
	feedHandler := NewFeedHandler(deps.ItemService, deps.BaseURL)

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))

	r.Get("/healthz", healthz(deps.HealthCheck))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSecurityHeadersMiddleware())
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
		r.Use(middleware.NewMetricsMiddleware(mc))
		r.Use(middleware.NewClientIDMiddleware(deps.CSRF.CookieSecure, deps.CSRF.CookieDomain))
		r.Use(middleware.NewIdentityMiddleware(deps.IdentityResolver))
		r.Use(middleware.NewLoggingMiddleware(logger))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))
		listingLimit := func(next http.Handler) http.Handler { return next }
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
			listingLimit = deps.RateLimiter.ListingMiddleware()
		}

		r.Get("/media/*", mediaHandler.Serve)
		r.Head("/media/*", mediaHandler.Serve)
		r.Get("/feed.xml", feedHandler.Serve)

		r.Route("/api", func(r chi.Router) {
			r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))
			r.Get("/catalog", searchHandler.Catalog)

			r.Route("/auth", func(r chi.Router) {
				r.Post("/signup", authHandler.SignUp)
				r.Post("/signin", authHandler.SignIn)
				r.Post("/signout", authHandler.SignOut)
				r.Get("/session", authHandler.Session)
			})

			r.Get("/search", searchHandler.Search)
			r.Get("/search/trending", searchHandler.Trending)
			r.Get("/recommendations", searchHandler.Recommendations)

			r.Get("/categories/{category}/items", itemHandler.ByCategory)
			r.Get("/profiles/{id}", profileHandler.Public)

			r.Route("/items", func(r chi.Router) {
				r.Get("/latest", itemHandler.Latest)
				r.With(middleware.RequireIdentity, listingLimit).Post("/", itemHandler.Create)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", itemHandler.Detail)
					r.With(middleware.RequireIdentity).Delete("/", itemHandler.Delete)
					r.With(middleware.RequireIdentity).Post("/save", savedHandler.Toggle)
				})
			})

			r.Route("/me", func(r chi.Router) {
				r.Use(middleware.RequireIdentity)
				r.Get("/items", itemHandler.ListMine)
				r.Get("/saved", savedHandler.List)
				r.Get("/saved/ids", savedHandler.IDs)
				r.Get("/profile", profileHandler.Get)
				r.Put("/profile", profileHandler.Update)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireIdentity)
				r.Use(adminHandler.RequireAdmin)
				r.Get("/stats", adminHandler.Stats)
				r.Get("/items", adminHandler.Items)
				r.Get("/users", adminHandler.Users)
				r.Delete("/items/{id}", adminHandler.DeleteItem)
			})
		})
	})

	return r
}

// healthz はDB疎通を確認するヘルスチェック。
func healthz(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
