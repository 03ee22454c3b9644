// Package app はコマンドの実行とアプリケーション全体の組み立てを行う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/kuzamarket/internal/config"
	"github.com/hitoshi/kuzamarket/internal/database"
	"github.com/hitoshi/kuzamarket/internal/logger"
	"github.com/hitoshi/kuzamarket/internal/metrics"
	"github.com/hitoshi/kuzamarket/internal/repository"
	"github.com/hitoshi/kuzamarket/internal/storage"
	"github.com/hitoshi/kuzamarket/internal/worker/cleanup"
)

// 保存済みキャッシュの整理間隔と、使われていないキャッシュを破棄するまでの時間。
const (
	savedPruneInterval = 10 * time.Minute
	savedMaxIdle       = 2 * time.Hour
)

// Init は.envと環境変数から設定を読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	logger.SetupDefault(w)

	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はコマンドライン引数に従ってサブコマンドを実行する。argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.Execute()
}

// openDatabase はDBに接続して疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, 5*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established", slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)))
	return db, nil
}

// signalContext はSIGINT/SIGTERMでキャンセルされるコンテキストを返す。
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// runServe はAPIサーバーを起動する。
// SIGINTまたはSIGTERMを受信するとリクエストの処理を終えてから停止する。
func runServe(cfg *config.Config) error {
	ctx, stop := signalContext()
	defer stop()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	catalog, err := config.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	store, closeStore, err := storage.NewFromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open object storage: %w", err)
	}
	defer func() {
		if err := closeStore(context.Background()); err != nil {
			slog.Warn("failed to close object storage", slog.String("error", err.Error()))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mc := metrics.NewCollector(reg)

	svc := wire(cfg, db, store, catalog, mc, slog.Default())
	defer svc.Close()
	svc.deps.MetricsHandler = metrics.Handler(reg)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      svc.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.String("storage_backend", store.Backend()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(savedPruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case now := <-ticker.C:
				if n := svc.saved.Prune(now, savedMaxIdle); n > 0 {
					slog.Info("pruned idle saved-item caches", slog.Int("count", n))
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down API server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("API server stopped gracefully")
	return nil
}

// cleanupJob はワーカーが定期実行する削除ジョブを組み立てる。
func cleanupJob(cfg *config.Config, db *sql.DB, log *slog.Logger) *cleanup.CleanupJob {
	return cleanup.NewCleanupJob(log,
		cleanup.ExpiredSessions(repository.NewPostgresSessionRepo(db)),
		cleanup.OlderThan("search_history", repository.NewPostgresSearchHistoryRepo(db), cfg.SearchHistoryRetentionDays),
		cleanup.OlderThan("item_views", repository.NewPostgresItemViewRepo(db), cfg.ItemViewRetentionDays),
		cleanup.DanglingSaved(repository.NewPostgresSavedItemRepo(db)),
	)
}

// runWorker はワーカーを起動し、シグナルを受けるまでクリーンアップジョブを繰り返す。
func runWorker(cfg *config.Config) error {
	ctx, stop := signalContext()
	defer stop()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("worker starting", slog.Duration("cleanup_interval", cfg.CleanupInterval))
	cleanupJob(cfg, db, slog.Default()).Start(ctx, cfg.CleanupInterval)
	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrateUp は未適用のマイグレーションを順番に適用する。
func runMigrateUp(cfg *config.Config) error {
	slog.Info("running database migrations", slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)))
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	slog.Info("database migrations completed successfully")
	return nil
}

// runMigrateDown は直近のマイグレーションをsteps件戻す。
func runMigrateDown(cfg *config.Config, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d", steps)
	}
	if err := database.RollbackMigrations(cfg.DatabaseURL, steps); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	slog.Info("database migrations rolled back", slog.Int("steps", steps))
	return nil
}

// runMigrateVersion は現在のスキーマバージョンを出力する。
func runMigrateVersion(cfg *config.Config, out io.Writer) error {
	version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	fmt.Fprintf(out, "version=%d dirty=%t\n", version, dirty)
	return nil
}

// runHealthcheck はdistroless環境でのDockerヘルスチェック用。
// /healthz にHTTPリクエストを送り、200以外ならエラーを返す。
func runHealthcheck(baseURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(baseURL + "/healthz")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// maskDatabaseURL はデータベースURLのパスワードを伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}

func healthcheckBaseURL() string {
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}
	return "http://localhost:" + port
}
