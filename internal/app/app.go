package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/recipeman/internal/auth"
	"github.com/hitoshi/recipeman/internal/cache"
	"github.com/hitoshi/recipeman/internal/config"
	"github.com/hitoshi/recipeman/internal/database"
	"github.com/hitoshi/recipeman/internal/handler"
	"github.com/hitoshi/recipeman/internal/image"
	"github.com/hitoshi/recipeman/internal/localstore"
	"github.com/hitoshi/recipeman/internal/logger"
	"github.com/hitoshi/recipeman/internal/metrics"
	"github.com/hitoshi/recipeman/internal/middleware"
	"github.com/hitoshi/recipeman/internal/recipe"
	"github.com/hitoshi/recipeman/internal/repository"
	"github.com/hitoshi/recipeman/internal/security"
	"github.com/hitoshi/recipeman/internal/session"
	"github.com/hitoshi/recipeman/internal/storage/minio"
	"github.com/hitoshi/recipeman/internal/store"
	"github.com/hitoshi/recipeman/internal/token"
	"github.com/hitoshi/recipeman/internal/worker/cleanup"
)

// csrfBodyMargin は画像本体以外のフォームフィールドに許容するサイズ。
const csrfBodyMargin = 1 << 20

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再構成
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。wは使い方とログの出力先。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		Usage(w)
		return err
	}
	if cmd == CommandHelp {
		Usage(w)
		return nil
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// runServe はWebサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. 依存関係のワイヤリング
	registry := prometheus.NewRegistry()
	deps, cleanupFn, err := buildRouterDeps(ctx, cfg, db, registry)
	if err != nil {
		return err
	}
	defer cleanupFn()

	router := handler.NewRouter(deps)

	// 3. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second + cfg.ImageFetchTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("web server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down web server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("web server stopped gracefully")
	return nil
}

// buildRouterDeps はserveモードの依存関係を構築する。
// 返すcleanup関数はバックグラウンド処理を停止する。
func buildRouterDeps(ctx context.Context, cfg *config.Config, db *sql.DB, registry *prometheus.Registry) (*handler.RouterDeps, func(), error) {
	log := slog.Default()

	// 1. メトリクス
	collector := metrics.NewCollector(registry)

	// 2. リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	productRepo := repository.NewPostgresProductRepo(db)

	// 3. レシピコレクション（リモートストア → キャッシュ → ページ）
	gateway := store.NewGateway(productRepo, collector, log)
	kv := localstore.NewKVStore(cfg.CacheFile)
	products := cache.NewProductsCache(kv, gateway, cfg.CacheKey, collector, log)
	if err := products.EnsureLoaded(ctx); err != nil {
		// 最初のリクエストで再試行する
		log.Warn("failed to warm products cache", slog.String("error", err.Error()))
	}

	sanitizer := security.NewTextSanitizer()
	guard := security.NewURLGuard()
	recipes := recipe.NewService(gateway, products, sanitizer, guard, log)

	// 4. 認証とセッション
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	notifier := auth.NewNotifier()
	authService := auth.NewService(
		oauthProvider, userRepo, identRepo, sessionRepo, notifier,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
	authGateway := auth.NewGateway(authService, collector, log)

	provider := session.NewProvider(authService, log)
	provider.Start(ctx)

	// 5. レート制限
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitAuth),
	)

	renderer, err := handler.NewRenderer()
	if err != nil {
		rateLimiter.Stop()
		notifier.Close()
		return nil, nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	deps := &handler.RouterDeps{
		Sessions:    provider,
		Tokens:      token.NewSessionTokens(cfg.SessionSecret),
		RateLimiter: rateLimiter,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			MaxBodyBytes: cfg.ImageMaxSize + csrfBodyMargin,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		LoginPath:         cfg.LoginPath,
		Logger:            log,
		Metrics:           collector,

		Renderer: renderer,
		Products: products,
		Recipes:  recipes,

		Auth:  authGateway,
		Users: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),
	}

	// 6. 画像ストレージ（任意）
	if cfg.Storage.Enabled() {
		client, err := minio.Connect(ctx, cfg.Storage)
		if err != nil {
			rateLimiter.Stop()
			notifier.Close()
			return nil, nil, fmt.Errorf("failed to connect image storage: %w", err)
		}
		deps.Images = image.NewService(client, guard, cfg.ImageMaxSize, cfg.ImageFetchTimeout, log)
		log.Info("image storage enabled",
			slog.String("endpoint", cfg.Storage.Endpoint),
			slog.String("bucket", cfg.Storage.Bucket),
		)
	}

	cleanupFn := func() {
		rateLimiter.Stop()
		notifier.Close()
	}
	return deps, cleanupFn, nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの削除ジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. クリーンアップジョブ
	sessionRepo := repository.NewPostgresSessionRepo(db)
	collector := metrics.NewCollector(prometheus.NewRegistry())
	job := cleanup.NewCleanupJob(sessionRepo, collector, slog.Default())

	slog.Info("worker starting",
		slog.Duration("session_cleanup_interval", cfg.SessionCleanupInterval),
	)

	// メインgoroutineで実行（ブロッキング）
	job.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
