package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/recipeman/internal/metrics"
	"github.com/hitoshi/recipeman/internal/middleware"
)

// SessionTokens はセッションCookieのトークンを発行・検証する。token.SessionTokensが満たす。
type SessionTokens interface {
	middleware.TokenParser
	SessionTokenIssuer
}

// ImageStore は画像の保存と配信を提供する。image.Serviceが満たす。
type ImageStore interface {
	ImageService
	ImageOpener
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Sessions          middleware.SessionResolver
	Tokens            SessionTokens
	RateLimiter       *middleware.RateLimiter
	CSRF              middleware.CSRFConfig
	CORSAllowedOrigin string
	LoginPath         string
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector

	// ページ
	Renderer *Renderer
	Products ProductsReader
	Recipes  RecipeService
	Images   ImageStore // 画像ストレージ無効時はnil

	// 認証
	Auth       AuthGateway
	Users      CurrentUserFinder
	AuthConfig AuthHandlerConfig

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RequestID → RealIP → SecurityHeaders
//	  ├ 運用・静的ルート: Logging
//	  └ ページ・認証ルート: Session → Logging → RateLimit(General) → CSRF
//
// 運用ルート（/health, /metrics）はセッションの確定を待たずに応答する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewSecurityHeadersMiddleware())

	pages := NewPageHandler(deps.Products, deps.Renderer, deps.Images != nil)
	authHandler := NewAuthHandler(deps.Auth, deps.Tokens, deps.Users, deps.Renderer, deps.AuthConfig)

	var images ImageService
	if deps.Images != nil {
		images = deps.Images
	}
	products := NewProductHandler(deps.Recipes, images)

	// --- セッション不要のルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))

		r.Get("/health", Health(deps.HealthChecker))
		if deps.MetricsHandler != nil {
			r.Handle("/metrics", deps.MetricsHandler)
		}
		r.Get(PlaceholderImagePath, Placeholder)
		if deps.Images != nil {
			r.Get("/images/{key}", ServeImage(deps.Images))
		}

		r.Route("/api", func(r chi.Router) {
			r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.Get("/products", ProductsAPI(deps.Products))
		})
	})

	// --- ページ・認証ルート ---
	// ミドルウェアスタック: Session → Logging → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Sessions, deps.Tokens))
		r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Get("/", pages.Home)

		// 認証
		r.Get("/login", authHandler.LoginPage)
		r.With(deps.RateLimiter.AuthMiddleware()).Post("/login", authHandler.Login)
		r.Get("/register", authHandler.RegisterPage)
		r.With(deps.RateLimiter.AuthMiddleware()).Post("/register", authHandler.Register)
		r.Post("/logout", authHandler.Logout)
		r.Route("/auth", func(r chi.Router) {
			r.Get("/google/login", authHandler.GoogleLogin)
			r.Get("/google/callback", authHandler.GoogleCallback)
			r.Get("/me", authHandler.Me)
		})

		// ログインが必要なページ
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewAccessGuard(deps.LoginPath))

			r.Get("/dashboard", pages.Dashboard)
			r.Route("/dashboard/products", func(r chi.Router) {
				r.Post("/", products.Add)
				r.Post("/{id}", products.Update)
				r.Post("/{id}/delete", products.Delete)
			})
		})
	})

	return r
}
