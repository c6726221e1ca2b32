package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/shortlink/internal/middleware"
	"github.com/hitoshi/shortlink/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string // カンマ区切りで複数指定可
	BaseURL           string // レスポンスのshortLinkに使う公開URL

	// サービス
	AuthService      AuthServiceInterface
	LinkService      LinkServiceInterface
	AnalyticsService AnalyticsServiceInterface

	// 運用エンドポイント
	DB             Pinger
	Cache          CachePinger // nilの場合は/healthにキャッシュ状態を含めない
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → (保護ルート) BearerAuth → RequireRole(USER)
//
// 予約パス（/api/*、/health、/metrics）はリダイレクト用のキャッチオールより先に照合される。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService)
	linkHandler := NewLinkHandler(deps.LinkService, deps.AnalyticsService, deps.BaseURL)
	redirectHandler := NewRedirectHandler(deps.LinkService)

	// --- 運用エンドポイント ---
	if deps.DB != nil {
		r.Get("/health", NewHealthHandler(deps.DB, deps.Cache))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証不要のルート ---
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/public/register", authHandler.Register)
		r.Post("/public/login", authHandler.Login)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: BearerAuth → RequireRole(USER)
	r.Route("/api/urls", func(r chi.Router) {
		r.Use(middleware.NewBearerAuthMiddleware(deps.AuthService))
		r.Use(middleware.NewRequireRoleMiddleware(model.RoleUser))

		r.Post("/shorten", linkHandler.Shorten)
		r.Get("/myurls", linkHandler.MyURLs)
		r.Get("/analytics/{shortUrl}", linkHandler.LinkAnalytics)
		r.Get("/totalClicks", linkHandler.TotalClicks)
	})

	// --- 公開リダイレクト ---
	r.Get("/{shortUrl}", redirectHandler.Redirect)

	return r
}
