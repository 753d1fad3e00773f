package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/signinbridge/internal/config"
	"github.com/hitoshi/signinbridge/internal/metrics"
	"github.com/hitoshi/signinbridge/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// LegacyCallbackPath は既存のエッジ関数URLと互換のコールバックルート。
const LegacyCallbackPath = "/functions/v1/consentkeys-callback"

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter
	Collector   metrics.MetricsCollector
	Gatherer    prometheus.Gatherer // nilの場合は/metricsを公開しない

	// 信頼できるリバースプロキシの背後でのみtrueにする
	TrustProxyHeaders bool
	// HTTPSで公開している場合にStrict-Transport-Securityを付与する
	HSTS bool

	// コールバック
	CallbackService CallbackServiceInterface

	// ローカルIDストア（postgres, memory）のみ。nilの場合はセッション系ルートを公開しない
	SessionService SessionServiceInterface
	SessionFinder  middleware.SessionFinder
	AuthConfig     AuthHandlerConfig
	CSRFConfig     middleware.CSRFConfig
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → (RealIP) → CORS → Recovery → Metrics → Logging → SecurityHeaders
//
// CORSをRecoveryより外側に置き、panic時の500にもCORSヘッダーを残す。
// RealIPはTrustProxyHeadersの場合のみ適用する。無効時はX-Forwarded-For等を無視し、
// レート制限は接続元アドレスで判定する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Collector
	if collector == nil {
		collector = metrics.NopCollector{}
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewCORSMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- コールバック（未認証、IP単位のレート制限） ---
	callbackHandler := NewCallbackHandler(deps.CallbackService, logger)
	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.CallbackMiddleware())
		}
		r.Get(config.CallbackPath, callbackHandler.Callback)
		r.Post(config.CallbackPath, callbackHandler.Callback)
		r.Get(LegacyCallbackPath, callbackHandler.Callback)
		r.Post(LegacyCallbackPath, callbackHandler.Callback)
	})

	// --- ローカルIDストアのセッション ---
	if deps.SessionService != nil {
		authHandler := NewAuthHandler(deps.SessionService, deps.AuthConfig)

		r.Get("/auth/v1/verify", authHandler.Verify)
		r.Get("/auth/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
			r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

			r.Get("/auth/me", authHandler.Me)
			r.Post("/auth/logout", authHandler.Logout)
		})
	}

	return r
}
