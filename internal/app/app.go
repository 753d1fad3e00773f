package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hitoshi/signinbridge/internal/auth"
	"github.com/hitoshi/signinbridge/internal/config"
	"github.com/hitoshi/signinbridge/internal/database"
	"github.com/hitoshi/signinbridge/internal/gotrue"
	"github.com/hitoshi/signinbridge/internal/handler"
	"github.com/hitoshi/signinbridge/internal/logger"
	"github.com/hitoshi/signinbridge/internal/metrics"
	"github.com/hitoshi/signinbridge/internal/middleware"
	"github.com/hitoshi/signinbridge/internal/repository"
	"github.com/hitoshi/signinbridge/internal/security"
	"github.com/hitoshi/signinbridge/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, nil)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, cfg.SlogLevel())
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

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
		slog.String("identity_store_driver", cfg.IdentityStoreDriver),
		slog.String("callback_url", cfg.CallbackURL),
	)

	if cmd.RequiresPostgres() && cfg.IdentityStoreDriver != config.DriverPostgres {
		return fmt.Errorf("%s requires IDENTITY_STORE_DRIVER=%s, got %q", cmd, config.DriverPostgres, cfg.IdentityStoreDriver)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// identityStore はIDストアドライバーごとの実装をまとめたもの。
// sessionsがnilの場合（gotrue）はリンク償還を外部ストアが担う。
type identityStore struct {
	accounts repository.AccountStore
	redeemer repository.LinkRedeemer
	finder   repository.AccountFinder
	sessions repository.SessionRepository
	close    func()
}

// openIdentityStore は設定されたドライバーのIDストアを生成する。
func openIdentityStore(cfg *config.Config, httpClient *http.Client) (*identityStore, error) {
	linkConfig := repository.LinkConfig{
		VerifyURL: strings.TrimSuffix(cfg.BaseURL, "/") + "/auth/v1/verify",
		TTL:       cfg.SignInLinkTTL,
	}

	switch cfg.IdentityStoreDriver {
	case config.DriverGoTrue:
		client := gotrue.NewClient(httpClient, slog.Default(), cfg.IdentityStoreURL, cfg.IdentityStoreAdminKey)
		return &identityStore{accounts: client, close: func() {}}, nil

	case config.DriverPostgres:
		db, err := openDatabase(cfg)
		if err != nil {
			return nil, err
		}
		repo := repository.NewPostgresAccountRepo(db, linkConfig)
		return &identityStore{
			accounts: repo,
			redeemer: repo,
			finder:   repo,
			sessions: repository.NewPostgresSessionRepo(db),
			close:    func() { db.Close() },
		}, nil

	case config.DriverMemory:
		slog.Warn("using in-memory identity store; accounts are lost on restart")
		repo := repository.NewMemoryAccountRepo(linkConfig)
		return &identityStore{
			accounts: repo,
			redeemer: repo,
			finder:   repo,
			sessions: repository.NewMemorySessionRepo(),
			close:    func() {},
		}, nil
	}

	return nil, fmt.Errorf("unsupported identity store driver: %q", cfg.IdentityStoreDriver)
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// validateEndpoints は上流エンドポイントURLを起動時に検証する。
func validateEndpoints(cfg *config.Config) error {
	endpoints := map[string]string{
		"PROVIDER_ISSUER_URL":   cfg.ProviderIssuerURL,
		"PROVIDER_TOKEN_URL":    cfg.ProviderTokenURL,
		"PROVIDER_USERINFO_URL": cfg.ProviderUserInfoURL,
	}
	if cfg.IdentityStoreDriver == config.DriverGoTrue {
		endpoints["IDENTITY_STORE_URL"] = cfg.IdentityStoreURL
	}

	for name, rawURL := range endpoints {
		if rawURL == "" {
			continue
		}
		if err := security.ValidateEndpoint(rawURL, cfg.UpstreamBlockPrivate); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}

// server はHTTPハンドラーと終了時の後処理をまとめたもの。
type server struct {
	handler http.Handler
	close   func()
}

// newServer は全依存関係をワイヤリングしたHTTPハンドラーを構築する。
func newServer(ctx context.Context, cfg *config.Config, registry *prometheus.Registry) (*server, error) {
	if err := validateEndpoints(cfg); err != nil {
		return nil, err
	}

	// 1. 上流呼び出し用HTTPクライアント（プロバイダーとIDストアで共有）
	upstreamClient := security.NewUpstreamClient(security.UpstreamClientConfig{
		Timeout:      cfg.UpstreamTimeout,
		BlockPrivate: cfg.UpstreamBlockPrivate,
	})

	// 2. OAuthプロバイダー
	provider, err := auth.NewOIDCProvider(ctx, auth.ProviderConfig{
		Name:         cfg.ProviderName,
		IssuerURL:    cfg.ProviderIssuerURL,
		TokenURL:     cfg.ProviderTokenURL,
		UserInfoURL:  cfg.ProviderUserInfoURL,
		ClientID:     cfg.ProviderClientID,
		ClientSecret: cfg.ProviderClientSecret,
		RedirectURL:  cfg.CallbackURL,
	}, upstreamClient)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize provider: %w", err)
	}

	// 3. IDストア
	store, err := openIdentityStore(cfg, upstreamClient)
	if err != nil {
		return nil, err
	}

	// 4. メトリクス
	collector := metrics.NewCollector(registry)

	// 5. ドメインサービス
	callbackService := auth.NewService(
		provider, store.accounts, security.NewDisplayNameSanitizer(), collector,
		auth.ServiceConfig{
			AppRedirectURL:  cfg.AppRedirectURL,
			UpstreamTimeout: cfg.UpstreamTimeout,
		},
	)

	rateLimiter := middleware.NewRateLimiter(middleware.CallbackRateLimiterConfig(cfg.RateLimitCallback))

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		RateLimiter:       rateLimiter,
		Collector:         collector,
		Gatherer:          registry,
		CallbackService:   callbackService,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		HSTS:              cfg.CookieSecure,
	}

	if store.sessions != nil {
		deps.SessionService = auth.NewSessionService(
			store.redeemer, store.finder, store.sessions,
			auth.SessionConfig{SessionMaxAge: cfg.SessionMaxAge},
		)
		deps.SessionFinder = store.sessions
		deps.AuthConfig = handler.AuthHandlerConfig{
			AppRedirectURL: cfg.AppRedirectURL,
			CookieSecure:   cfg.CookieSecure,
			SessionMaxAge:  cfg.SessionMaxAge,
		}
		deps.CSRFConfig = middleware.CSRFConfig{CookieSecure: cfg.CookieSecure}
	}

	return &server{
		handler: handler.NewRouter(deps),
		close: func() {
			rateLimiter.Stop()
			store.close()
		},
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := newServer(ctx, cfg, registry)
	if err != nil {
		return err
	}
	defer srv.close()

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// 上流3〜4回分のタイムアウトに余裕を持たせる
		WriteTimeout: 5*cfg.UpstreamTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// postgresドライバーでのみ有効で、期限切れのサインインリンクとセッションを日次で削除する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())

	slog.Info("worker starting")
	runDaily(ctx, func(ctx context.Context) {
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}
	})

	slog.Info("worker stopped gracefully")
	return nil
}

// runDaily は起動直後に1回、その後24時間ごとにjobを実行する。ctxのキャンセルで戻る。
func runDaily(ctx context.Context, job func(ctx context.Context)) {
	job(ctx)

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job(ctx)
		}
	}
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

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
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
