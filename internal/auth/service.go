// Package auth はOAuthコールバックからIDストアのサインインリンク発行までの認証フローと、
// ローカルIDストア向けのセッション管理を提供する。
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/signinbridge/internal/metrics"
	"github.com/hitoshi/signinbridge/internal/model"
	"github.com/hitoshi/signinbridge/internal/repository"
	"golang.org/x/oauth2"
)

// OAuthProvider はOAuth/OIDCプロバイダーのインターフェース。
type OAuthProvider interface {
	// Name はアカウントメタデータに記録するプロバイダー名を返す。
	Name() string
	// Exchange は認可コードをアクセストークンに交換する。
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	// FetchIdentity はアクセストークンでプロバイダーのクレームを取得する。
	FetchIdentity(ctx context.Context, token *oauth2.Token) (*model.ProviderIdentity, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// AppRedirectURL はサインイン完了後の遷移先。
	AppRedirectURL string
	// UpstreamTimeout は外部呼び出し1回あたりのタイムアウト。
	UpstreamTimeout time.Duration
}

// Service はコールバック1件をトークン交換からサインインリンク発行まで順に処理する。
// リクエスト間で状態を持たない。
type Service struct {
	provider OAuthProvider
	resolver *Resolver
	store    repository.AccountStore
	upstream upstream
	config   ServiceConfig
}

// NewService はServiceを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewService(
	provider OAuthProvider,
	store repository.AccountStore,
	sanitizer NameSanitizer,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	u := upstream{timeout: config.UpstreamTimeout, metrics: collector}

	return &Service{
		provider: provider,
		resolver: newResolver(store, sanitizer, u),
		store:    store,
		upstream: u,
		config:   config,
	}
}

// HandleCallback は認可コードからサインインリンクを発行する。
// 各段階は前段の完了を待って逐次実行し、失敗した時点で残りを中断する。
// 返すエラーは常に*model.FlowError。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.SignInLink, error) {
	link, err := s.handleCallback(ctx, code)
	if err != nil {
		var flowErr *model.FlowError
		if !errors.As(err, &flowErr) {
			flowErr = model.NewUnhandledError(model.StageRedirecting, err)
		}
		s.upstream.metrics.RecordCallbackFailure(string(flowErr.Kind), string(flowErr.Stage))
		return nil, flowErr
	}

	s.upstream.metrics.RecordCallbackSuccess()
	slog.Info("sign-in link issued",
		slog.String("account_id", link.AccountID),
		slog.String("provider", s.provider.Name()),
	)
	return link, nil
}

func (s *Service) handleCallback(ctx context.Context, code string) (*model.SignInLink, error) {
	if code == "" {
		return nil, model.NewMissingCodeError()
	}

	// 1. 認可コードをアクセストークンに交換
	token, err := callUpstream(ctx, s.upstream, metrics.CallTokenExchange, func(ctx context.Context) (*oauth2.Token, error) {
		return s.provider.Exchange(ctx, code)
	})
	if err != nil {
		return nil, model.NewTokenExchangeError(err)
	}

	// 2. アクセストークンでクレームを取得
	identity, err := callUpstream(ctx, s.upstream, metrics.CallUserInfo, func(ctx context.Context) (*model.ProviderIdentity, error) {
		return s.provider.FetchIdentity(ctx, token)
	})
	if err != nil {
		return nil, model.NewUserinfoError(err)
	}
	if strings.TrimSpace(identity.Email) == "" {
		return nil, model.NewEmailRequiredError()
	}

	// 3. アカウントを検索または作成
	account, err := s.resolver.Resolve(ctx, identity)
	if err != nil {
		return nil, err
	}

	// 4. サインインリンクを発行
	link, err := callUpstream(ctx, s.upstream, metrics.CallGenerateLink, func(ctx context.Context) (*model.SignInLink, error) {
		return s.store.GenerateSignInLink(ctx, account, s.config.AppRedirectURL)
	})
	if err != nil {
		if isTimeout(err) {
			return nil, model.NewStoreTimeoutError(model.StageMintingLink, err)
		}
		return nil, model.NewSignInLinkError(err)
	}
	if link == nil || link.URL == "" {
		return nil, model.NewSignInLinkError(errors.New("identity store returned an empty sign-in link"))
	}

	return link, nil
}
