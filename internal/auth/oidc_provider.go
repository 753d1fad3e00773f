package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hitoshi/signinbridge/internal/model"
	"golang.org/x/oauth2"
)

// ProviderConfig はOAuth/OIDCプロバイダーの設定。
type ProviderConfig struct {
	// Name はアカウントメタデータのproviderに記録する名前。
	Name string
	// IssuerURL を指定した場合はディスカバリでエンドポイントを補完する。
	IssuerURL    string
	TokenURL     string
	UserInfoURL  string
	ClientID     string
	ClientSecret string
	// RedirectURL はトークン交換で送るredirect_uri。認可リクエスト時と一致させる。
	RedirectURL string
}

// OIDCProvider は認可コードのトークン交換とuserinfo取得を提供する。
// トークン交換はgolang.org/x/oauth2、userinfo取得はgo-oidcを使用する。
type OIDCProvider struct {
	name       string
	oauth      *oauth2.Config
	provider   *oidc.Provider
	httpClient *http.Client
}

// NewOIDCProvider はOIDCProviderを生成する。
// IssuerURLが設定されている場合のみネットワークアクセス（ディスカバリ）が発生する。
// 明示的に設定されたTokenURL/UserInfoURLはディスカバリ結果より優先する。
func NewOIDCProvider(ctx context.Context, cfg ProviderConfig, httpClient *http.Client) (*OIDCProvider, error) {
	tokenURL, userInfoURL := cfg.TokenURL, cfg.UserInfoURL
	var authURL string

	if cfg.IssuerURL != "" {
		discovered, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), cfg.IssuerURL)
		if err != nil {
			return nil, fmt.Errorf("failed to discover provider %s: %w", cfg.IssuerURL, err)
		}

		var claims struct {
			UserInfoURL string `json:"userinfo_endpoint"`
		}
		if err := discovered.Claims(&claims); err != nil {
			return nil, fmt.Errorf("failed to parse discovery document: %w", err)
		}

		authURL = discovered.Endpoint().AuthURL
		if tokenURL == "" {
			tokenURL = discovered.Endpoint().TokenURL
		}
		if userInfoURL == "" {
			userInfoURL = claims.UserInfoURL
		}
	}

	if tokenURL == "" {
		return nil, fmt.Errorf("token endpoint is not configured")
	}
	if userInfoURL == "" {
		return nil, fmt.Errorf("userinfo endpoint is not configured")
	}

	providerConfig := &oidc.ProviderConfig{
		IssuerURL:   cfg.IssuerURL,
		AuthURL:     authURL,
		TokenURL:    tokenURL,
		UserInfoURL: userInfoURL,
	}

	return &OIDCProvider{
		name: cfg.Name,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: tokenURL,
				// client_id/client_secretはフォームボディで送る
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		provider:   providerConfig.NewProvider(ctx),
		httpClient: httpClient,
	}, nil
}

// Name はプロバイダー名を返す。
func (p *OIDCProvider) Name() string {
	return p.name
}

// Exchange は認可コードをアクセストークンに交換する。
// grant_type=authorization_codeのフォームPOSTを1回だけ送信する。
// 2xx以外の応答やaccess_tokenを含まない応答はエラーとする。
func (p *OIDCProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	return token, nil
}

// FetchIdentity はアクセストークンでuserinfoエンドポイントを呼び出し、クレームを取得する。
// emailの有無はここでは検証しない。
func (p *OIDCProvider) FetchIdentity(ctx context.Context, token *oauth2.Token) (*model.ProviderIdentity, error) {
	info, err := p.provider.UserInfo(oidc.ClientContext(ctx, p.httpClient), oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}

	var claims struct {
		Name string `json:"name"`
	}
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse userinfo claims: %w", err)
	}

	return &model.ProviderIdentity{
		Provider: p.name,
		Subject:  info.Subject,
		Email:    info.Email,
		Name:     claims.Name,
	}, nil
}

// compile-time interface check
var _ OAuthProvider = (*OIDCProvider)(nil)
