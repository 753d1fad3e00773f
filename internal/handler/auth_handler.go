package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/signinbridge/internal/middleware"
	"github.com/hitoshi/signinbridge/internal/model"
	"github.com/hitoshi/signinbridge/internal/repository"
)

// msgInvalidLink はサインインリンクの償還失敗時の公開メッセージ。
const msgInvalidLink = "Invalid or expired link"

// SessionServiceInterface はローカルIDストアのセッションエンドポイントが必要とするサービスインターフェース。
type SessionServiceInterface interface {
	RedeemLink(ctx context.Context, token string) (*model.Session, string, error)
	CurrentAccount(ctx context.Context, accountID string) (*model.Account, error)
	Logout(ctx context.Context, sessionID string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	AppRedirectURL string // 償還時に遷移先が記録されていない場合の遷移先
	CookieDomain   string
	CookieSecure   bool
	SessionMaxAge  int // セッションCookieの有効期間（秒）
}

// AuthHandler はローカルIDストアが発行したサインインリンクの償還とセッション関連のハンドラー。
type AuthHandler struct {
	service SessionServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service SessionServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// Verify はサインインリンクを償還し、セッションCookieを設定して遷移先にリダイレクトする。
// GET /auth/v1/verify?token=xxx
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	session, redirectTo, err := h.service.RedeemLink(r.Context(), r.URL.Query().Get("token"))
	if errors.Is(err, repository.ErrLinkInvalid) {
		http.Error(w, msgInvalidLink, http.StatusBadRequest)
		return
	}
	if err != nil {
		slog.Error("failed to redeem sign-in link", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	if redirectTo == "" {
		redirectTo = h.config.AppRedirectURL
	}
	http.Redirect(w, r, redirectTo, http.StatusFound)
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			// ログアウト失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインアカウント情報を返す。
// GET /auth/me（SessionMiddlewareの後に配置）
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	account, err := h.service.CurrentAccount(r.Context(), accountID)
	if err != nil {
		slog.Warn("failed to get current account", slog.String("error", err.Error()))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(accountResponse{
		ID:             account.ID,
		Email:          account.Email,
		EmailConfirmed: account.EmailConfirmed,
		Metadata:       account.Metadata,
	})
}

// accountResponse は/auth/meのレスポンスボディ。
type accountResponse struct {
	ID             string                `json:"id"`
	Email          string                `json:"email"`
	EmailConfirmed bool                  `json:"email_confirmed"`
	Metadata       model.AccountMetadata `json:"metadata"`
}
