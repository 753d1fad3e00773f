package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/signinbridge/internal/model"
	"github.com/hitoshi/signinbridge/internal/repository"
)

// ErrSessionNotFound はセッションが存在しないか期限切れの場合のエラー。
var ErrSessionNotFound = errors.New("session not found or expired")

// SessionConfig はセッションサービスの設定。
type SessionConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// SessionService はローカルIDストアが発行したサインインリンクの償還とセッション管理を提供する。
type SessionService struct {
	redeemer    repository.LinkRedeemer
	accounts    repository.AccountFinder
	sessionRepo repository.SessionRepository
	config      SessionConfig
}

// NewSessionService はSessionServiceを生成する。
func NewSessionService(
	redeemer repository.LinkRedeemer,
	accounts repository.AccountFinder,
	sessionRepo repository.SessionRepository,
	config SessionConfig,
) *SessionService {
	return &SessionService{
		redeemer:    redeemer,
		accounts:    accounts,
		sessionRepo: sessionRepo,
		config:      config,
	}
}

// RedeemLink はサインインリンクのトークンを償還し、セッションを発行する。
// 戻り値の文字列はリンク発行時に指定された遷移先。
// 使用済み・期限切れ・未知のトークンはrepository.ErrLinkInvalidを返す。
func (s *SessionService) RedeemLink(ctx context.Context, token string) (*model.Session, string, error) {
	if token == "" {
		return nil, "", repository.ErrLinkInvalid
	}

	link, err := s.redeemer.Redeem(ctx, token)
	if err != nil {
		return nil, "", err
	}

	session, err := s.createSession(ctx, link.AccountID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("sign-in link redeemed", slog.String("account_id", link.AccountID))
	return session, link.RedirectTo, nil
}

// CurrentAccount はアカウントIDからアカウントを取得する。
func (s *SessionService) CurrentAccount(ctx context.Context, accountID string) (*model.Account, error) {
	if accountID == "" {
		return nil, ErrSessionNotFound
	}

	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil {
		return nil, ErrSessionNotFound
	}
	return account, nil
}

// Logout はセッションを破棄する。
func (s *SessionService) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("account logged out")
	return nil
}

// createSession はセッションを作成し永続化する。
// IDが既存セッションと衝突した場合は新しいIDで1回だけ再試行する。
func (s *SessionService) createSession(ctx context.Context, accountID string) (*model.Session, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		sessionID, err := generateSessionID()
		if err != nil {
			return nil, fmt.Errorf("failed to generate session ID: %w", err)
		}

		now := time.Now()
		session := &model.Session{
			ID:        sessionID,
			AccountID: accountID,
			ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
			CreatedAt: now,
		}

		lastErr = s.sessionRepo.Create(ctx, session)
		if lastErr == nil {
			return session, nil
		}
		if !errors.Is(lastErr, repository.ErrSessionIDConflict) {
			break
		}
	}
	return nil, fmt.Errorf("failed to save session: %w", lastErr)
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
