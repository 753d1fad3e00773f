package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/signinbridge/internal/metrics"
	"github.com/hitoshi/signinbridge/internal/model"
	"github.com/hitoshi/signinbridge/internal/repository"
)

// NameSanitizer は表示名をメタデータ保存前に正規化するインターフェース。
type NameSanitizer interface {
	Sanitize(name string) string
}

// Resolver はプロバイダーのクレームをIDストアのアカウントに対応付ける。
// メールアドレスで既存アカウントを検索し、なければ作成する。
type Resolver struct {
	store     repository.AccountStore
	sanitizer NameSanitizer
	upstream  upstream
}

// newResolver はResolverを生成する。sanitizerがnilの場合は表示名をそのまま保存する。
func newResolver(store repository.AccountStore, sanitizer NameSanitizer, u upstream) *Resolver {
	return &Resolver{
		store:     store,
		sanitizer: sanitizer,
		upstream:  u,
	}
}

// Resolve はidentityのメールアドレスに対応するアカウントを返す。
// 既存アカウントはメタデータを更新せずそのまま返す。
// 作成時の一意制約違反は別リクエストが先に作成したものとみなし、再検索した結果を返す。
// 返すエラーは常に*model.FlowError。
func (r *Resolver) Resolve(ctx context.Context, identity *model.ProviderIdentity) (*model.Account, error) {
	existing, err := r.find(ctx, identity.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		slog.Info("existing account reused",
			slog.String("account_id", existing.ID),
			slog.String("provider", identity.Provider),
		)
		return existing, nil
	}

	params := r.newAccount(identity)
	created, err := callUpstream(ctx, r.upstream, metrics.CallCreateAccount, func(ctx context.Context) (*model.Account, error) {
		return r.store.Create(ctx, params)
	})

	switch {
	case err == nil:
		r.upstream.metrics.RecordAccountCreated()
		slog.Info("new account created",
			slog.String("account_id", created.ID),
			slog.String("provider", identity.Provider),
		)
		return created, nil

	case errors.Is(err, repository.ErrAccountExists):
		r.upstream.metrics.RecordAccountConflict()
		winner, err := r.find(ctx, identity.Email)
		if err != nil {
			return nil, err
		}
		if winner == nil {
			return nil, model.NewProvisioningError(errors.New("account reported as existing but lookup returned none"))
		}
		slog.Info("concurrent account creation resolved",
			slog.String("account_id", winner.ID),
			slog.String("provider", identity.Provider),
		)
		return winner, nil

	default:
		return nil, storeError(err)
	}
}

func (r *Resolver) find(ctx context.Context, email string) (*model.Account, error) {
	account, err := callUpstream(ctx, r.upstream, metrics.CallFindAccount, func(ctx context.Context) (*model.Account, error) {
		return r.store.FindByEmail(ctx, email)
	})
	if err != nil {
		return nil, storeError(fmt.Errorf("failed to find account: %w", err))
	}
	return account, nil
}

// newAccount はクレームから新規アカウントの作成パラメータを組み立てる。
func (r *Resolver) newAccount(identity *model.ProviderIdentity) *model.NewAccount {
	fullName := identity.Name
	if r.sanitizer != nil {
		fullName = r.sanitizer.Sanitize(fullName)
	}

	return &model.NewAccount{
		Email:          identity.Email,
		EmailConfirmed: true,
		Metadata: model.AccountMetadata{
			Provider:   identity.Provider,
			ProviderID: identity.Subject,
			FullName:   fullName,
			Username:   DeriveUsername(identity.Email, identity.Subject),
		},
	}
}

// storeError はアカウント解決中のストアエラーを分類する。
func storeError(err error) error {
	if isTimeout(err) {
		return model.NewStoreTimeoutError(model.StageResolvingAccount, err)
	}
	return model.NewProvisioningError(err)
}

// DeriveUsername はメールアドレスの@より前の部分をユーザー名として返す。
// それが空の場合は "user_<subject>" を返す。
func DeriveUsername(email, subject string) string {
	local, _, _ := strings.Cut(email, "@")
	if local != "" {
		return local
	}
	return "user_" + subject
}
