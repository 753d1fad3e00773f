// Package repository はIDストアとセッションの永続化インターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/signinbridge/internal/model"
)

// ErrAccountExists は同一メールアドレスのアカウントが既に存在する場合に
// Createが返すエラー。一意制約違反を呼び出し元が「他のリクエストが先に作成した」と
// 判断できるように区別する。
var ErrAccountExists = errors.New("account with this email already exists")

// ErrLinkInvalid はサインインリンクが存在しない、使用済み、または期限切れの場合のエラー。
var ErrLinkInvalid = errors.New("sign-in link is invalid or expired")

// AccountStore は外部IDストアに対するアカウント操作のインターフェース。
// メールアドレスの一意性はストア側で保証する。
type AccountStore interface {
	// FindByEmail はメールアドレスが完全一致するアカウントを取得する。
	// 比較の大文字小文字の扱いはストアに従う。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Account, error)

	// Create はアカウントを作成する。
	// 同一メールアドレスが既に存在する場合はErrAccountExistsを返す。
	Create(ctx context.Context, params *model.NewAccount) (*model.Account, error)

	// GenerateSignInLink はアカウントに紐づく使い捨てのサインインリンクを発行する。
	// redirectToはサインイン完了後の遷移先。
	GenerateSignInLink(ctx context.Context, account *model.Account, redirectTo string) (*model.SignInLink, error)
}

// RedeemedLink は償還済みサインインリンクの内容。
type RedeemedLink struct {
	AccountID  string
	RedirectTo string
}

// LinkRedeemer はローカルIDストアが発行したサインインリンクを償還するインターフェース。
// 外部ストア（GoTrue）は自身で償還するため実装しない。
type LinkRedeemer interface {
	// Redeem はトークンに対応する未使用かつ有効期限内のリンクを使用済みにして返す。
	// 該当リンクがない場合はErrLinkInvalidを返す。
	Redeem(ctx context.Context, token string) (*RedeemedLink, error)
}

// AccountFinder はIDでアカウントを取得するインターフェース。
type AccountFinder interface {
	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Account, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}
