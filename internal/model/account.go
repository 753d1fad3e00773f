// Package model はドメインモデルを定義する。
package model

import "time"

// ProviderIdentity はIdPのuserinfoエンドポイントから取得したクレームを表す。
// アカウント新規作成時の属性の正とし、既存アカウントとの再照合は行わない。
type ProviderIdentity struct {
	Provider string // "consentkeys" 等、設定されたプロバイダー名
	Subject  string // sub クレーム
	Email    string
	Name     string // 表示名（任意）
}

// AccountMetadata はアカウント作成時に付与するメタデータ。
// 作成後にこのフローから更新されることはない。
type AccountMetadata struct {
	Provider   string `json:"provider"`
	ProviderID string `json:"provider_id"`
	FullName   string `json:"full_name,omitempty"`
	Username   string `json:"username"`
}

// Account はIDストアに永続化されたアカウントを表す。
// メールアドレスが自然キーで、1メールにつき高々1件しか作成されない。
type Account struct {
	ID             string
	Email          string
	EmailConfirmed bool
	Metadata       AccountMetadata
	CreatedAt      time.Time
}

// NewAccount はアカウント作成リクエストのパラメータ。
type NewAccount struct {
	Email          string
	EmailConfirmed bool
	Metadata       AccountMetadata
}

// SignInLink はアカウントに紐づく使い捨てのサインインリンクを表す。
// コールバックごとに新規発行し、キャッシュや再利用はしない。
type SignInLink struct {
	URL       string
	AccountID string
	ExpiresAt time.Time // ストアが有効期限を返さない場合はゼロ値
}

// Session はサインインリンク償還後のログインセッションを表す。
// postgresドライバーのみが使用する。
type Session struct {
	ID        string
	AccountID string
	ExpiresAt time.Time
	CreatedAt time.Time
}
