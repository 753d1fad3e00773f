// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"net/http"
)

// ErrorKind はコールバック処理の失敗分類を表す。
type ErrorKind string

// 定義済みエラー分類
const (
	KindClient       ErrorKind = "client_error"
	KindUpstream     ErrorKind = "upstream_error"
	KindValidation   ErrorKind = "validation_error"
	KindProvisioning ErrorKind = "provisioning_error"
	KindLink         ErrorKind = "link_error"
	KindUnhandled    ErrorKind = "unhandled_fault"
)

// Stage はコールバック1リクエストの処理段階を表す。
// 各段階は一度だけ通過し、失敗時は即座に終端する。
type Stage string

// 処理段階
const (
	StageValidatingRequest Stage = "validating_request"
	StageExchangingCode    Stage = "exchanging_code"
	StageFetchingIdentity  Stage = "fetching_identity"
	StageResolvingAccount  Stage = "resolving_account"
	StageMintingLink       Stage = "minting_link"
	StageRedirecting       Stage = "redirecting"
)

// 公開メッセージ。ブラウザはステータスしか見ないため運用者向けの短い文言とする。
const (
	MsgMissingCode          = "Missing code"
	MsgTokenExchangeFailed  = "Token exchange failed"
	MsgUserinfoFailed       = "Userinfo failed"
	MsgEmailRequired        = "Email required"
	MsgCreateUserFailed     = "Create user failed"
	MsgMagicLinkFailed      = "Magic link failed"
	MsgIdentityStoreTimeout = "Identity store timeout"
	MsgInternalError        = "Internal server error"
)

// FlowError はコールバック処理の失敗を表す。
// Messageはレスポンスボディに載せる公開文言、Errは内部の原因でログにのみ記録する。
type FlowError struct {
	Kind    ErrorKind
	Stage   Stage
	Message string
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *FlowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *FlowError) Unwrap() error {
	return e.Err
}

// StatusCode は失敗分類に対応するHTTPステータスコードを返す。
func (e *FlowError) StatusCode() int {
	switch e.Kind {
	case KindClient, KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// NewMissingCodeError は認可コード欠落エラーを生成する。
func NewMissingCodeError() *FlowError {
	return &FlowError{
		Kind:    KindClient,
		Stage:   StageValidatingRequest,
		Message: MsgMissingCode,
	}
}

// NewTokenExchangeError はトークン交換失敗エラーを生成する。
func NewTokenExchangeError(err error) *FlowError {
	return &FlowError{
		Kind:    KindUpstream,
		Stage:   StageExchangingCode,
		Message: MsgTokenExchangeFailed,
		Err:     err,
	}
}

// NewUserinfoError はuserinfo取得失敗エラーを生成する。
func NewUserinfoError(err error) *FlowError {
	return &FlowError{
		Kind:    KindUpstream,
		Stage:   StageFetchingIdentity,
		Message: MsgUserinfoFailed,
		Err:     err,
	}
}

// NewEmailRequiredError はemailクレーム欠落エラーを生成する。
func NewEmailRequiredError() *FlowError {
	return &FlowError{
		Kind:    KindValidation,
		Stage:   StageFetchingIdentity,
		Message: MsgEmailRequired,
	}
}

// NewProvisioningError はアカウント作成（または検索）失敗エラーを生成する。
func NewProvisioningError(err error) *FlowError {
	return &FlowError{
		Kind:    KindProvisioning,
		Stage:   StageResolvingAccount,
		Message: MsgCreateUserFailed,
		Err:     err,
	}
}

// NewSignInLinkError はサインインリンク発行失敗エラーを生成する。
func NewSignInLinkError(err error) *FlowError {
	return &FlowError{
		Kind:    KindLink,
		Stage:   StageMintingLink,
		Message: MsgMagicLinkFailed,
		Err:     err,
	}
}

// NewStoreTimeoutError はIDストア呼び出しのタイムアウトを上流エラーとして生成する。
func NewStoreTimeoutError(stage Stage, err error) *FlowError {
	return &FlowError{
		Kind:    KindUpstream,
		Stage:   stage,
		Message: MsgIdentityStoreTimeout,
		Err:     err,
	}
}

// NewUnhandledError は分類外の失敗を生成する。公開メッセージは常に汎用文言。
func NewUnhandledError(stage Stage, err error) *FlowError {
	return &FlowError{
		Kind:    KindUnhandled,
		Stage:   stage,
		Message: MsgInternalError,
		Err:     err,
	}
}
