// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/signinbridge/internal/middleware"
	"github.com/hitoshi/signinbridge/internal/model"
)

// CallbackServiceInterface はコールバックハンドラーが必要とするサービスインターフェース。
type CallbackServiceInterface interface {
	HandleCallback(ctx context.Context, code string) (*model.SignInLink, error)
}

// CallbackHandler はIdPからのOAuthコールバックを受け付けるハンドラー。
// 認可コードの有無を確認してからサービスに処理を委譲し、結果をリダイレクトまたはエラーに変換する。
type CallbackHandler struct {
	service CallbackServiceInterface
	logger  *slog.Logger
}

// NewCallbackHandler はCallbackHandlerを生成する。
func NewCallbackHandler(service CallbackServiceInterface, logger *slog.Logger) *CallbackHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CallbackHandler{
		service: service,
		logger:  logger,
	}
}

// Callback はOAuthコールバックを処理する。
// GET /auth/callback?code=xxx
// POST /auth/callback（response_mode=form_post、codeはフォームボディ）
// プリフライトはCORSミドルウェアが応答するため、ここには到達しない。
func (h *CallbackHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// FormValueはフォームボディを優先し、なければクエリを参照する
	code := r.FormValue("code")
	if code == "" {
		if providerErr := r.FormValue("error"); providerErr != "" {
			h.logger.Warn("provider returned an error instead of a code",
				slog.String("provider_error", providerErr),
				slog.String("request_id", chimw.GetReqID(r.Context())),
			)
		}
		middleware.WriteFlowError(w, model.NewMissingCodeError())
		return
	}

	link, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("sign-in link issued",
		slog.String("account_id", link.AccountID),
		slog.String("request_id", chimw.GetReqID(r.Context())),
	)
	http.Redirect(w, r, link.URL, http.StatusFound)
}

// writeError はエラーをログに記録し、公開メッセージのみをレスポンスに書き込む。
func (h *CallbackHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var flowErr *model.FlowError
	if !errors.As(err, &flowErr) {
		h.logger.Error("callback failed with unclassified error",
			slog.String("error", err.Error()),
			slog.String("request_id", chimw.GetReqID(r.Context())),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	level := slog.LevelError
	if flowErr.StatusCode() < http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	attrs := []any{
		slog.String("kind", string(flowErr.Kind)),
		slog.String("stage", string(flowErr.Stage)),
		slog.String("request_id", chimw.GetReqID(r.Context())),
	}
	if flowErr.Err != nil {
		attrs = append(attrs, slog.String("error", flowErr.Err.Error()))
	}
	h.logger.Log(r.Context(), level, "callback failed", attrs...)

	middleware.WriteFlowError(w, flowErr)
}
