package middleware

import (
	"net/http"

	"github.com/hitoshi/signinbridge/internal/model"
)

// WriteFlowError はコールバック失敗をステータスと公開メッセージのプレーンテキストで書き込む。
// ブラウザはステータスしか見ないため、本文は運用者向けの短い文言のみとし原因は含めない。
func WriteFlowError(w http.ResponseWriter, flowErr *model.FlowError) {
	writePlainText(w, flowErr.StatusCode(), flowErr.Message)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	writePlainText(w, http.StatusInternalServerError, model.MsgInternalError)
}

func writePlainText(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(statusCode)
	w.Write([]byte(message))
}
