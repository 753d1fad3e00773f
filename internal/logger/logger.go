package logger

import (
	"io"
	"log/slog"
	"os"
)

// redactedKeys は値をログに出力しない属性キー。
// アクセストークンやクライアントシークレットは保存もログ出力もしない。
var redactedKeys = map[string]struct{}{
	"access_token":  {},
	"client_secret": {},
	"code":          {},
	"admin_key":     {},
	"token":         {},
	"action_link":   {},
}

const redactedValue = "[REDACTED]"

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// levelがnilの場合はInfoレベルとする。
func Setup(w io.Writer, level slog.Leveler) *slog.Logger {
	if level == nil {
		level = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redact,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// writerがnilの場合はos.Stdoutに出力する。
func SetupDefault(w io.Writer, level slog.Leveler) {
	if w == nil {
		w = os.Stdout
	}
	logger := Setup(w, level)
	slog.SetDefault(logger)
}

// redact は秘匿キーの値を置換する。グループ内の属性にも適用される。
func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := redactedKeys[a.Key]; ok {
		return slog.String(a.Key, redactedValue)
	}
	return a
}
