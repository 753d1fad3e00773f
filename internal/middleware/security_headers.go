package middleware

import "net/http"

// NewSecurityHeadersMiddleware はすべてのレスポンスに共通のセキュリティヘッダーを付与する。
// 応答はリダイレクト・プレーンテキスト・JSONのみのため、CSPで一切のサブリソースを禁止する。
// サインインリンクを含むLocationがキャッシュやRefererから漏れないよう、no-storeとno-referrerを付ける。
// hstsはHTTPSで公開している場合のみtrueにする。
func NewSecurityHeadersMiddleware(hsts bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			if hsts {
				h.Set("Strict-Transport-Security", "max-age=31536000")
			}
			next.ServeHTTP(w, r)
		})
	}
}
