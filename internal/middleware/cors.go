package middleware

import "net/http"

// AllowedHeaders はブラウザ・Supabaseクライアントが送るリクエストヘッダー。
const AllowedHeaders = "authorization, x-client-info, apikey, content-type"

// NewCORSMiddleware は全レスポンスに許容的なCORSヘッダーを付与するミドルウェアを返す。
// コールバックは任意のオリジンから遷移してくるためワイルドカード(*)を使い、credentialsは許可しない。
// OPTIONSプリフライトリクエストには後段を呼ばずに204で応答する。
// エラーやpanic時のレスポンスにもヘッダーが残るよう、チェーンの最も外側に置く。
func NewCORSMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Headers", AllowedHeaders)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
