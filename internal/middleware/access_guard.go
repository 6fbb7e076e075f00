package middleware

import (
	"errors"
	"log/slog"
	"net/http"
)

// NewAccessGuard はログイン中のリクエストのみを通過させるミドルウェアを返す。
// 未ログインの場合はfallbackPathへ303で1回だけリダイレクトする。
// セッションミドルウェアより内側に配置する。
func NewAccessGuard(fallbackPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := SessionFromContext(r.Context())
			if errors.Is(err, ErrNoSessionProvider) {
				// ルーター構成の誤り
				slog.Error("access guard mounted outside session middleware",
					slog.String("path", r.URL.Path),
				)
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}
			if session == nil {
				http.Redirect(w, r, fallbackPath, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
