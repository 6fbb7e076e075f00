// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/recipeman/internal/model"
)

// SessionCookieName はセッショントークンを保持するCookieの名前。
const SessionCookieName = "recipeman_session"

// ErrNoSessionProvider はセッションミドルウェアを通過していないコンテキストで
// セッションを参照した場合に返す。
var ErrNoSessionProvider = errors.New("session middleware is not mounted")

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// sessionContextKey はリクエストコンテキストにセッション状態を格納するためのキー。
var sessionContextKey = contextKey("session")

// sessionState はセッションの有無を明示的に表す。sessionがnilなら未ログイン。
type sessionState struct {
	session *model.Session
}

// SessionResolver はセッションIDから有効なセッションを解決する。session.Providerが満たす。
type SessionResolver interface {
	Ready() <-chan struct{}
	Resolve(ctx context.Context, sessionID string) (*model.Session, error)
}

// TokenParser はCookieの署名付きトークンを検証する。token.SessionTokensが満たす。
type TokenParser interface {
	Parse(tokenString string) (sessionID, userID string, err error)
}

// NewSessionMiddleware はCookieからセッションを解決してコンテキストに注入するミドルウェアを返す。
// 認証状態の初回確定までレスポンスの生成を保留する。
// 未ログインのリクエストも通過させ、「セッションなし」を注入する。
func NewSessionMiddleware(resolver SessionResolver, tokens TokenParser) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. 認証状態の確定を待つ
			select {
			case <-resolver.Ready():
			case <-r.Context().Done():
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}

			// 2. Cookieのトークンを検証し、セッションを解決
			var session *model.Session
			if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
				sessionID, _, err := tokens.Parse(cookie.Value)
				if err == nil {
					session, err = resolver.Resolve(r.Context(), sessionID)
					if err != nil {
						slog.Error("failed to resolve session",
							slog.String("error", err.Error()),
						)
						session = nil
					}
				}
			}

			// 3. セッション状態をコンテキストに注入
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), session)))
		})
	}
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。
// 未ログインの場合は(nil, nil)を返す。
// セッションミドルウェアを通過していない場合はErrNoSessionProviderを返す。
func SessionFromContext(ctx context.Context) (*model.Session, error) {
	state, ok := ctx.Value(sessionContextKey).(sessionState)
	if !ok {
		return nil, ErrNoSessionProvider
	}
	return state.session, nil
}

// UserIDFromContext はリクエストコンテキストからログイン中のユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	session, err := SessionFromContext(ctx)
	if err != nil {
		return "", err
	}
	if session == nil || session.UserID == "" {
		return "", errors.New("user ID not found in context")
	}
	return session.UserID, nil
}

// ContextWithSession はコンテキストにセッション状態を注入する。sessionがnilなら未ログイン。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, session *model.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sessionState{session: session})
}
