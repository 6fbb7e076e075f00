// Package handler はHTTPハンドラーとページ描画を提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/recipeman/internal/auth"
	"github.com/hitoshi/recipeman/internal/middleware"
	"github.com/hitoshi/recipeman/internal/model"
)

const oauthStateCookie = "oauth_state"

// AuthGateway は認証ハンドラーが必要とする認証操作。auth.Gatewayが満たす。
// 失敗はResult.Success=falseとメッセージで返り、エラーは返さない。
type AuthGateway interface {
	EmailLogin(ctx context.Context, email, password string) auth.Result
	GoogleLoginURL(state string) string
	GoogleCallback(ctx context.Context, code string) auth.Result
	Register(ctx context.Context, email, password string) auth.Result
	Logout(ctx context.Context, sessionID string) auth.Result
}

// SessionTokenIssuer はセッションCookieに入れる署名付きトークンを発行する。
type SessionTokenIssuer interface {
	Issue(session *model.Session) (string, error)
}

// CurrentUserFinder はセッションIDからユーザーを取得する。
type CurrentUserFinder interface {
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int    // セッションCookieの有効期間（秒）
	AfterLogin    string // ログイン後の遷移先
}

// AuthHandler はログイン・新規登録・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	gateway  AuthGateway
	tokens   SessionTokenIssuer
	users    CurrentUserFinder
	renderer *Renderer
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(gateway AuthGateway, tokens SessionTokenIssuer, users CurrentUserFinder, renderer *Renderer, config AuthHandlerConfig) *AuthHandler {
	if config.AfterLogin == "" {
		config.AfterLogin = "/dashboard"
	}
	return &AuthHandler{
		gateway:  gateway,
		tokens:   tokens,
		users:    users,
		renderer: renderer,
		config:   config,
	}
}

// LoginPage はログインフォームを表示する。ログイン済みならログイン後の画面へ遷移する。
// GET /login
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	if signedIn(r) {
		http.Redirect(w, r, h.config.AfterLogin, http.StatusSeeOther)
		return
	}
	h.renderer.Render(w, http.StatusOK, pageLogin, basePageData(r, "ログイン"))
}

// Login はメールアドレスとパスワードでログインする。
// POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.PostFormValue("email"))
	result := h.gateway.EmailLogin(r.Context(), email, r.PostFormValue("password"))
	h.complete(w, r, result, pageLogin, "ログイン", email)
}

// RegisterPage は新規登録フォームを表示する。
// GET /register
func (h *AuthHandler) RegisterPage(w http.ResponseWriter, r *http.Request) {
	if signedIn(r) {
		http.Redirect(w, r, h.config.AfterLogin, http.StatusSeeOther)
		return
	}
	h.renderer.Render(w, http.StatusOK, pageRegister, basePageData(r, "新規登録"))
}

// Register はメールアドレスとパスワードで新規登録してログインする。
// POST /register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.PostFormValue("email"))
	result := h.gateway.Register(r.Context(), email, r.PostFormValue("password"))
	h.complete(w, r, result, pageRegister, "新規登録", email)
}

// GoogleLogin はGoogle OAuthフローを開始する。
// GET /auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.gateway.GoogleLoginURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback はOAuthコールバックを処理する。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch",
			slog.String("query_state", state),
		)
		http.Error(w, "invalid state parameter", http.StatusBadRequest)
		return
	}

	// stateクッキーを削除
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing authorization code", http.StatusBadRequest)
		return
	}

	// 3. 認証処理
	result := h.gateway.GoogleCallback(r.Context(), code)
	h.complete(w, r, result, pageLogin, "ログイン", "")
}

// Logout はセッションを破棄してトップへ遷移する。
// POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session, err := middleware.SessionFromContext(r.Context())
	if err == nil && session != nil {
		// 失敗してもCookieはクリアする
		h.gateway.Logout(r.Context(), session.ID)
	}

	h.clearSessionCookie(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	session, err := middleware.SessionFromContext(r.Context())
	if err != nil || session == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	user, err := h.users.GetCurrentUser(r.Context(), session.ID)
	if err != nil {
		if errors.Is(err, auth.ErrSessionNotFound) {
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		slog.Error("failed to get current user", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":    user.ID,
		"email": user.Email,
		"name":  user.Name,
	})
}

// complete は認証結果に応じてCookieを設定して遷移するか、フォームを再表示する。
func (h *AuthHandler) complete(w http.ResponseWriter, r *http.Request, result auth.Result, page, title, email string) {
	if !result.Success || result.Session == nil {
		data := basePageData(r, title)
		data.Email = email
		data.Error = result.Message
		h.renderer.Render(w, http.StatusUnauthorized, page, data)
		return
	}

	token, err := h.tokens.Issue(result.Session)
	if err != nil {
		slog.Error("failed to issue session token", slog.String("error", err.Error()))
		h.renderer.RenderError(w, http.StatusInternalServerError, basePageData(r, title), "ログイン処理に失敗しました。")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.config.AfterLogin, http.StatusSeeOther)
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func signedIn(r *http.Request) bool {
	session, err := middleware.SessionFromContext(r.Context())
	return err == nil && session != nil
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
