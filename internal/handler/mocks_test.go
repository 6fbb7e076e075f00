package handler

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/recipeman/internal/auth"
	"github.com/hitoshi/recipeman/internal/middleware"
	"github.com/hitoshi/recipeman/internal/model"
	"github.com/hitoshi/recipeman/internal/recipe"
	"github.com/hitoshi/recipeman/internal/storage/minio"
)

// --- 認証 ---

type mockAuthGateway struct {
	emailLoginFn     func(ctx context.Context, email, password string) auth.Result
	googleLoginURLFn func(state string) string
	googleCallbackFn func(ctx context.Context, code string) auth.Result
	registerFn       func(ctx context.Context, email, password string) auth.Result
	logoutFn         func(ctx context.Context, sessionID string) auth.Result
}

func (m *mockAuthGateway) EmailLogin(ctx context.Context, email, password string) auth.Result {
	if m.emailLoginFn != nil {
		return m.emailLoginFn(ctx, email, password)
	}
	return auth.Result{}
}

func (m *mockAuthGateway) GoogleLoginURL(state string) string {
	if m.googleLoginURLFn != nil {
		return m.googleLoginURLFn(state)
	}
	return "https://accounts.google.com/o/oauth2/auth?state=" + state
}

func (m *mockAuthGateway) GoogleCallback(ctx context.Context, code string) auth.Result {
	if m.googleCallbackFn != nil {
		return m.googleCallbackFn(ctx, code)
	}
	return auth.Result{}
}

func (m *mockAuthGateway) Register(ctx context.Context, email, password string) auth.Result {
	if m.registerFn != nil {
		return m.registerFn(ctx, email, password)
	}
	return auth.Result{}
}

func (m *mockAuthGateway) Logout(ctx context.Context, sessionID string) auth.Result {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return auth.Result{Success: true}
}

// mockTokens はセッションIDをそのままトークンとして扱う。
type mockTokens struct {
	issueErr error
}

func (m *mockTokens) Issue(session *model.Session) (string, error) {
	if m.issueErr != nil {
		return "", m.issueErr
	}
	return "token-" + session.ID, nil
}

func (m *mockTokens) Parse(token string) (string, string, error) {
	return token, "", nil
}

type mockUsers struct {
	getCurrentUserFn func(ctx context.Context, sessionID string) (*model.User, error)
}

func (m *mockUsers) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx, sessionID)
	}
	return nil, auth.ErrSessionNotFound
}

// mockResolver は固定のセッション表から解決する。
type mockResolver struct {
	sessions map[string]*model.Session
}

func (m *mockResolver) Ready() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (m *mockResolver) Resolve(_ context.Context, id string) (*model.Session, error) {
	return m.sessions[id], nil
}

// --- レシピ ---

type mockProducts struct {
	products []model.Product
	loadErr  error
	loads    int
}

func (m *mockProducts) EnsureLoaded(context.Context) error {
	m.loads++
	return m.loadErr
}

func (m *mockProducts) Products() []model.Product {
	out := make([]model.Product, len(m.products))
	copy(out, m.products)
	return out
}

type mockRecipes struct {
	addFn    func(ctx context.Context, in recipe.Input) (model.Product, error)
	updateFn func(ctx context.Context, id string, in recipe.Input) error
	deleteFn func(ctx context.Context, id string) error
}

func (m *mockRecipes) Add(ctx context.Context, in recipe.Input) (model.Product, error) {
	if m.addFn != nil {
		return m.addFn(ctx, in)
	}
	return model.Product{ID: "new"}, nil
}

func (m *mockRecipes) Update(ctx context.Context, id string, in recipe.Input) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, in)
	}
	return nil
}

func (m *mockRecipes) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

// --- 画像 ---

type mockImages struct {
	uploadFn func(ctx context.Context, r io.Reader) (string, error)
	mirrorFn func(ctx context.Context, rawURL string) (string, error)
	openFn   func(ctx context.Context, key string) (io.ReadCloser, minio.ObjectInfo, error)
	maxSize  int64
}

func (m *mockImages) Upload(ctx context.Context, r io.Reader) (string, error) {
	if m.uploadFn != nil {
		return m.uploadFn(ctx, r)
	}
	return "uploaded.png", nil
}

func (m *mockImages) Mirror(ctx context.Context, rawURL string) (string, error) {
	if m.mirrorFn != nil {
		return m.mirrorFn(ctx, rawURL)
	}
	return "mirrored.png", nil
}

func (m *mockImages) Open(ctx context.Context, key string) (io.ReadCloser, minio.ObjectInfo, error) {
	if m.openFn != nil {
		return m.openFn(ctx, key)
	}
	return io.NopCloser(bytes.NewReader(nil)), minio.ObjectInfo{}, nil
}

func (m *mockImages) MaxSize() int64 {
	return m.maxSize
}

// --- 運用 ---

type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(context.Context) error {
	return m.err
}

// --- ヘルパー ---

func mustRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	return r
}

func testSession() *model.Session {
	return &model.Session{
		ID:        "session-1",
		UserID:    "user-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

// withSession はセッションミドルウェアを通過した状態のリクエストを返す。sessionがnilなら未ログイン。
func withSession(r *http.Request, session *model.Session) *http.Request {
	return r.WithContext(middleware.ContextWithSession(r.Context(), session))
}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
