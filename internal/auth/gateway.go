package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hitoshi/recipeman/internal/metrics"
	"github.com/hitoshi/recipeman/internal/model"
)

// 認証方式。ログとメトリクスのラベルに使う。
const (
	MethodPassword = "password"
	MethodGoogle   = "google"
	MethodRegister = "register"
	MethodLogout   = "logout"
)

// Result は認証操作の結果。失敗時はMessageに利用者向けの説明を入れる。
type Result struct {
	Success bool
	Message string
	Session *model.Session
}

// IdentityService はGatewayが利用する認証サービスのインターフェース。
type IdentityService interface {
	GetLoginURL(state string) string
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	SignUpWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	SignOut(ctx context.Context, sessionID string) error
}

// Gateway は認証サービスの呼び出しをResultに変換する境界。
// サービスのエラーは呼び出し元へ伝播させず、Success=falseとメッセージに変換する。
type Gateway struct {
	svc     IdentityService
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewGateway はGatewayを生成する。
func NewGateway(svc IdentityService, mc metrics.MetricsCollector, logger *slog.Logger) *Gateway {
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{svc: svc, metrics: mc, logger: logger}
}

// EmailLogin はメールアドレスとパスワードでログインする。
func (g *Gateway) EmailLogin(ctx context.Context, email, password string) Result {
	session, err := g.svc.SignInWithPassword(ctx, email, password)
	return g.result(ctx, MethodPassword, session, err)
}

// GoogleLoginURL はGoogleの認証画面URLを返す。
func (g *Gateway) GoogleLoginURL(state string) string {
	return g.svc.GetLoginURL(state)
}

// GoogleCallback はGoogleからのコールバックを処理してログインする。
func (g *Gateway) GoogleCallback(ctx context.Context, code string) Result {
	session, err := g.svc.HandleCallback(ctx, code)
	return g.result(ctx, MethodGoogle, session, err)
}

// Register はメールアドレスとパスワードで新規登録してログインする。
func (g *Gateway) Register(ctx context.Context, email, password string) Result {
	session, err := g.svc.SignUpWithPassword(ctx, email, password)
	return g.result(ctx, MethodRegister, session, err)
}

// Logout はセッションを破棄する。
func (g *Gateway) Logout(ctx context.Context, sessionID string) Result {
	err := g.svc.SignOut(ctx, sessionID)
	return g.result(ctx, MethodLogout, nil, err)
}

func (g *Gateway) result(ctx context.Context, method string, session *model.Session, err error) Result {
	g.metrics.RecordAuthResult(method, err == nil)
	if err != nil {
		g.logger.WarnContext(ctx, "auth operation failed",
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
		return Result{Success: false, Message: messageFor(err)}
	}
	return Result{Success: true, Session: session}
}

// messageFor はエラーを利用者向けメッセージに変換する。
func messageFor(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "メールアドレスまたはパスワードが正しくありません。"
	case errors.Is(err, ErrInvalidEmail):
		return "メールアドレスの形式が正しくありません。"
	case errors.Is(err, ErrWeakPassword):
		return "パスワードは6文字以上72バイト以内で入力してください。"
	case errors.Is(err, ErrEmailTaken):
		return "このメールアドレスは既に登録されています。"
	default:
		return "認証に失敗しました。しばらくしてから再度お試しください。"
	}
}

// compile-time interface check
var _ IdentityService = (*Service)(nil)
