// Package auth はメール・パスワード認証、OAuth認証フロー、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/recipeman/internal/model"
	"github.com/hitoshi/recipeman/internal/repository"
)

var (
	// ErrInvalidCredentials はメールアドレスまたはパスワードが一致しない場合に返す。
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmailTaken は登録済みのメールアドレスで登録しようとした場合に返す。
	ErrEmailTaken = errors.New("email already in use")
	// ErrSessionNotFound はセッションが存在しないか期限切れの場合に返す。
	ErrSessionNotFound = errors.New("session not found or expired")
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
	Provider       string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
// セッションの発行・破棄はNotifierを通じて購読者へ通知する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	notifier    *Notifier
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。notifierがnilの場合は新しいNotifierを使う。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	notifier *Notifier,
	config ServiceConfig,
) *Service {
	if notifier == nil {
		notifier = NewNotifier()
	}
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		notifier:    notifier,
		config:      config,
		now:         time.Now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// SignInWithPassword はメールアドレスとパスワードで認証し、セッションを発行する。
func (s *Service) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	// Google専用ユーザーはパスワードを持たない
	if user == nil || !user.HasPassword() || !checkPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	return s.signIn(ctx, user.ID)
}

// SignUpWithPassword はメールアドレスとパスワードでユーザーを登録し、セッションを発行する。
func (s *Service) SignUpWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	// 1. 入力検証
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	// 2. ユーザー作成
	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}
	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         displayName(email),
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	slog.Info("new user registered",
		slog.String("user_id", user.ID),
		slog.String("provider", "password"),
	)

	// 3. セッション発行
	return s.signIn(ctx, user.ID)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 未登録のidentityはprovisionFederatedUserでユーザーに対応付ける。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. 登録済みidentityを検索
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, userInfo.Provider, userInfo.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	userID := ""
	if identity != nil {
		userID = identity.UserID
	} else {
		userID, err = s.provisionFederatedUser(ctx, userInfo)
		if err != nil {
			return nil, err
		}
	}

	// 3. セッション発行
	return s.signIn(ctx, userID)
}

// provisionFederatedUser は未登録のidentityに対応するユーザーを用意し、そのIDを返す。
// 確認済みメールアドレスが既存ユーザーと一致する場合はidentityを紐付ける。
// それ以外はusersとidentitiesを同時に作成する。
func (s *Service) provisionFederatedUser(ctx context.Context, info *OAuthUserInfo) (string, error) {
	now := s.now()
	identity := &model.Identity{
		ID:             uuid.New().String(),
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      now,
	}

	// 1. 確認済みメールアドレスの既存ユーザーへ紐付け
	if info.EmailVerified && info.Email != "" {
		existing, err := s.userRepo.FindByEmail(ctx, info.Email)
		if err != nil {
			return "", fmt.Errorf("failed to find user by email: %w", err)
		}
		if existing != nil {
			identity.UserID = existing.ID
			if err := s.identRepo.Link(ctx, identity); err != nil {
				return "", fmt.Errorf("failed to link identity: %w", err)
			}
			slog.Info("identity linked to existing user",
				slog.String("user_id", existing.ID),
				slog.String("provider", info.Provider),
			)
			return existing.ID, nil
		}
	}

	// 2. 新規ユーザー
	user := &model.User{
		ID:        uuid.New().String(),
		Email:     info.Email,
		Name:      info.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	identity.UserID = user.ID
	if err := s.userRepo.CreateWithIdentity(ctx, user, identity); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return "", ErrEmailTaken
		}
		return "", fmt.Errorf("failed to create user and identity: %w", err)
	}
	slog.Info("new user registered",
		slog.String("user_id", user.ID),
		slog.String("provider", info.Provider),
	)
	return user.ID, nil
}

// SignOut はセッションを破棄し、EventSignedOutを通知する。
func (s *Service) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	s.notifier.Publish(SessionEvent{Kind: EventSignedOut, Session: &model.Session{ID: sessionID}})
	slog.Info("user signed out")
	return nil
}

// FindSession は有効なセッションを返す。存在しない場合は(nil, nil)を返す。
func (s *Service) FindSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, nil
	}
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return session, nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}

	session, err := s.FindSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user not found")
	}
	return user, nil
}

// Subscribe はセッションイベントの購読を開始する。
func (s *Service) Subscribe(ctx context.Context) <-chan SessionEvent {
	return s.notifier.Subscribe(ctx)
}

// LatestSeq は最後に通知したセッションイベントの通番を返す。
func (s *Service) LatestSeq() uint64 {
	return s.notifier.LatestSeq()
}

// signIn はセッションを作成・永続化し、EventSignedInを通知する。
func (s *Service) signIn(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	copied := *session
	s.notifier.Publish(SessionEvent{Kind: EventSignedIn, Session: &copied})
	slog.Info("user signed in", slog.String("user_id", userID))
	return session, nil
}

// displayName はメールアドレスのローカル部を表示名として返す。
func displayName(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
