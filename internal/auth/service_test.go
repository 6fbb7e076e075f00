package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/recipeman/internal/model"
	"github.com/hitoshi/recipeman/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn           func(ctx context.Context, id string) (*model.User, error)
	findByEmailFn        func(ctx context.Context, email string) (*model.User, error)
	createFn             func(ctx context.Context, user *model.User) error
	createWithIdentityFn func(ctx context.Context, user *model.User, identity *model.Identity) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	if m.createWithIdentityFn != nil {
		return m.createWithIdentityFn(ctx, user, identity)
	}
	return nil
}

type mockIdentityRepo struct {
	findByProviderFn func(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
	linkFn           func(ctx context.Context, identity *model.Identity) error
}

func (m *mockIdentityRepo) Link(ctx context.Context, identity *model.Identity) error {
	if m.linkFn != nil {
		return m.linkFn(ctx, identity)
	}
	return nil
}

func (m *mockIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	if m.findByProviderFn != nil {
		return m.findByProviderFn(ctx, provider, providerUserID)
	}
	return nil, nil
}

type mockSessionRepo struct {
	createFn        func(ctx context.Context, session *model.Session) error
	findByIDFn      func(ctx context.Context, id string) (*model.Session, error)
	deleteByIDFn    func(ctx context.Context, id string) error
	deleteExpiredFn func(ctx context.Context, before time.Time) (int64, error)
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	if m.deleteExpiredFn != nil {
		return m.deleteExpiredFn(ctx, before)
	}
	return 0, nil
}

type mockOAuthProvider struct {
	getLoginURLFn  func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (*OAuthUserInfo, error)
}

func (m *mockOAuthProvider) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return nil, nil
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.IdentityRepository = (*mockIdentityRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ OAuthProvider = (*mockOAuthProvider)(nil)

func newTestService(oauth OAuthProvider, users *mockUserRepo, idents *mockIdentityRepo, sessions *mockSessionRepo) (*Service, *Notifier) {
	n := NewNotifier()
	if users == nil {
		users = &mockUserRepo{}
	}
	if idents == nil {
		idents = &mockIdentityRepo{}
	}
	if sessions == nil {
		sessions = &mockSessionRepo{}
	}
	return NewService(oauth, users, idents, sessions, n, ServiceConfig{SessionMaxAge: 86400}), n
}

// --- テスト ---

func TestGetLoginURL_ReturnsOAuthURL(t *testing.T) {
	provider := &mockOAuthProvider{
		getLoginURLFn: func(state string) string {
			return "https://accounts.google.com/o/oauth2/auth?state=" + state
		},
	}
	svc, _ := newTestService(provider, nil, nil, nil)

	want := "https://accounts.google.com/o/oauth2/auth?state=test-state"
	if got := svc.GetLoginURL("test-state"); got != want {
		t.Errorf("GetLoginURL() = %q, want %q", got, want)
	}
}

func TestSignUpWithPassword_CreatesUserAndSession(t *testing.T) {
	var created *model.User
	var saved *model.Session
	users := &mockUserRepo{createFn: func(ctx context.Context, user *model.User) error {
		created = user
		return nil
	}}
	sessions := &mockSessionRepo{createFn: func(ctx context.Context, s *model.Session) error {
		saved = s
		return nil
	}}
	svc, _ := newTestService(nil, users, nil, sessions)

	session, err := svc.SignUpWithPassword(context.Background(), " cook@example.com ", "secret123")
	if err != nil {
		t.Fatalf("SignUpWithPassword() error = %v", err)
	}
	if created == nil {
		t.Fatal("expected user to be created")
	}
	if created.Email != "cook@example.com" {
		t.Errorf("email = %q, want %q", created.Email, "cook@example.com")
	}
	if created.Name != "cook" {
		t.Errorf("name = %q, want %q", created.Name, "cook")
	}
	if created.PasswordHash == "" || created.PasswordHash == "secret123" {
		t.Errorf("password hash = %q, want bcrypt hash", created.PasswordHash)
	}
	if !checkPassword(created.PasswordHash, "secret123") {
		t.Error("stored hash does not match password")
	}
	if saved == nil || session.ID != saved.ID || session.UserID != created.ID {
		t.Errorf("session = %+v, want saved session for created user", session)
	}
	if len(session.ID) != 64 {
		t.Errorf("session ID length = %d, want 64", len(session.ID))
	}
}

func TestSignUpWithPassword_ValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		wantErr  error
	}{
		{"invalid email", "not-an-email", "secret123", ErrInvalidEmail},
		{"display name form", "Cook <cook@example.com>", "secret123", ErrInvalidEmail},
		{"short password", "cook@example.com", "12345", ErrWeakPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := &mockUserRepo{createFn: func(ctx context.Context, user *model.User) error {
				t.Error("user must not be created")
				return nil
			}}
			svc, _ := newTestService(nil, users, nil, nil)

			_, err := svc.SignUpWithPassword(context.Background(), tt.email, tt.password)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSignUpWithPassword_DuplicateEmail(t *testing.T) {
	users := &mockUserRepo{createFn: func(ctx context.Context, user *model.User) error {
		return repository.ErrDuplicateEmail
	}}
	svc, _ := newTestService(nil, users, nil, nil)

	_, err := svc.SignUpWithPassword(context.Background(), "cook@example.com", "secret123")
	if !errors.Is(err, ErrEmailTaken) {
		t.Errorf("error = %v, want ErrEmailTaken", err)
	}
}

func TestSignInWithPassword(t *testing.T) {
	hash, err := hashPassword("secret123")
	if err != nil {
		t.Fatalf("hashPassword() error = %v", err)
	}
	stored := &model.User{ID: "user-1", Email: "cook@example.com", PasswordHash: hash}

	tests := []struct {
		name     string
		user     *model.User
		password string
		wantErr  error
	}{
		{"correct password", stored, "secret123", nil},
		{"wrong password", stored, "wrong-pass", ErrInvalidCredentials},
		{"unknown user", nil, "secret123", ErrInvalidCredentials},
		{"google-only user", &model.User{ID: "user-2", Email: "cook@example.com"}, "secret123", ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := &mockUserRepo{findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
				return tt.user, nil
			}}
			svc, _ := newTestService(nil, users, nil, nil)

			session, err := svc.SignInWithPassword(context.Background(), "cook@example.com", tt.password)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && session.UserID != "user-1" {
				t.Errorf("session.UserID = %q, want %q", session.UserID, "user-1")
			}
		})
	}
}

func TestSignInWithPassword_RepoError(t *testing.T) {
	users := &mockUserRepo{findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
		return nil, errors.New("db down")
	}}
	svc, _ := newTestService(nil, users, nil, nil)

	_, err := svc.SignInWithPassword(context.Background(), "cook@example.com", "secret123")
	if err == nil || errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("error = %v, want wrapped repository error", err)
	}
}

func TestHandleCallback_NewUser_CreatesUserAndIdentityAndSession(t *testing.T) {
	provider := &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return &OAuthUserInfo{ProviderUserID: "google-123", Email: "cook@gmail.com", Name: "Cook", Provider: ProviderGoogle}, nil
		},
	}
	var gotUser *model.User
	var gotIdentity *model.Identity
	users := &mockUserRepo{createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity) error {
		gotUser, gotIdentity = user, identity
		return nil
	}}
	svc, _ := newTestService(provider, users, nil, nil)

	session, err := svc.HandleCallback(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if gotUser == nil || gotIdentity == nil {
		t.Fatal("expected user and identity to be created")
	}
	if gotIdentity.UserID != gotUser.ID {
		t.Errorf("identity.UserID = %q, want %q", gotIdentity.UserID, gotUser.ID)
	}
	if gotIdentity.Provider != ProviderGoogle || gotIdentity.ProviderUserID != "google-123" {
		t.Errorf("identity = %+v, want google/google-123", gotIdentity)
	}
	if session.UserID != gotUser.ID {
		t.Errorf("session.UserID = %q, want %q", session.UserID, gotUser.ID)
	}
}

func TestHandleCallback_ExistingUser_LogsIn(t *testing.T) {
	provider := &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return &OAuthUserInfo{ProviderUserID: "google-123", Provider: ProviderGoogle}, nil
		},
	}
	idents := &mockIdentityRepo{findByProviderFn: func(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
		return &model.Identity{UserID: "existing-user"}, nil
	}}
	users := &mockUserRepo{createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity) error {
		t.Error("existing user must not be re-created")
		return nil
	}}
	svc, _ := newTestService(provider, users, idents, nil)

	session, err := svc.HandleCallback(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if session.UserID != "existing-user" {
		t.Errorf("session.UserID = %q, want %q", session.UserID, "existing-user")
	}
}

func TestHandleCallback_OAuthError_ReturnsError(t *testing.T) {
	provider := &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return nil, errors.New("invalid_grant")
		},
	}
	svc, _ := newTestService(provider, nil, nil, nil)

	if _, err := svc.HandleCallback(context.Background(), "bad"); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestHandleCallback_EmailTakenByPasswordUser(t *testing.T) {
	provider := &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return &OAuthUserInfo{ProviderUserID: "g", Email: "cook@example.com", Provider: ProviderGoogle}, nil
		},
	}
	users := &mockUserRepo{createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity) error {
		return repository.ErrDuplicateEmail
	}}
	svc, _ := newTestService(provider, users, nil, nil)

	_, err := svc.HandleCallback(context.Background(), "code")
	if !errors.Is(err, ErrEmailTaken) {
		t.Errorf("error = %v, want ErrEmailTaken", err)
	}
}

func TestSignIn_PublishesSignedInEvent(t *testing.T) {
	hash, _ := hashPassword("secret123")
	users := &mockUserRepo{findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
		return &model.User{ID: "user-1", PasswordHash: hash}, nil
	}}
	svc, _ := newTestService(nil, users, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := svc.Subscribe(ctx)
	if ev := <-events; ev.Kind != EventSnapshot {
		t.Fatalf("first event = %v, want snapshot", ev.Kind)
	}

	session, err := svc.SignInWithPassword(ctx, "cook@example.com", "secret123")
	if err != nil {
		t.Fatalf("SignInWithPassword() error = %v", err)
	}

	select {
	case ev := <-events:
		if ev.Kind != EventSignedIn || ev.Session.ID != session.ID {
			t.Errorf("event = %+v, want signed_in for %s", ev, session.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for signed_in event")
	}
}

func TestSignOut_DeletesSessionAndPublishes(t *testing.T) {
	var deleted string
	sessions := &mockSessionRepo{deleteByIDFn: func(ctx context.Context, id string) error {
		deleted = id
		return nil
	}}
	svc, _ := newTestService(nil, nil, nil, sessions)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := svc.Subscribe(ctx)
	<-events

	if err := svc.SignOut(ctx, "sess-1"); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if deleted != "sess-1" {
		t.Errorf("deleted = %q, want %q", deleted, "sess-1")
	}
	ev := <-events
	if ev.Kind != EventSignedOut || ev.Session.ID != "sess-1" {
		t.Errorf("event = %+v, want signed_out for sess-1", ev)
	}
}

func TestSignOut_EmptySessionID_ReturnsError(t *testing.T) {
	svc, _ := newTestService(nil, nil, nil, nil)

	if err := svc.SignOut(context.Background(), ""); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestSignOut_RepoError_DoesNotPublish(t *testing.T) {
	sessions := &mockSessionRepo{deleteByIDFn: func(ctx context.Context, id string) error {
		return errors.New("db down")
	}}
	svc, _ := newTestService(nil, nil, nil, sessions)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := svc.Subscribe(ctx)
	<-events

	if err := svc.SignOut(ctx, "sess-1"); err == nil {
		t.Fatal("expected error, got nil")
	}
	select {
	case ev := <-events:
		t.Errorf("unexpected event %+v", ev)
	default:
	}
}

func TestFindSession_EmptyIDReturnsNil(t *testing.T) {
	sessions := &mockSessionRepo{findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
		t.Error("repository must not be called for empty ID")
		return nil, nil
	}}
	svc, _ := newTestService(nil, nil, nil, sessions)

	session, err := svc.FindSession(context.Background(), "")
	if err != nil || session != nil {
		t.Errorf("FindSession(\"\") = %v, %v, want nil, nil", session, err)
	}
}

func TestGetCurrentUser_ValidSession_ReturnsUser(t *testing.T) {
	sessions := &mockSessionRepo{findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
		return &model.Session{ID: id, UserID: "user-1"}, nil
	}}
	users := &mockUserRepo{findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
		return &model.User{ID: id, Email: "cook@example.com"}, nil
	}}
	svc, _ := newTestService(nil, users, nil, sessions)

	user, err := svc.GetCurrentUser(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("GetCurrentUser() error = %v", err)
	}
	if user.ID != "user-1" {
		t.Errorf("user.ID = %q, want %q", user.ID, "user-1")
	}
}

func TestGetCurrentUser_ExpiredSession_ReturnsError(t *testing.T) {
	svc, _ := newTestService(nil, nil, nil, nil)

	_, err := svc.GetCurrentUser(context.Background(), "expired")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("error = %v, want ErrSessionNotFound", err)
	}
}

func TestGetCurrentUser_EmptySessionID_ReturnsError(t *testing.T) {
	svc, _ := newTestService(nil, nil, nil, nil)

	if _, err := svc.GetCurrentUser(context.Background(), ""); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestHandleCallback_VerifiedEmail_LinksExistingUser(t *testing.T) {
	provider := &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return &OAuthUserInfo{ProviderUserID: "g-1", Email: "cook@example.com", EmailVerified: true, Provider: ProviderGoogle}, nil
		},
	}
	createCalled := false
	users := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{ID: "user-1", Email: email}, nil
		},
		createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity) error {
			createCalled = true
			return nil
		},
	}
	var linked *model.Identity
	idents := &mockIdentityRepo{linkFn: func(ctx context.Context, identity *model.Identity) error {
		linked = identity
		return nil
	}}
	svc, _ := newTestService(provider, users, idents, nil)

	session, err := svc.HandleCallback(context.Background(), "code")
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if session.UserID != "user-1" {
		t.Errorf("session.UserID = %q, want user-1", session.UserID)
	}
	if linked == nil || linked.UserID != "user-1" || linked.ProviderUserID != "g-1" {
		t.Errorf("linked identity = %+v", linked)
	}
	if createCalled {
		t.Error("should not create a new user when linking")
	}
}

func TestHandleCallback_UnverifiedEmail_DoesNotLink(t *testing.T) {
	provider := &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return &OAuthUserInfo{ProviderUserID: "g-1", Email: "cook@example.com", Provider: ProviderGoogle}, nil
		},
	}
	users := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			t.Error("unverified email must not be looked up for linking")
			return nil, nil
		},
		createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity) error {
			return repository.ErrDuplicateEmail
		},
	}
	idents := &mockIdentityRepo{linkFn: func(ctx context.Context, identity *model.Identity) error {
		t.Error("Link should not be called")
		return nil
	}}
	svc, _ := newTestService(provider, users, idents, nil)

	if _, err := svc.HandleCallback(context.Background(), "code"); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("error = %v, want ErrEmailTaken", err)
	}
}

func TestHandleCallback_LinkFailure_ReturnsError(t *testing.T) {
	provider := &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return &OAuthUserInfo{ProviderUserID: "g-1", Email: "cook@example.com", EmailVerified: true, Provider: ProviderGoogle}, nil
		},
	}
	users := &mockUserRepo{findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
		return &model.User{ID: "user-1"}, nil
	}}
	idents := &mockIdentityRepo{linkFn: func(ctx context.Context, identity *model.Identity) error {
		return repository.ErrIdentityLinked
	}}
	svc, _ := newTestService(provider, users, idents, nil)

	if _, err := svc.HandleCallback(context.Background(), "code"); !errors.Is(err, repository.ErrIdentityLinked) {
		t.Errorf("error = %v, want ErrIdentityLinked", err)
	}
}
