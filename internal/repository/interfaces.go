// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/recipeman/internal/model"
)

// ErrNotFound は更新・削除対象のレコードが存在しない場合に返す。
var ErrNotFound = errors.New("record not found")

// ErrDuplicateEmail は同じメールアドレスのユーザーが既に存在する場合に返す。
var ErrDuplicateEmail = errors.New("email already registered")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はパスワード登録ユーザーを作成する。
	// メールアドレスが重複する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// Link は既存ユーザーにidentityを紐付ける。既に紐付いている場合はErrIdentityLinkedを返す。
	Link(ctx context.Context, identity *model.Identity) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired はbefore時点で期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ProductRepository はレシピコレクションの永続化インターフェース。
// コレクション全体の読み出しと1件単位の作成・更新・削除のみを提供する。
type ProductRepository interface {
	// FindAll は全レシピを作成順に返す。
	FindAll(ctx context.Context) ([]model.Product, error)
	// Create はレシピを作成し、採番したIDを含むProductを返す。
	Create(ctx context.Context, fields model.ProductFields) (model.Product, error)
	// Update は指定IDのレシピに部分更新を適用する。存在しない場合はErrNotFoundを返す。
	Update(ctx context.Context, id string, fields model.ProductFields) error
	// Delete は指定IDのレシピを削除する。存在しない場合はErrNotFoundを返す。
	Delete(ctx context.Context, id string) error
}
