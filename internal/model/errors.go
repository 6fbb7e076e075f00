// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, recipe, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeProductNotFound  = "PRODUCT_NOT_FOUND"
	ErrCodeInvalidProduct   = "INVALID_PRODUCT"
	ErrCodeInvalidImageURL  = "INVALID_IMAGE_URL"
	ErrCodeImageTooLarge    = "IMAGE_TOO_LARGE"
	ErrCodeCacheUnavailable = "CACHE_UNAVAILABLE"
	ErrCodeUserNotFound     = "USER_NOT_FOUND"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewProductNotFoundError はレシピ未検出エラーを生成する。
func NewProductNotFoundError(productID string) *APIError {
	return &APIError{
		Code:     ErrCodeProductNotFound,
		Message:  fmt.Sprintf("指定されたレシピが見つかりません: %s", productID),
		Category: "recipe",
		Action:   "レシピ一覧を再読み込みしてください。",
	}
}

// NewInvalidProductError はレシピ入力の検証エラーを生成する。
func NewInvalidProductError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidProduct,
		Message:  fmt.Sprintf("レシピの入力内容が正しくありません: %s", reason),
		Category: "validation",
		Action:   "タイトルと説明を入力してください。",
	}
}

// NewInvalidImageURLError は画像URLの検証エラーを生成する。
func NewInvalidImageURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidImageURL,
		Message:  fmt.Sprintf("無効な画像URLです: %s", reason),
		Category: "validation",
		Action:   "http:// または https:// で始まる公開URLを入力してください。",
	}
}

// NewImageTooLargeError は画像サイズ超過エラーを生成する。
func NewImageTooLargeError(maxSize int64) *APIError {
	return &APIError{
		Code:     ErrCodeImageTooLarge,
		Message:  fmt.Sprintf("画像サイズが上限（%dバイト）を超えています。", maxSize),
		Category: "validation",
		Action:   "小さい画像を選択してください。",
	}
}

// NewCacheUnavailableError はレシピスナップショットが読めない場合のエラーを生成する。
func NewCacheUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeCacheUnavailable,
		Message:  "レシピ一覧を読み込めませんでした。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}
