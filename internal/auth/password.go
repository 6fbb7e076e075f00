package auth

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	// minPasswordLength はパスワードの最小文字数。
	minPasswordLength = 6
	// maxPasswordBytes はbcryptが扱えるパスワードの最大バイト数。
	maxPasswordBytes = 72
)

var (
	// ErrInvalidEmail はメールアドレスの形式が不正な場合に返す。
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrWeakPassword はパスワードが要件を満たさない場合に返す。
	ErrWeakPassword = errors.New("password does not meet requirements")
)

// normalizeEmail はメールアドレスを検証し、前後の空白を除いて返す。
func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// validatePassword は登録時のパスワード要件を検証する。
func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return fmt.Errorf("%w: at least %d characters", ErrWeakPassword, minPasswordLength)
	}
	if len(password) > maxPasswordBytes {
		return fmt.Errorf("%w: at most %d bytes", ErrWeakPassword, maxPasswordBytes)
	}
	return nil
}

// hashPassword はbcryptでパスワードをハッシュ化する。
func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// checkPassword はハッシュとパスワードが一致するかを返す。
func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
