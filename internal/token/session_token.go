// Package token はセッションCookieに載せる署名付きトークンを発行・検証する。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/recipeman/internal/model"
)

// ErrInvalidToken はトークンの署名・期限・形式が不正な場合に返す。
var ErrInvalidToken = errors.New("invalid session token")

// typeSession はセッショントークンの種別。
const typeSession = "session"

// Claims はセッショントークンのクレーム。
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	UserID    string `json:"uid"`
	TokenType string `json:"typ"`
}

// SessionTokens はセッションCookie値の発行・検証を行う。
type SessionTokens struct {
	secret []byte
	now    func() time.Time
}

// NewSessionTokens はHMAC鍵secretでSessionTokensを生成する。
func NewSessionTokens(secret string) *SessionTokens {
	return &SessionTokens{secret: []byte(secret), now: time.Now}
}

// Issue はセッションの有効期限を持つ署名付きトークンを返す。
func (t *SessionTokens) Issue(session *model.Session) (string, error) {
	if session == nil || session.ID == "" {
		return "", fmt.Errorf("session is required")
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(t.now()),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
		SessionID: session.ID,
		UserID:    session.UserID,
		TokenType: typeSession,
	})

	signed, err := tok.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Parse はトークンを検証し、セッションIDとユーザーIDを返す。
func (t *SessionTokens) Parse(tokenString string) (sessionID, userID string, err error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("wrong signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now), jwt.WithExpirationRequired())
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid || claims.TokenType != typeSession || claims.SessionID == "" {
		return "", "", ErrInvalidToken
	}
	return claims.SessionID, claims.UserID, nil
}
