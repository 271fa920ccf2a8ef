package models

import (
	"time"

	"github.com/google/uuid"
)

// TokenKind — вид одноразового токена.
type TokenKind string

const (
	KindEmailVerification TokenKind = "email_verification"
	KindPasswordReset     TokenKind = "password_reset"
)

// OneTimeToken — одноразовый токен подтверждения e-mail или сброса пароля.
// На пользователя допускается не более одной записи каждого вида.
type OneTimeToken struct {
	Kind      TokenKind
	TokenHash string
	UserID    uuid.UUID
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// State возвращает состояние записи на момент now.
func (t *OneTimeToken) State(now time.Time) TokenState {
	if t.UsedAt != nil {
		return TokenUsed
	}

	if !now.Before(t.ExpiresAt) {
		return TokenExpired
	}

	return TokenActive
}
