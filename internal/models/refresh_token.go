package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken — запись о refresh-токене (одна запись = одна сессия).
//
// TokenHash — SHA-256 отпечаток токена (открытое значение не хранится).
// RevokedAt != nil означает терминальное состояние; ReplacedByHash
// заполняется при ротации и образует цепочку сессии.
type RefreshToken struct {
	TokenHash      string
	UserID         uuid.UUID
	CreatedAt      time.Time
	ExpiresAt      time.Time
	RevokedAt      *time.Time
	ReplacedByHash *string
}

// State возвращает состояние записи на момент now.
// Отзыв приоритетнее истечения.
func (t *RefreshToken) State(now time.Time) TokenState {
	if t.RevokedAt != nil {
		return TokenRevoked
	}

	if !now.Before(t.ExpiresAt) {
		return TokenExpired
	}

	return TokenActive
}

// Rotated сообщает, был ли токен отозван в результате ротации.
func (t *RefreshToken) Rotated() bool {
	return t.RevokedAt != nil && t.ReplacedByHash != nil
}
