package models

import (
	"time"

	"github.com/google/uuid"
)

// Role — роль пользователя в системе.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleUser      Role = "user"
)

// Valid сообщает, известна ли роль.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleModerator, RoleUser:
		return true
	default:
		return false
	}
}

// User — модель пользователя в системе.
//
// PasswordHash хранит bcrypt-дайджест; открытый пароль нигде не сохраняется.
// IsActive=false блокирует вход и обновление сессий.
type User struct {
	ID            uuid.UUID
	Email         string
	Username      string
	Role          Role
	PasswordHash  string
	IsActive      bool
	EmailVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
