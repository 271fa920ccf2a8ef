// storage описывает контракт хранилища пользователей и токенов
// (refresh, подтверждение e-mail, сброс пароля).
//
// Токены адресуются отпечатком (token.Hash), открытые значения не хранятся.
package storage

//go:generate mockgen -source=./storage.go -destination=../../mocks/storage.go -package=mocks

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-news-aggregator/session-service/internal/models"
)

var (
	// ErrNotFound — запись не найдена (пользователь/токен) или уже не активна.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists — нарушение уникальности (email/username/токен).
	ErrAlreadyExists = errors.New("already exists")
)

// UserStorage выполняет операции над пользователями.
type UserStorage interface {
	// SaveUser создаёт нового пользователя.
	SaveUser(ctx context.Context, user *models.User) error
	// UserByID находит пользователя по ID.
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// UserByEmail находит пользователя по email (регистронезависимо).
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	// UserByUsername находит пользователя по имени (регистронезависимо).
	UserByUsername(ctx context.Context, username string) (*models.User, error)
	// UpdatePassword заменяет хэш пароля.
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string, now time.Time) error
	// SetEmailVerified выставляет флаг подтверждения e-mail.
	SetEmailVerified(ctx context.Context, id uuid.UUID, verified bool, now time.Time) error
}

// RefreshTokenStorage выполняет операции над refresh-токенами.
type RefreshTokenStorage interface {
	// SaveRefreshToken сохраняет новую запись.
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error
	// ActiveRefreshToken находит неотозванную запись; срок не проверяется.
	ActiveRefreshToken(ctx context.Context, hash string) (*models.RefreshToken, error)
	// RefreshTokenByHash находит запись в любом состоянии.
	RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error)
	// RevokeRefreshToken отзывает запись; false — уже отозвана или отсутствует.
	RevokeRefreshToken(ctx context.Context, hash string, replacedBy *string, now time.Time) (bool, error)
	// RotateRefreshToken атомарно сохраняет next и отзывает oldHash со ссылкой на next.
	// ErrNotFound — oldHash уже не активен (отозван, истёк или отсутствует).
	RotateRefreshToken(ctx context.Context, oldHash string, next *models.RefreshToken, now time.Time) error
	// RevokeUserRefreshTokens отзывает все активные записи пользователя,
	// кроме exceptHash (если не пустой), одним запросом.
	RevokeUserRefreshTokens(ctx context.Context, userID uuid.UUID, exceptHash string, now time.Time) (int64, error)
	// ActiveRefreshTokensByUser возвращает неотозванные и неистёкшие записи пользователя.
	ActiveRefreshTokensByUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.RefreshToken, error)
	// DeleteExpiredRefreshTokens удаляет записи с expires_at <= now.
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

// OneTimeTokenStorage выполняет операции над одноразовыми токенами.
// Вид токена (kind) выбирает таблицу.
type OneTimeTokenStorage interface {
	// SaveOneTimeToken сохраняет новую запись.
	SaveOneTimeToken(ctx context.Context, token *models.OneTimeToken) error
	// ActiveOneTimeToken находит непогашенную запись; срок не проверяется.
	ActiveOneTimeToken(ctx context.Context, kind models.TokenKind, hash string) (*models.OneTimeToken, error)
	// MarkOneTimeTokenUsed гасит запись; false — уже погашена или отсутствует.
	MarkOneTimeTokenUsed(ctx context.Context, kind models.TokenKind, hash string, now time.Time) (bool, error)
	// DeleteUserOneTimeTokens удаляет все записи пользователя данного вида.
	DeleteUserOneTimeTokens(ctx context.Context, kind models.TokenKind, userID uuid.UUID) (int64, error)
	// DeleteExpiredOneTimeTokens удаляет записи с expires_at <= now.
	DeleteExpiredOneTimeTokens(ctx context.Context, kind models.TokenKind, now time.Time) (int64, error)
}

// Transactor выполняет fn в одной транзакции. Вложенный вызов
// присоединяется к внешней транзакции. Ошибка fn откатывает все изменения.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Storage задаёт контракт работы с хранилищем.
type Storage interface {
	UserStorage
	RefreshTokenStorage
	OneTimeTokenStorage
	Transactor
	Close()
}
