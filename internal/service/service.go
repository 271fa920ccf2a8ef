// service содержит жизненный цикл учётных данных и сессий:
// выпуск пары access/refresh, ротацию и отзыв refresh-токенов,
// одноразовые токены подтверждения e-mail и сброса пароля, смену пароля
// и периодическую очистку просроченных записей.
//
// Основные аспекты:
//   - Service не хранит состояние между вызовами; всё разделяемое состояние
//     живёт в storage.Storage, экземпляр безопасен для конкурентного использования.
//   - Операции «прочитать и изменить» (ротация, погашение одноразового токена)
//     атомарны на уровне хранилища: условное обновление или транзакция.
//   - Ошибки — сентинелы ниже; транспорт маппит их на стабильные коды
//     (см. internal/errors). Сбои отправки уведомлений логируются и не
//     прерывают операцию.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pribylovaa/go-news-aggregator/session-service/internal/config"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/metrics"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/models"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/notify"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/password"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/pkg/log"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/storage"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/token"
)

var (
	// ErrInvalidCredentials — пара email/пароль неверна или пользователь не найден.
	// Транспорт: HTTP 401 invalid_credentials.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrAccountInactive — учётная запись заблокирована (is_active=false).
	// Транспорт: HTTP 403 account_inactive.
	ErrAccountInactive = errors.New("account is inactive")

	// ErrUserNotFound — пользователь, на которого ссылается операция, не существует.
	// Транспорт: HTTP 404 user_not_found.
	ErrUserNotFound = errors.New("user not found")

	// ErrTokenExpired / ErrTokenInvalid — результат проверки access-токена.
	// Транспорт: HTTP 401 token_expired / token_invalid.
	ErrTokenExpired = token.ErrTokenExpired
	ErrTokenInvalid = token.ErrTokenInvalid

	// ErrInvalidRefreshToken — refresh-токен отсутствует, отозван или подпись неверна.
	// Транспорт: HTTP 401 invalid_refresh_token.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrRefreshTokenExpired — запись найдена, но срок истёк.
	// Транспорт: HTTP 401 refresh_token_expired.
	ErrRefreshTokenExpired = errors.New("refresh token has expired")

	// ErrRefreshTokenReuse — предъявлен уже ротированный refresh-токен;
	// все сессии пользователя отозваны. Только при auth.refresh_reuse_detection.
	// Транспорт: HTTP 401 invalid_refresh_token (наружу не отличается).
	ErrRefreshTokenReuse = errors.New("refresh token reuse detected")

	// ErrInvalidVerificationToken / ErrVerificationTokenExpired — подтверждение e-mail.
	// Транспорт: HTTP 400.
	ErrInvalidVerificationToken = errors.New("invalid verification token")
	ErrVerificationTokenExpired = errors.New("verification token has expired")

	// ErrInvalidResetToken / ErrResetTokenExpired — сброс пароля.
	// Транспорт: HTTP 400.
	ErrInvalidResetToken = errors.New("invalid reset token")
	ErrResetTokenExpired = errors.New("reset token has expired")

	// ErrEmailTaken / ErrUsernameTaken — нарушение уникальности при регистрации.
	// Транспорт: HTTP 409.
	ErrEmailTaken    = errors.New("email already registered")
	ErrUsernameTaken = errors.New("username already taken")

	// ErrEmailNotVerified — маршрут требует подтверждённый e-mail.
	// Транспорт: HTTP 403 email_not_verified.
	ErrEmailNotVerified = errors.New("email verification required")

	// ErrEmailAlreadyVerified — повторная отправка письма для подтверждённого адреса.
	// Транспорт: HTTP 409 email_already_verified.
	ErrEmailAlreadyVerified = errors.New("email is already verified")

	// Ошибки валидации входных данных. Транспорт: HTTP 400 invalid_argument.
	ErrInvalidEmail    = errors.New("invalid email format")
	ErrInvalidUsername = errors.New("username must be 3-30 alphanumeric characters")
	ErrEmptyPassword   = errors.New("password is empty")
	ErrWeakPassword    = errors.New("password is too weak")
	ErrPasswordTooLong = errors.New("password is too long")
)

// PasswordHasher — хэширование паролей (bcrypt в internal/password).
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, digest string) bool
}

// Notifier — отправка писем (internal/notify). Вызовы не должны
// блокироваться дольше таймаута контекста.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, user *models.User, token string) error
	SendPasswordResetEmail(ctx context.Context, user *models.User, token string) error
	SendPasswordChangedNotice(ctx context.Context, user *models.User) error
	SendWelcomeNotice(ctx context.Context, user *models.User) error
}

// Service описывает жизненный цикл токенов и учётных данных.
type Service struct {
	storage  storage.Storage
	codec    *token.Codec
	cfg      config.AuthConfig
	hasher   PasswordHasher
	notifier Notifier
	metrics  *metrics.Metrics
	now      func() time.Time

	dummyOnce   sync.Once
	dummyDigest string
}

// Option настраивает Service.
type Option func(*Service)

// WithHasher подменяет хэширование паролей (по умолчанию bcrypt с cfg.BcryptCost).
func WithHasher(h PasswordHasher) Option {
	return func(s *Service) { s.hasher = h }
}

// WithNotifier задаёт отправку писем (по умолчанию notify.LogNotifier).
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics включает счётчики prometheus.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock подменяет источник времени для проверки сроков.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New создаёт новый экземпляр Service.
func New(st storage.Storage, codec *token.Codec, cfg config.AuthConfig, opts ...Option) *Service {
	s := &Service{
		storage:  st,
		codec:    codec,
		cfg:      cfg,
		hasher:   password.New(cfg.BcryptCost),
		notifier: notify.LogNotifier{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// notifyTimeout — бюджет одной отправки, не зависящий от бюджета запроса.
// Больше таймаута SMTP-клиента в internal/notify.
const notifyTimeout = 15 * time.Second

// deliver вызывает send и глотает ошибку: уведомления не влияют на исход операции.
// Отправка идёт после фиксации транзакции, поэтому отмена или deadline запроса
// её не прерывают; логгер и прочие значения контекста сохраняются.
func (s *Service) deliver(ctx context.Context, notice notify.Notice, user *models.User, send func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := send(ctx); err != nil {
		s.metrics.NotifyFailed(string(notice))
		log.From(ctx).Warn("notify_failed",
			slog.String("notice", string(notice)),
			slog.String("user_id", user.ID.String()),
			slog.String("err", err.Error()),
		)
	}
}
