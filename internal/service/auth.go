package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-news-aggregator/session-service/internal/metrics"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/models"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/notify"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/pkg/log"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/pkg/redact"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/storage"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/token"
)

// dummyPassword хэшируется один раз и сравнивается при входе несуществующего
// пользователя, чтобы время ответа не выдавало наличие учётной записи.
const dummyPassword = "session-service/dummy-password"

// RegisterInput — данные регистрации.
type RegisterInput struct {
	Email    string
	Username string
	Password string
}

// Register создаёт пользователя с ролью user. Если подтверждение e-mail
// включено, в той же транзакции выпускается токен подтверждения, а письмо
// отправляется после фиксации; сбой отправки не влияет на результат.
// При выключенном подтверждении пользователь создаётся уже подтверждённым.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	const op = "service.auth.Register"

	email, err := validateEmail(in.Email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	username, err := validateUsername(in.Username)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := validatePassword(in.Password); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.ensureAvailable(ctx, email, username); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.clock()
	user := &models.User{
		ID:            uuid.New(),
		Email:         email,
		Username:      username,
		Role:          models.RoleUser,
		PasswordHash:  digest,
		IsActive:      true,
		EmailVerified: !s.cfg.EmailVerificationEnabled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var verification string
	err = s.storage.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.storage.SaveUser(ctx, user); err != nil {
			return err
		}

		if !s.cfg.EmailVerificationEnabled {
			return nil
		}

		tok, err := s.IssueVerificationToken(ctx, user.ID)
		if err != nil {
			return err
		}

		verification = tok
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, s.takenError(ctx, username))
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("user_registered",
		slog.String("user_id", user.ID.String()),
		slog.String("email", redact.Email(user.Email)),
		slog.Bool("email_verified", user.EmailVerified),
	)

	if verification != "" {
		s.deliver(ctx, notify.NoticeVerification, user, func(ctx context.Context) error {
			return s.notifier.SendVerificationEmail(ctx, user, verification)
		})
	}

	return user, nil
}

// ensureAvailable проверяет занятость email и имени до дорогого хэширования пароля.
// Окончательно уникальность гарантирует хранилище.
func (s *Service) ensureAvailable(ctx context.Context, email, username string) error {
	if _, err := s.storage.UserByEmail(ctx, email); err == nil {
		return ErrEmailTaken
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	if _, err := s.storage.UserByUsername(ctx, username); err == nil {
		return ErrUsernameTaken
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	return nil
}

// takenError уточняет, какое поле заняла конкурентная регистрация.
func (s *Service) takenError(ctx context.Context, username string) error {
	if _, err := s.storage.UserByUsername(ctx, username); err == nil {
		return ErrUsernameTaken
	}

	return ErrEmailTaken
}

// Login проверяет учётные данные и выпускает новую пару токенов.
// Существующие сессии пользователя не затрагиваются.
//
// Неизвестный email, неверный пароль и некорректный формат адреса дают
// одинаковую ErrInvalidCredentials; статус активности раскрывается только
// после успешной проверки пароля.
func (s *Service) Login(ctx context.Context, email, password string) (*models.TokenPair, *models.User, error) {
	const op = "service.auth.Login"

	user, err := s.storage.UserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.hasher.Verify(password, s.dummy())
			s.metrics.Login(metrics.ResultInvalidCredentials)
			return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		s.metrics.Login(metrics.ResultInvalidCredentials)
		return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if !user.IsActive {
		s.metrics.Login(metrics.ResultInactive)
		return nil, nil, fmt.Errorf("%s: %w", op, ErrAccountInactive)
	}

	pair, err := s.IssuePair(ctx, user)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.Login(metrics.ResultOK)
	log.From(ctx).Info("user_logged_in", slog.String("user_id", user.ID.String()))

	return pair, user, nil
}

// IssuePair выпускает access+refresh для пользователя и сохраняет запись refresh-токена.
func (s *Service) IssuePair(ctx context.Context, user *models.User) (*models.TokenPair, error) {
	const op = "service.auth.IssuePair"

	pair, record, err := s.mintPair(user)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.storage.SaveRefreshToken(ctx, record); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.Issued(string(token.TypeAccess))
	s.metrics.Issued(string(token.TypeRefresh))

	return pair, nil
}

// CurrentUser возвращает актуальную запись пользователя по ID из access-токена.
// Ошибки: ErrUserNotFound, ErrAccountInactive.
func (s *Service) CurrentUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	const op = "service.auth.CurrentUser"

	user, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !user.IsActive {
		return nil, fmt.Errorf("%s: %w", op, ErrAccountInactive)
	}

	return user, nil
}

// ValidateAccessToken проверяет access-токен и возвращает его claims.
// Ошибки: ErrTokenExpired, ErrTokenInvalid.
func (s *Service) ValidateAccessToken(_ context.Context, accessToken string) (*token.Claims, error) {
	const op = "service.auth.ValidateAccessToken"

	claims, err := s.codec.VerifyAccess(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return claims, nil
}

// mintPair подписывает пару и готовит запись refresh-токена (без сохранения).
func (s *Service) mintPair(user *models.User) (*models.TokenPair, *models.RefreshToken, error) {
	access, accessExp, err := s.codec.IssueAccessToken(token.ClaimsFromUser(user))
	if err != nil {
		return nil, nil, err
	}

	refresh, refreshExp, err := s.codec.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, nil, err
	}

	pair := &models.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}
	record := &models.RefreshToken{
		TokenHash: token.Hash(refresh),
		UserID:    user.ID,
		CreatedAt: s.clock(),
		ExpiresAt: refreshExp,
	}

	return pair, record, nil
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyDigest, _ = s.hasher.Hash(dummyPassword)
	})

	return s.dummyDigest
}
