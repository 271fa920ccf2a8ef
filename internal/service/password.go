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

// IssuePasswordResetToken выпускает токен сброса пароля
// (срок auth.password_reset_expiry, по умолчанию 1 час),
// удаляя прежние токены пользователя.
func (s *Service) IssuePasswordResetToken(ctx context.Context, userID uuid.UUID) (string, error) {
	const op = "service.password.IssuePasswordResetToken"

	tok, err := s.issueOneTime(ctx, models.KindPasswordReset, userID, s.cfg.PasswordResetExpiry)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return tok, nil
}

// RequestPasswordReset выпускает токен сброса и отправляет письмо.
// Неизвестный адрес, неактивная учётная запись и сбой отправки дают тот же
// результат, что и успешная отправка.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	const op = "service.password.RequestPasswordReset"

	addr, err := validateEmail(email)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.storage.UserByEmail(ctx, addr)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.From(ctx).Debug("password_reset_unknown_email", slog.String("email", redact.Email(addr)))
			return nil
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if !user.IsActive {
		return nil
	}

	tok, err := s.IssuePasswordResetToken(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.deliver(ctx, notify.NoticePasswordReset, user, func(ctx context.Context) error {
		return s.notifier.SendPasswordResetEmail(ctx, user, tok)
	})

	return nil
}

// CheckResetToken проверяет токен сброса, не погашая его.
// Ошибки: ErrInvalidResetToken, ErrResetTokenExpired.
func (s *Service) CheckResetToken(ctx context.Context, tok string) error {
	const op = "service.password.CheckResetToken"

	if _, err := s.lookupOneTime(ctx, models.KindPasswordReset, tok, resetErrors); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ResetPassword гасит токен сброса и меняет пароль. Смена пароля, погашение
// токена и отзыв всех refresh-токенов пользователя выполняются в одной
// транзакции: либо все три, либо ни одного.
func (s *Service) ResetPassword(ctx context.Context, tok, newPassword string) error {
	const op = "service.password.ResetPassword"

	if err := validatePassword(newPassword); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	// Проверка до хэширования: неверный токен не должен стоить bcrypt.
	if _, err := s.lookupOneTime(ctx, models.KindPasswordReset, tok, resetErrors); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var (
		user    *models.User
		revoked int64
	)
	err = s.storage.WithinTx(ctx, func(ctx context.Context) error {
		record, err := s.lookupOneTime(ctx, models.KindPasswordReset, tok, resetErrors)
		if err != nil {
			return err
		}

		now := s.clock()
		if err := s.storage.UpdatePassword(ctx, record.UserID, digest, now); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrInvalidResetToken
			}
			return err
		}

		marked, err := s.storage.MarkOneTimeTokenUsed(ctx, models.KindPasswordReset, record.TokenHash, now)
		if err != nil {
			return err
		}
		if !marked {
			return ErrInvalidResetToken
		}

		revoked, err = s.storage.RevokeUserRefreshTokens(ctx, record.UserID, "", now)
		if err != nil {
			return err
		}

		user, err = s.userForOneTime(ctx, record.UserID, resetErrors)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.Consumed(string(models.KindPasswordReset), metrics.ResultOK)
	s.metrics.Revoked(metrics.ReasonPasswordReset, revoked)
	log.From(ctx).Info("password_reset",
		slog.String("user_id", user.ID.String()),
		slog.Int64("sessions_revoked", revoked),
	)

	s.deliver(ctx, notify.NoticePasswordChanged, user, func(ctx context.Context) error {
		return s.notifier.SendPasswordChangedNotice(ctx, user)
	})

	return nil
}

// ChangePassword меняет пароль аутентифицированного пользователя после проверки
// текущего и отзывает все его refresh-токены, кроме currentRefresh (сессия
// вызывающего). Пустой currentRefresh отзывает все. Смена и отзыв — одна транзакция.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, next, currentRefresh string) error {
	const op = "service.password.ChangePassword"

	if err := validatePassword(next); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if !s.hasher.Verify(current, user.PasswordHash) {
		return fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	digest, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var except string
	if currentRefresh != "" {
		except = token.Hash(currentRefresh)
	}

	var revoked int64
	err = s.storage.WithinTx(ctx, func(ctx context.Context) error {
		now := s.clock()
		if err := s.storage.UpdatePassword(ctx, userID, digest, now); err != nil {
			return err
		}

		n, err := s.storage.RevokeUserRefreshTokens(ctx, userID, except, now)
		if err != nil {
			return err
		}

		revoked = n
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.Revoked(metrics.ReasonPasswordChange, revoked)
	log.From(ctx).Info("password_changed",
		slog.String("user_id", userID.String()),
		slog.Int64("sessions_revoked", revoked),
	)

	s.deliver(ctx, notify.NoticePasswordChanged, user, func(ctx context.Context) error {
		return s.notifier.SendPasswordChangedNotice(ctx, user)
	})

	return nil
}
