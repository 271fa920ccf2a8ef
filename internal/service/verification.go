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
)

// IssueVerificationToken выпускает токен подтверждения e-mail
// (срок auth.email_verification_expiry, по умолчанию 24 часа),
// удаляя прежние токены пользователя.
func (s *Service) IssueVerificationToken(ctx context.Context, userID uuid.UUID) (string, error) {
	const op = "service.verification.IssueVerificationToken"

	tok, err := s.issueOneTime(ctx, models.KindEmailVerification, userID, s.cfg.EmailVerificationExpiry)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return tok, nil
}

// ConsumeVerificationToken гасит токен подтверждения и возвращает ID владельца.
// Ошибки: ErrInvalidVerificationToken, ErrVerificationTokenExpired.
func (s *Service) ConsumeVerificationToken(ctx context.Context, tok string) (uuid.UUID, error) {
	const op = "service.verification.ConsumeVerificationToken"

	userID, err := s.consumeOneTime(ctx, models.KindEmailVerification, tok, verificationErrors)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	return userID, nil
}

// VerifyEmail гасит токен и отмечает адрес подтверждённым в одной транзакции,
// затем отправляет приветственное письмо. Строка пользователя меняется раньше
// строки токена, как при выдаче и сбросе пароля.
func (s *Service) VerifyEmail(ctx context.Context, tok string) (*models.User, error) {
	const op = "service.verification.VerifyEmail"

	var user *models.User
	err := s.storage.WithinTx(ctx, func(ctx context.Context) error {
		record, err := s.lookupOneTime(ctx, models.KindEmailVerification, tok, verificationErrors)
		if err != nil {
			return err
		}

		now := s.clock()
		if err := s.storage.SetEmailVerified(ctx, record.UserID, true, now); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrInvalidVerificationToken
			}
			return err
		}

		marked, err := s.storage.MarkOneTimeTokenUsed(ctx, models.KindEmailVerification, record.TokenHash, now)
		if err != nil {
			return err
		}
		if !marked {
			s.metrics.Consumed(string(models.KindEmailVerification), metrics.ResultInvalid)
			return ErrInvalidVerificationToken
		}

		user, err = s.userForOneTime(ctx, record.UserID, verificationErrors)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.Consumed(string(models.KindEmailVerification), metrics.ResultOK)
	log.From(ctx).Info("email_verified", slog.String("user_id", user.ID.String()))

	s.deliver(ctx, notify.NoticeWelcome, user, func(ctx context.Context) error {
		return s.notifier.SendWelcomeNotice(ctx, user)
	})

	return user, nil
}

// ResendVerification выпускает новый токен и отправляет письмо.
// Неизвестный и неактивный адрес дают тот же успешный результат, что и
// известный; для уже подтверждённого адреса возвращается ErrEmailAlreadyVerified.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	const op = "service.verification.ResendVerification"

	addr, err := validateEmail(email)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.storage.UserByEmail(ctx, addr)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.From(ctx).Debug("resend_verification_unknown_email", slog.String("email", redact.Email(addr)))
			return nil
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if user.EmailVerified {
		return fmt.Errorf("%s: %w", op, ErrEmailAlreadyVerified)
	}

	if !user.IsActive {
		return nil
	}

	tok, err := s.IssueVerificationToken(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.deliver(ctx, notify.NoticeVerification, user, func(ctx context.Context) error {
		return s.notifier.SendVerificationEmail(ctx, user, tok)
	})

	return nil
}
