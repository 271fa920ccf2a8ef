package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-news-aggregator/session-service/internal/metrics"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/models"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/storage"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/token"
)

// oneTimeErrors — ошибки конкретного вида одноразового токена.
type oneTimeErrors struct {
	invalid error
	expired error
}

var (
	verificationErrors = oneTimeErrors{invalid: ErrInvalidVerificationToken, expired: ErrVerificationTokenExpired}
	resetErrors        = oneTimeErrors{invalid: ErrInvalidResetToken, expired: ErrResetTokenExpired}
)

// issueOneTime удаляет прежние токены пользователя данного вида и создаёт новый,
// в одной транзакции: у пользователя остаётся ровно один активный токен.
func (s *Service) issueOneTime(ctx context.Context, kind models.TokenKind, userID uuid.UUID, ttlSeconds int) (string, error) {
	plain, err := token.Generate()
	if err != nil {
		return "", err
	}

	now := s.clock()
	record := &models.OneTimeToken{
		Kind:      kind,
		TokenHash: token.Hash(plain),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: token.ExpiryFrom(now, ttlSeconds),
	}

	err = s.storage.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.storage.DeleteUserOneTimeTokens(ctx, kind, userID); err != nil {
			return err
		}

		return s.storage.SaveOneTimeToken(ctx, record)
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrUserNotFound
		}

		return "", err
	}

	s.metrics.Issued(string(kind))

	return plain, nil
}

// lookupOneTime находит активный токен и проверяет срок, не погашая его.
func (s *Service) lookupOneTime(ctx context.Context, kind models.TokenKind, plain string, errs oneTimeErrors) (*models.OneTimeToken, error) {
	if plain == "" {
		return nil, errs.invalid
	}

	record, err := s.storage.ActiveOneTimeToken(ctx, kind, token.Hash(plain))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.Consumed(string(kind), metrics.ResultInvalid)
			return nil, errs.invalid
		}

		return nil, err
	}

	if record.State(s.clock()) == models.TokenExpired {
		s.metrics.Consumed(string(kind), metrics.ResultExpired)
		return nil, errs.expired
	}

	return record, nil
}

// consumeOneTime проверяет и гасит токен условным обновлением. Просроченный
// токен остаётся непогашенным. Проигравший в гонке получает errs.invalid.
func (s *Service) consumeOneTime(ctx context.Context, kind models.TokenKind, plain string, errs oneTimeErrors) (uuid.UUID, error) {
	record, err := s.lookupOneTime(ctx, kind, plain, errs)
	if err != nil {
		return uuid.Nil, err
	}

	marked, err := s.storage.MarkOneTimeTokenUsed(ctx, kind, record.TokenHash, s.clock())
	if err != nil {
		return uuid.Nil, err
	}

	if !marked {
		s.metrics.Consumed(string(kind), metrics.ResultInvalid)
		return uuid.Nil, errs.invalid
	}

	s.metrics.Consumed(string(kind), metrics.ResultOK)

	return record.UserID, nil
}

// userForOneTime загружает владельца токена; пропавший пользователь
// означает недействительный токен.
func (s *Service) userForOneTime(ctx context.Context, userID uuid.UUID, errs oneTimeErrors) (*models.User, error) {
	user, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.invalid
		}

		return nil, err
	}

	return user, nil
}
