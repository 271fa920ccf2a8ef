package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-news-aggregator/session-service/internal/metrics"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/models"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/pkg/log"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/pkg/redact"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/storage"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/token"
)

// Refresh обменивает refresh-токен на новую пару (ротация).
//
// Порядок проверок: запись в хранилище (нет или отозвана → ErrInvalidRefreshToken,
// истекла → ErrRefreshTokenExpired), затем подпись JWT и владелец. Новая пара
// выпускается по актуальным данным пользователя. Сохранение новой записи и отзыв
// старой со ссылкой на новую выполняются атомарно в RotateRefreshToken: из
// конкурентных ротаций одного токена успешна ровно одна.
//
// Повторное предъявление ротированного токена по умолчанию неотличимо от
// неизвестного. С auth.refresh_reuse_detection оно отзывает все сессии
// пользователя и возвращает ErrRefreshTokenReuse.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	const op = "service.session.Refresh"

	if refreshToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
	}

	now := s.clock()
	hash := token.Hash(refreshToken)

	record, err := s.storage.ActiveRefreshToken(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, s.rejectRefresh(ctx, hash))
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if record.State(now) == models.TokenExpired {
		s.metrics.Rotation(metrics.ResultExpired)
		return nil, fmt.Errorf("%s: %w", op, ErrRefreshTokenExpired)
	}

	claims, err := s.codec.VerifyRefresh(refreshToken)
	if err != nil {
		if errors.Is(err, token.ErrTokenExpired) {
			s.metrics.Rotation(metrics.ResultExpired)
			return nil, fmt.Errorf("%s: %w", op, ErrRefreshTokenExpired)
		}

		s.metrics.Rotation(metrics.ResultInvalid)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
	}

	if claims.UserID != record.UserID {
		s.metrics.Rotation(metrics.ResultInvalid)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
	}

	user, err := s.storage.UserByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.Rotation(metrics.ResultInvalid)
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !user.IsActive {
		s.metrics.Rotation(metrics.ResultInactive)
		return nil, fmt.Errorf("%s: %w", op, ErrAccountInactive)
	}

	pair, next, err := s.mintPair(user)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.storage.RotateRefreshToken(ctx, hash, next, now); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.Rotation(metrics.ResultInvalid)
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.Rotation(metrics.ResultOK)
	s.metrics.Issued(string(token.TypeAccess))
	s.metrics.Issued(string(token.TypeRefresh))
	log.From(ctx).Debug("refresh_rotated",
		slog.String("user_id", user.ID.String()),
		slog.String("old", redact.Fingerprint(hash)),
		slog.String("new", redact.Fingerprint(next.TokenHash)),
	)

	return pair, nil
}

// rejectRefresh решает, чем ответить на отсутствующий или отозванный токен.
func (s *Service) rejectRefresh(ctx context.Context, hash string) error {
	if !s.cfg.RefreshReuseDetection {
		s.metrics.Rotation(metrics.ResultInvalid)
		return ErrInvalidRefreshToken
	}

	record, err := s.storage.RefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.Rotation(metrics.ResultInvalid)
			return ErrInvalidRefreshToken
		}

		return err
	}

	if !record.Rotated() {
		s.metrics.Rotation(metrics.ResultInvalid)
		return ErrInvalidRefreshToken
	}

	n, err := s.storage.RevokeUserRefreshTokens(ctx, record.UserID, "", s.clock())
	if err != nil {
		return err
	}

	s.metrics.Rotation(metrics.ResultReuse)
	s.metrics.Revoked(metrics.ReasonReuse, n)
	log.From(ctx).Warn("refresh_reuse_detected",
		slog.String("user_id", record.UserID.String()),
		slog.String("token", redact.Fingerprint(hash)),
		slog.Int64("revoked", n),
	)

	return ErrRefreshTokenReuse
}

// Logout отзывает предъявленный refresh-токен. Неизвестный или уже
// отозванный токен не считается ошибкой; наружу уходят только сбои хранилища.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	const op = "service.session.Logout"

	if refreshToken == "" {
		return nil
	}

	revoked, err := s.storage.RevokeRefreshToken(ctx, token.Hash(refreshToken), nil, s.clock())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if revoked {
		s.metrics.Revoked(metrics.ReasonLogout, 1)
	}

	return nil
}

// LogoutAll отзывает все активные refresh-токены пользователя одним обновлением.
func (s *Service) LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	const op = "service.session.LogoutAll"

	n, err := s.storage.RevokeUserRefreshTokens(ctx, userID, "", s.clock())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.Revoked(metrics.ReasonLogoutAll, n)
	log.From(ctx).Info("sessions_revoked",
		slog.String("user_id", userID.String()),
		slog.String("reason", metrics.ReasonLogoutAll),
		slog.Int64("count", n),
	)

	return n, nil
}

// ListSessions возвращает активные (неотозванные и неистёкшие) сессии пользователя,
// новые первыми.
func (s *Service) ListSessions(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error) {
	const op = "service.session.ListSessions"

	sessions, err := s.storage.ActiveRefreshTokensByUser(ctx, userID, s.clock())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return sessions, nil
}
