package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pribylovaa/go-news-aggregator/session-service/internal/models"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/pkg/log"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/token"
)

// CleanupReport — сколько просроченных записей удалено по видам токенов.
type CleanupReport struct {
	Refresh           int64
	EmailVerification int64
	PasswordReset     int64
}

// Total — общее число удалённых записей.
func (r CleanupReport) Total() int64 {
	return r.Refresh + r.EmailVerification + r.PasswordReset
}

// DeleteExpiredTokens удаляет записи с истёкшим сроком во всех трёх таблицах.
// Ошибка одной таблицы не мешает очистке остальных; ошибки объединяются.
func (s *Service) DeleteExpiredTokens(ctx context.Context) (CleanupReport, error) {
	const op = "service.cleanup.DeleteExpiredTokens"

	var (
		report CleanupReport
		errs   []error
	)
	now := s.clock()

	n, err := s.storage.DeleteExpiredRefreshTokens(ctx, now)
	if err != nil {
		errs = append(errs, err)
	}
	report.Refresh = n
	s.metrics.ExpiredDeleted(string(token.TypeRefresh), n)

	for _, kind := range []models.TokenKind{models.KindEmailVerification, models.KindPasswordReset} {
		n, err := s.storage.DeleteExpiredOneTimeTokens(ctx, kind, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		s.metrics.ExpiredDeleted(string(kind), n)
		if kind == models.KindEmailVerification {
			report.EmailVerification = n
		} else {
			report.PasswordReset = n
		}
	}

	if err := errors.Join(errs...); err != nil {
		return report, fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("expired_tokens_deleted",
		slog.Int64("refresh", report.Refresh),
		slog.Int64("email_verification", report.EmailVerification),
		slog.Int64("password_reset", report.PasswordReset),
	)

	return report, nil
}
