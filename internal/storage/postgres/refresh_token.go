package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pribylovaa/go-news-aggregator/session-service/internal/models"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/storage"
)

const refreshColumns = `token_hash, user_id, created_at, expires_at, revoked_at, replaced_by_hash`

// SaveRefreshToken сохраняет новый refresh-токен в БД.
func (s *Storage) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	const op = "storage.postgres.SaveRefreshToken"

	query := `
		INSERT INTO refresh_tokens(` + refreshColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.conn(ctx).Exec(ctx, query,
		token.TokenHash,
		token.UserID,
		token.CreatedAt,
		token.ExpiresAt,
		token.RevokedAt,
		token.ReplacedByHash,
	)
	if err != nil {
		return mapWriteErr(op, err)
	}

	return nil
}

// ActiveRefreshToken находит неотозванный refresh-токен по хэшу.
// Срок действия не проверяется: это делает сервис, чтобы отличать
// "истёк" от "не существует".
func (s *Storage) ActiveRefreshToken(ctx context.Context, hash string) (*models.RefreshToken, error) {
	const op = "storage.postgres.ActiveRefreshToken"

	query := `SELECT ` + refreshColumns + ` FROM refresh_tokens WHERE token_hash = $1 AND revoked_at IS NULL`

	token, err := scanRefreshToken(s.conn(ctx).QueryRow(ctx, query, hash))
	if err != nil {
		return nil, mapReadErr(op, err)
	}

	return token, nil
}

// RefreshTokenByHash находит refresh-токен по хэшу в любом состоянии.
func (s *Storage) RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	const op = "storage.postgres.RefreshTokenByHash"

	query := `SELECT ` + refreshColumns + ` FROM refresh_tokens WHERE token_hash = $1`

	token, err := scanRefreshToken(s.conn(ctx).QueryRow(ctx, query, hash))
	if err != nil {
		return nil, mapReadErr(op, err)
	}

	return token, nil
}

// RevokeRefreshToken отзывает refresh-токен, если он ещё активен.
// Возвращает:
//
//	(true, nil)  — токен был активен и отозван сейчас;
//	(false, nil) — токен уже отозван или не существует.
func (s *Storage) RevokeRefreshToken(ctx context.Context, hash string, replacedBy *string, now time.Time) (bool, error) {
	const op = "storage.postgres.RevokeRefreshToken"

	query := `
		UPDATE refresh_tokens
		SET revoked_at = $2, replaced_by_hash = COALESCE($3, replaced_by_hash)
		WHERE token_hash = $1 AND revoked_at IS NULL
	`

	tag, err := s.conn(ctx).Exec(ctx, query, hash, now, replacedBy)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected() == 1, nil
}

// RotateRefreshToken в одной транзакции блокирует старую запись (FOR UPDATE),
// проверяет, что она активна и не истекла, сохраняет next и отзывает старую
// со ссылкой на next. Конкурентная ротация того же токена ждёт блокировку
// и получает ErrNotFound.
func (s *Storage) RotateRefreshToken(ctx context.Context, oldHash string, next *models.RefreshToken, now time.Time) error {
	const op = "storage.postgres.RotateRefreshToken"

	return s.WithinTx(ctx, func(ctx context.Context) error {
		q := s.conn(ctx)

		lock := `
			SELECT expires_at
			FROM refresh_tokens
			WHERE token_hash = $1 AND revoked_at IS NULL
			FOR UPDATE
		`

		var expiresAt time.Time
		if err := q.QueryRow(ctx, lock, oldHash).Scan(&expiresAt); err != nil {
			return mapReadErr(op, err)
		}

		if !now.Before(expiresAt) {
			return fmt.Errorf("%s: expired: %w", op, storage.ErrNotFound)
		}

		if err := s.SaveRefreshToken(ctx, next); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		revoke := `
			UPDATE refresh_tokens
			SET revoked_at = $2, replaced_by_hash = $3
			WHERE token_hash = $1
		`

		if _, err := q.Exec(ctx, revoke, oldHash, now, next.TokenHash); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		return nil
	})
}

// RevokeUserRefreshTokens отзывает все активные refresh-токены пользователя
// одним UPDATE, кроме exceptHash (если задан).
func (s *Storage) RevokeUserRefreshTokens(ctx context.Context, userID uuid.UUID, exceptHash string, now time.Time) (int64, error) {
	const op = "storage.postgres.RevokeUserRefreshTokens"

	query := `
		UPDATE refresh_tokens
		SET revoked_at = $2
		WHERE user_id = $1
		  AND revoked_at IS NULL
		  AND ($3 = '' OR token_hash <> $3)
	`

	tag, err := s.conn(ctx).Exec(ctx, query, userID, now, exceptHash)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

// ActiveRefreshTokensByUser возвращает активные сессии пользователя (новые первыми).
func (s *Storage) ActiveRefreshTokensByUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.RefreshToken, error) {
	const op = "storage.postgres.ActiveRefreshTokensByUser"

	query := `
		SELECT ` + refreshColumns + `
		FROM refresh_tokens
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY created_at DESC
	`

	rows, err := s.conn(ctx).Query(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []models.RefreshToken
	for rows.Next() {
		token, err := scanRefreshToken(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, *token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

// DeleteExpiredRefreshTokens удаляет все просроченные refresh-токены.
func (s *Storage) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.postgres.DeleteExpiredRefreshTokens"

	tag, err := s.conn(ctx).Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

func scanRefreshToken(row pgx.Row) (*models.RefreshToken, error) {
	var token models.RefreshToken

	err := row.Scan(
		&token.TokenHash,
		&token.UserID,
		&token.CreatedAt,
		&token.ExpiresAt,
		&token.RevokedAt,
		&token.ReplacedByHash,
	)
	if err != nil {
		return nil, err
	}

	return &token, nil
}

