package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-news-aggregator/session-service/internal/models"
)

// oneTimeTable возвращает таблицу для вида одноразового токена.
// Имя подставляется в SQL только из этого списка.
func oneTimeTable(kind models.TokenKind) (string, error) {
	switch kind {
	case models.KindEmailVerification:
		return "email_verification_tokens", nil
	case models.KindPasswordReset:
		return "password_reset_tokens", nil
	default:
		return "", fmt.Errorf("unknown token kind %q", kind)
	}
}

// SaveOneTimeToken сохраняет одноразовый токен.
func (s *Storage) SaveOneTimeToken(ctx context.Context, token *models.OneTimeToken) error {
	const op = "storage.postgres.SaveOneTimeToken"

	table, err := oneTimeTable(token.Kind)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s(token_hash, user_id, created_at, expires_at, used_at)
		VALUES ($1, $2, $3, $4, $5)
	`, table)

	_, err = s.conn(ctx).Exec(ctx, query,
		token.TokenHash,
		token.UserID,
		token.CreatedAt,
		token.ExpiresAt,
		token.UsedAt,
	)
	if err != nil {
		return mapWriteErr(op, err)
	}

	return nil
}

// ActiveOneTimeToken находит непогашенный токен; срок не проверяется.
func (s *Storage) ActiveOneTimeToken(ctx context.Context, kind models.TokenKind, hash string) (*models.OneTimeToken, error) {
	const op = "storage.postgres.ActiveOneTimeToken"

	table, err := oneTimeTable(kind)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	query := fmt.Sprintf(`
		SELECT token_hash, user_id, created_at, expires_at, used_at
		FROM %s
		WHERE token_hash = $1 AND used_at IS NULL
	`, table)

	token := models.OneTimeToken{Kind: kind}
	err = s.conn(ctx).QueryRow(ctx, query, hash).Scan(
		&token.TokenHash,
		&token.UserID,
		&token.CreatedAt,
		&token.ExpiresAt,
		&token.UsedAt,
	)
	if err != nil {
		return nil, mapReadErr(op, err)
	}

	return &token, nil
}

// MarkOneTimeTokenUsed гасит токен условным UPDATE (used_at IS NULL).
// Повторный вызов не ошибка: возвращается false.
func (s *Storage) MarkOneTimeTokenUsed(ctx context.Context, kind models.TokenKind, hash string, now time.Time) (bool, error) {
	const op = "storage.postgres.MarkOneTimeTokenUsed"

	table, err := oneTimeTable(kind)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	query := fmt.Sprintf(`UPDATE %s SET used_at = $2 WHERE token_hash = $1 AND used_at IS NULL`, table)

	tag, err := s.conn(ctx).Exec(ctx, query, hash, now)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected() == 1, nil
}

// DeleteUserOneTimeTokens удаляет все токены пользователя данного вида.
// Внутри транзакции строка пользователя блокируется до её конца, поэтому
// параллельные выдачи "удалить и вставить" для одного пользователя идут
// по очереди и DELETE второй видит токен, вставленный первой.
func (s *Storage) DeleteUserOneTimeTokens(ctx context.Context, kind models.TokenKind, userID uuid.UUID) (int64, error) {
	const op = "storage.postgres.DeleteUserOneTimeTokens"

	table, err := oneTimeTable(kind)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if _, err := s.conn(ctx).Exec(ctx, `SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, userID); err != nil {
		return 0, fmt.Errorf("%s: lock user: %w", op, err)
	}

	tag, err := s.conn(ctx).Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1`, table), userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

// DeleteExpiredOneTimeTokens удаляет просроченные токены данного вида.
func (s *Storage) DeleteExpiredOneTimeTokens(ctx context.Context, kind models.TokenKind, now time.Time) (int64, error) {
	const op = "storage.postgres.DeleteExpiredOneTimeTokens"

	table, err := oneTimeTable(kind)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	tag, err := s.conn(ctx).Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= $1`, table), now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}
