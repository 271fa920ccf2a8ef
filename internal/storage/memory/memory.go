// memory — хранилище в памяти процесса для локального запуска (db.driver: memory)
// и для тестов сервиса. Все операции сериализуются одним мьютексом;
// WithinTx держит его на всё время fn и откатывает изменения при ошибке.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-news-aggregator/session-service/internal/models"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/storage"
)

type txKey struct{}

type Storage struct {
	mu      sync.Mutex
	users   map[uuid.UUID]models.User
	refresh map[string]models.RefreshToken
	oneTime map[models.TokenKind]map[string]models.OneTimeToken
}

// New создаёт пустое хранилище.
func New() *Storage {
	return &Storage{
		users:   make(map[uuid.UUID]models.User),
		refresh: make(map[string]models.RefreshToken),
		oneTime: map[models.TokenKind]map[string]models.OneTimeToken{
			models.KindEmailVerification: {},
			models.KindPasswordReset:     {},
		},
	}
}

// Ping — хранилище в памяти всегда доступно.
func (s *Storage) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close — no-op.
func (s *Storage) Close() {}

// WithinTx выполняет fn под общим мьютексом; при ошибке состояние
// возвращается к снимку, сделанному до вызова.
func (s *Storage) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users := maps.Clone(s.users)
	refresh := maps.Clone(s.refresh)
	oneTime := make(map[models.TokenKind]map[string]models.OneTimeToken, len(s.oneTime))
	for k, v := range s.oneTime {
		oneTime[k] = maps.Clone(v)
	}

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.users, s.refresh, s.oneTime = users, refresh, oneTime
		return err
	}

	return nil
}

func (s *Storage) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Storage)
	return owner == s
}

// lock берёт мьютекс, если вызов не внутри WithinTx этого же хранилища.
func (s *Storage) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}

	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Storage) SaveUser(ctx context.Context, user *models.User) error {
	const op = "storage.memory.SaveUser"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer s.lock(ctx)()

	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("%s: id: %w", op, storage.ErrAlreadyExists)
	}
	for _, u := range s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return fmt.Errorf("%s: email: %w", op, storage.ErrAlreadyExists)
		}
		if strings.EqualFold(u.Username, user.Username) {
			return fmt.Errorf("%s: username: %w", op, storage.ErrAlreadyExists)
		}
	}

	s.users[user.ID] = *user
	return nil
}

func (s *Storage) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "storage.memory.UserByID"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer s.lock(ctx)()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return &u, nil
}

func (s *Storage) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.userBy(ctx, "storage.memory.UserByEmail", func(u models.User) bool {
		return strings.EqualFold(u.Email, email)
	})
}

func (s *Storage) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.userBy(ctx, "storage.memory.UserByUsername", func(u models.User) bool {
		return strings.EqualFold(u.Username, username)
	})
}

func (s *Storage) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string, now time.Time) error {
	return s.updateUser(ctx, "storage.memory.UpdatePassword", id, func(u *models.User) {
		u.PasswordHash = passwordHash
		u.UpdatedAt = now
	})
}

func (s *Storage) SetEmailVerified(ctx context.Context, id uuid.UUID, verified bool, now time.Time) error {
	return s.updateUser(ctx, "storage.memory.SetEmailVerified", id, func(u *models.User) {
		u.EmailVerified = verified
		u.UpdatedAt = now
	})
}

func (s *Storage) userBy(ctx context.Context, op string, match func(models.User) bool) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer s.lock(ctx)()

	for _, u := range s.users {
		if match(u) {
			return &u, nil
		}
	}

	return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
}

func (s *Storage) updateUser(ctx context.Context, op string, id uuid.UUID, apply func(*models.User)) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer s.lock(ctx)()

	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	apply(&u)
	s.users[id] = u
	return nil
}

func (s *Storage) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	const op = "storage.memory.SaveRefreshToken"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer s.lock(ctx)()

	return s.saveRefresh(op, token)
}

func (s *Storage) saveRefresh(op string, token *models.RefreshToken) error {
	if _, ok := s.users[token.UserID]; !ok {
		return fmt.Errorf("%s: user: %w", op, storage.ErrNotFound)
	}
	if _, ok := s.refresh[token.TokenHash]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}

	s.refresh[token.TokenHash] = *token
	return nil
}

func (s *Storage) ActiveRefreshToken(ctx context.Context, hash string) (*models.RefreshToken, error) {
	const op = "storage.memory.ActiveRefreshToken"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer s.lock(ctx)()

	t, ok := s.refresh[hash]
	if !ok || t.RevokedAt != nil {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return &t, nil
}

func (s *Storage) RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	const op = "storage.memory.RefreshTokenByHash"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer s.lock(ctx)()

	t, ok := s.refresh[hash]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return &t, nil
}

func (s *Storage) RevokeRefreshToken(ctx context.Context, hash string, replacedBy *string, now time.Time) (bool, error) {
	const op = "storage.memory.RevokeRefreshToken"

	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer s.lock(ctx)()

	t, ok := s.refresh[hash]
	if !ok || t.RevokedAt != nil {
		return false, nil
	}

	s.revoke(&t, replacedBy, now)
	return true, nil
}

func (s *Storage) RotateRefreshToken(ctx context.Context, oldHash string, next *models.RefreshToken, now time.Time) error {
	const op = "storage.memory.RotateRefreshToken"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer s.lock(ctx)()

	old, ok := s.refresh[oldHash]
	if !ok || old.State(now) != models.TokenActive {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	if err := s.saveRefresh(op, next); err != nil {
		return err
	}

	replacement := next.TokenHash
	s.revoke(&old, &replacement, now)
	return nil
}

func (s *Storage) RevokeUserRefreshTokens(ctx context.Context, userID uuid.UUID, exceptHash string, now time.Time) (int64, error) {
	const op = "storage.memory.RevokeUserRefreshTokens"

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer s.lock(ctx)()

	var n int64
	for hash, t := range s.refresh {
		if t.UserID != userID || t.RevokedAt != nil || (exceptHash != "" && hash == exceptHash) {
			continue
		}
		s.revoke(&t, nil, now)
		n++
	}

	return n, nil
}

func (s *Storage) ActiveRefreshTokensByUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.RefreshToken, error) {
	const op = "storage.memory.ActiveRefreshTokensByUser"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer s.lock(ctx)()

	var out []models.RefreshToken
	for _, t := range s.refresh {
		if t.UserID == userID && t.State(now) == models.TokenActive {
			out = append(out, t)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Storage) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.memory.DeleteExpiredRefreshTokens"

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer s.lock(ctx)()

	var n int64
	for hash, t := range s.refresh {
		if !t.ExpiresAt.After(now) {
			delete(s.refresh, hash)
			n++
		}
	}

	return n, nil
}

// revoke записывает новую версию токена; значения в map не мутируются,
// поэтому снимки WithinTx остаются корректными.
func (s *Storage) revoke(t *models.RefreshToken, replacedBy *string, now time.Time) {
	at := now
	t.RevokedAt = &at
	if replacedBy != nil {
		r := *replacedBy
		t.ReplacedByHash = &r
	}
	s.refresh[t.TokenHash] = *t
}

func (s *Storage) SaveOneTimeToken(ctx context.Context, token *models.OneTimeToken) error {
	const op = "storage.memory.SaveOneTimeToken"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer s.lock(ctx)()

	table, err := s.table(token.Kind)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, ok := s.users[token.UserID]; !ok {
		return fmt.Errorf("%s: user: %w", op, storage.ErrNotFound)
	}
	if _, ok := table[token.TokenHash]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}

	table[token.TokenHash] = *token
	return nil
}

func (s *Storage) ActiveOneTimeToken(ctx context.Context, kind models.TokenKind, hash string) (*models.OneTimeToken, error) {
	const op = "storage.memory.ActiveOneTimeToken"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer s.lock(ctx)()

	table, err := s.table(kind)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	t, ok := table[hash]
	if !ok || t.UsedAt != nil {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return &t, nil
}

func (s *Storage) MarkOneTimeTokenUsed(ctx context.Context, kind models.TokenKind, hash string, now time.Time) (bool, error) {
	const op = "storage.memory.MarkOneTimeTokenUsed"

	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer s.lock(ctx)()

	table, err := s.table(kind)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	t, ok := table[hash]
	if !ok || t.UsedAt != nil {
		return false, nil
	}

	at := now
	t.UsedAt = &at
	table[hash] = t
	return true, nil
}

func (s *Storage) DeleteUserOneTimeTokens(ctx context.Context, kind models.TokenKind, userID uuid.UUID) (int64, error) {
	return s.deleteOneTime(ctx, "storage.memory.DeleteUserOneTimeTokens", kind, func(t models.OneTimeToken) bool {
		return t.UserID == userID
	})
}

func (s *Storage) DeleteExpiredOneTimeTokens(ctx context.Context, kind models.TokenKind, now time.Time) (int64, error) {
	return s.deleteOneTime(ctx, "storage.memory.DeleteExpiredOneTimeTokens", kind, func(t models.OneTimeToken) bool {
		return !t.ExpiresAt.After(now)
	})
}

func (s *Storage) deleteOneTime(ctx context.Context, op string, kind models.TokenKind, match func(models.OneTimeToken) bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer s.lock(ctx)()

	table, err := s.table(kind)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	var n int64
	for hash, t := range table {
		if match(t) {
			delete(table, hash)
			n++
		}
	}

	return n, nil
}

func (s *Storage) table(kind models.TokenKind) (map[string]models.OneTimeToken, error) {
	table, ok := s.oneTime[kind]
	if !ok {
		return nil, fmt.Errorf("unknown token kind %q", kind)
	}

	return table, nil
}

// Проверка на соответствие интерфейсу Storage.
var _ storage.Storage = (*Storage)(nil)
