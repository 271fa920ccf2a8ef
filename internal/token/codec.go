// token реализует подписанные JWT (access/refresh) и одноразовые
// непрозрачные токены для подтверждения e-mail и сброса пароля.
//
// Секрет, issuer, audience и сроки жизни передаются в конструктор и не
// читаются из глобального состояния; часы подменяются через WithClock.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pribylovaa/go-news-aggregator/session-service/internal/config"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/models"
)

var (
	// ErrTokenExpired — подпись и атрибуты валидны, но срок действия истёк.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid — подпись, issuer, audience, тип или формат не прошли проверку.
	// Какая именно проверка провалилась, наружу не сообщается.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrInvalidDuration — срок жизни в конфигурации не удалось разобрать.
	ErrInvalidDuration = errors.New("invalid duration")
)

// Type — назначение токена, хранится в claim "typ".
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// AccessClaims — авторизационные данные, которые несёт access-токен.
type AccessClaims struct {
	UserID        uuid.UUID
	Email         string
	Username      string
	Role          models.Role
	EmailVerified bool
}

// ClaimsFromUser собирает AccessClaims из модели пользователя.
func ClaimsFromUser(u *models.User) AccessClaims {
	return AccessClaims{
		UserID:        u.ID,
		Email:         u.Email,
		Username:      u.Username,
		Role:          u.Role,
		EmailVerified: u.EmailVerified,
	}
}

// Claims — результат проверки/декодирования токена.
// Для refresh-токена заполнены только UserID, Type, ID и временные метки.
type Claims struct {
	AccessClaims
	Type      Type
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// jwtClaims — представление claims на проводе.
type jwtClaims struct {
	Type          Type   `json:"typ"`
	Email         string `json:"email,omitempty"`
	Username      string `json:"username,omitempty"`
	Role          string `json:"role,omitempty"`
	EmailVerified *bool  `json:"email_verified,omitempty"`
	jwt.RegisteredClaims
}

func (c *jwtClaims) toClaims() (*Claims, error) {
	uid, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, err
	}

	out := &Claims{
		AccessClaims: AccessClaims{
			UserID:   uid,
			Email:    c.Email,
			Username: c.Username,
			Role:     models.Role(c.Role),
		},
		Type: c.Type,
		ID:   c.ID,
	}
	if c.EmailVerified != nil {
		out.EmailVerified = *c.EmailVerified
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time.UTC()
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time.UTC()
	}

	return out, nil
}

// Codec подписывает и проверяет JWT (HS256).
// Безопасен для конкурентного использования.
type Codec struct {
	secret     []byte
	issuer     string
	audience   []string
	accessTTL  time.Duration
	refreshTTL time.Duration
	leeway     time.Duration
	now        func() time.Time
}

// Option настраивает Codec.
type Option func(*Codec)

// WithClock подменяет источник текущего времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// New создаёт Codec по конфигурации. Сроки жизни разбираются через ParseExpiry,
// ошибка разбора оборачивает ErrInvalidDuration.
func New(cfg config.AuthConfig, opts ...Option) (*Codec, error) {
	const op = "token.New"

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("%s: empty signing secret", op)
	}

	accessTTL, err := ParseExpiry(cfg.AccessTokenExpiry)
	if err != nil {
		return nil, fmt.Errorf("%s: access: %w", op, err)
	}

	refreshTTL, err := ParseExpiry(cfg.RefreshTokenExpiry)
	if err != nil {
		return nil, fmt.Errorf("%s: refresh: %w", op, err)
	}

	c := &Codec{
		secret:     []byte(cfg.JWTSecret),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		leeway:     cfg.Leeway,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// IssueAccessToken выпускает access-токен с полным набором claims.
// Возвращает подписанную строку и момент истечения (с точностью до секунды).
func (c *Codec) IssueAccessToken(claims AccessClaims) (string, time.Time, error) {
	const op = "token.Codec.IssueAccessToken"

	verified := claims.EmailVerified
	jc := jwtClaims{
		Type:             TypeAccess,
		Email:            claims.Email,
		Username:         claims.Username,
		Role:             string(claims.Role),
		EmailVerified:    &verified,
		RegisteredClaims: c.registered(claims.UserID, c.accessTTL),
	}

	signed, err := c.sign(&jc)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	return signed, jc.ExpiresAt.Time.UTC(), nil
}

// IssueRefreshToken выпускает refresh-токен, содержащий только субъект.
// Уникальный jti гарантирует различие токенов, выпущенных в одну секунду.
func (c *Codec) IssueRefreshToken(userID uuid.UUID) (string, time.Time, error) {
	const op = "token.Codec.IssueRefreshToken"

	jc := jwtClaims{
		Type:             TypeRefresh,
		RegisteredClaims: c.registered(userID, c.refreshTTL),
	}

	signed, err := c.sign(&jc)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	return signed, jc.ExpiresAt.Time.UTC(), nil
}

// Verify проверяет подпись, алгоритм, issuer, audience и срок действия.
// Возвращает ErrTokenExpired только если истечение срока — единственная проблема.
func (c *Codec) Verify(signed string) (*Claims, error) {
	const op = "token.Codec.Verify"

	var jc jwtClaims
	_, err := jwt.ParseWithClaims(signed, &jc,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(c.leeway),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience...),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if onlyExpired(err) {
			return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}

		return nil, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
	}

	claims, err := jc.toClaims()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
	}

	return claims, nil
}

// VerifyAccess — Verify с проверкой, что это access-токен.
func (c *Codec) VerifyAccess(signed string) (*Claims, error) {
	return c.verifyType(signed, TypeAccess)
}

// VerifyRefresh — Verify с проверкой, что это refresh-токен.
func (c *Codec) VerifyRefresh(signed string) (*Claims, error) {
	return c.verifyType(signed, TypeRefresh)
}

// DecodeUnsafe декодирует claims без проверки подписи и сроков.
// Только для диагностики; никогда не использовать для авторизации.
func (c *Codec) DecodeUnsafe(signed string) (*Claims, bool) {
	var jc jwtClaims
	if _, _, err := jwt.NewParser().ParseUnverified(signed, &jc); err != nil {
		return nil, false
	}

	claims, err := jc.toClaims()
	if err != nil {
		return nil, false
	}

	return claims, true
}

func (c *Codec) verifyType(signed string, want Type) (*Claims, error) {
	claims, err := c.Verify(signed)
	if err != nil {
		return nil, err
	}

	if claims.Type != want {
		return nil, fmt.Errorf("token.Codec.verifyType: %w", ErrTokenInvalid)
	}

	return claims, nil
}

func (c *Codec) registered(userID uuid.UUID, ttl time.Duration) jwt.RegisteredClaims {
	now := c.now().UTC()

	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID.String(),
		Issuer:    c.issuer,
		Audience:  jwt.ClaimStrings(c.audience),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (c *Codec) sign(claims *jwtClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// onlyExpired сообщает, что из всех ошибок разбора осталась только просрочка.
func onlyExpired(err error) bool {
	if !errors.Is(err, jwt.ErrTokenExpired) {
		return false
	}

	for _, other := range []error{
		jwt.ErrTokenMalformed,
		jwt.ErrTokenUnverifiable,
		jwt.ErrTokenSignatureInvalid,
		jwt.ErrTokenInvalidIssuer,
		jwt.ErrTokenInvalidAudience,
		jwt.ErrTokenNotValidYet,
		jwt.ErrTokenUsedBeforeIssued,
	} {
		if errors.Is(err, other) {
			return false
		}
	}

	return true
}
