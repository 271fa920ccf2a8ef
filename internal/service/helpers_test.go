package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pribylovaa/go-news-aggregator/session-service/internal/config"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/models"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/password"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/storage/memory"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/token"
)

const testPassword = "Abcdef1!"

func testCfg() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:                "unit-secret",
		AccessTokenExpiry:        "15m",
		RefreshTokenExpiry:       "7d",
		Issuer:                   "session-service",
		Audience:                 []string{"api-gateway"},
		EmailVerificationExpiry:  86400,
		PasswordResetExpiry:      3600,
		EmailVerificationEnabled: true,
		BcryptCost:               bcrypt.MinCost,
	}
}

// fakeClock — управляемые часы, общие для Service и Codec.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingNotifier запоминает отправленные письма; err возвращается из каждого вызова.
type recordingNotifier struct {
	mu           sync.Mutex
	verification map[uuid.UUID]string
	reset        map[uuid.UUID]string
	changed      int
	welcome      int
	err          error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		verification: make(map[uuid.UUID]string),
		reset:        make(map[uuid.UUID]string),
	}
}

func (n *recordingNotifier) SendVerificationEmail(_ context.Context, u *models.User, tok string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verification[u.ID] = tok
	return n.err
}

func (n *recordingNotifier) SendPasswordResetEmail(_ context.Context, u *models.User, tok string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reset[u.ID] = tok
	return n.err
}

func (n *recordingNotifier) SendPasswordChangedNotice(context.Context, *models.User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changed++
	return n.err
}

func (n *recordingNotifier) SendWelcomeNotice(context.Context, *models.User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.welcome++
	return n.err
}

func (n *recordingNotifier) verificationToken(id uuid.UUID) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.verification[id]
}

func (n *recordingNotifier) resetToken(id uuid.UUID) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reset[id]
}

// countingHasher — bcrypt с минимальной стоимостью и счётчиком Verify.
type countingHasher struct {
	inner    *password.Hasher
	mu       sync.Mutex
	verifies int
}

func newCountingHasher() *countingHasher {
	return &countingHasher{inner: password.New(bcrypt.MinCost)}
}

func (h *countingHasher) Hash(plain string) (string, error) { return h.inner.Hash(plain) }

func (h *countingHasher) Verify(plain, digest string) bool {
	h.mu.Lock()
	h.verifies++
	h.mu.Unlock()
	return h.inner.Verify(plain, digest)
}

func newCodec(t *testing.T, cfg config.AuthConfig, clock *fakeClock) *token.Codec {
	t.Helper()
	c, err := token.New(cfg, token.WithClock(clock.Now))
	require.NoError(t, err)
	return c
}

// env — сервис поверх хранилища в памяти с настоящим кодеком и общими часами.
type env struct {
	svc   *Service
	st    *memory.Storage
	clock *fakeClock
	notes *recordingNotifier
	codec *token.Codec
}

func newEnv(t *testing.T, mutate ...func(*config.AuthConfig)) *env {
	t.Helper()

	cfg := testCfg()
	for _, m := range mutate {
		m(&cfg)
	}

	clock := newFakeClock()
	st := memory.New()
	notes := newRecordingNotifier()
	codec := newCodec(t, cfg, clock)
	svc := New(st, codec, cfg, WithClock(clock.Now), WithNotifier(notes))

	return &env{svc: svc, st: st, clock: clock, notes: notes, codec: codec}
}

// register создаёт и подтверждает пользователя name с паролем testPassword.
func (e *env) register(t *testing.T, name string) *models.User {
	t.Helper()
	ctx := context.Background()

	u, err := e.svc.Register(ctx, RegisterInput{Email: name + "@example.com", Username: name, Password: testPassword})
	require.NoError(t, err)

	if tok := e.notes.verificationToken(u.ID); tok != "" {
		u, err = e.svc.VerifyEmail(ctx, tok)
		require.NoError(t, err)
	}

	return u
}

// login возвращает новую пару для пользователя name.
func (e *env) login(t *testing.T, name string) *models.TokenPair {
	t.Helper()
	pair, _, err := e.svc.Login(context.Background(), name+"@example.com", testPassword)
	require.NoError(t, err)
	return pair
}

// seedUser сохраняет подтверждённого пользователя в обход Register
// (например, заблокированного: active=false).
func (e *env) seedUser(t *testing.T, name string, active bool) *models.User {
	t.Helper()

	digest, err := e.svc.hasher.Hash(testPassword)
	require.NoError(t, err)

	now := e.clock.Now()
	u := &models.User{
		ID:            uuid.New(),
		Email:         name + "@example.com",
		Username:      name,
		Role:          models.RoleUser,
		PasswordHash:  digest,
		IsActive:      active,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, e.st.SaveUser(context.Background(), u))

	return u
}
