package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-news-aggregator/session-service/internal/config"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/models"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/notify"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/storage"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/token"
)

// Сценарные тесты жизненного цикла поверх storage/memory: настоящий кодек,
// общие управляемые часы, записывающий notifier.

func TestLogin_IssuesPairMatchingAccount(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	u := e.register(t, "alice")
	ctx := context.Background()

	pair, got, err := e.svc.Login(ctx, "  ALICE@example.com ", testPassword)
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	claims, err := e.svc.ValidateAccessToken(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, u.ID, claims.UserID)
	require.Equal(t, models.RoleUser, claims.Role)
	require.Equal(t, "alice", claims.Username)
	require.True(t, claims.EmailVerified)
	require.True(t, pair.AccessExpiresAt.Equal(e.clock.Now().Add(15*time.Minute)))

	rec, err := e.st.RefreshTokenByHash(ctx, token.Hash(pair.RefreshToken))
	require.NoError(t, err)
	require.Nil(t, rec.RevokedAt)
	require.Equal(t, u.ID, rec.UserID)
	require.True(t, rec.ExpiresAt.Equal(pair.RefreshExpiresAt))

	refreshClaims, err := e.codec.VerifyRefresh(pair.RefreshToken)
	require.NoError(t, err)
	require.Empty(t, refreshClaims.Email, "refresh-токен несёт только субъект")
	require.Empty(t, refreshClaims.Role)
}

func TestLogin_MultipleSessionsAllowed(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	u := e.register(t, "bob")

	a := e.login(t, "bob")
	b := e.login(t, "bob")
	require.NotEqual(t, a.RefreshToken, b.RefreshToken)

	sessions, err := e.svc.ListSessions(context.Background(), u.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
}

func TestLogin_Failures(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.register(t, "carol")
	ctx := context.Background()

	_, _, err := e.svc.Login(ctx, "carol@example.com", "Wrong1!x")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = e.svc.Login(ctx, "nobody@example.com", testPassword)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = e.svc.Login(ctx, "not-an-email", testPassword)
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_InactiveAccount(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.seedUser(t, "dave", false)
	ctx := context.Background()

	_, _, err := e.svc.Login(ctx, "dave@example.com", testPassword)
	require.ErrorIs(t, err, ErrAccountInactive)

	_, _, err = e.svc.Login(ctx, "dave@example.com", "Wrong1!x")
	require.ErrorIs(t, err, ErrInvalidCredentials, "статус не раскрывается без пароля")
}

func TestCurrentUser(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	active := e.seedUser(t, "ivan", true)
	blocked := e.seedUser(t, "jane", false)

	u, err := e.svc.CurrentUser(ctx, active.ID)
	require.NoError(t, err)
	require.Equal(t, "ivan@example.com", u.Email)

	_, err = e.svc.CurrentUser(ctx, blocked.ID)
	require.ErrorIs(t, err, ErrAccountInactive)

	_, err = e.svc.CurrentUser(ctx, uuid.New())
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestValidateAccessToken_ExpiresWithClock(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.register(t, "erin")
	pair := e.login(t, "erin")
	ctx := context.Background()

	e.clock.Advance(15*time.Minute - time.Second)
	_, err := e.svc.ValidateAccessToken(ctx, pair.AccessToken)
	require.NoError(t, err)

	e.clock.Advance(2 * time.Second)
	_, err = e.svc.ValidateAccessToken(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrTokenExpired)

	_, err = e.svc.ValidateAccessToken(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrTokenInvalid, "refresh-токен не принимается как access")
}

func TestRefresh_RotatesAndRevokesOld(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	u := e.register(t, "frank")
	pair := e.login(t, "frank")
	ctx := context.Background()

	e.clock.Advance(time.Minute)
	next, err := e.svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	old, err := e.st.RefreshTokenByHash(ctx, token.Hash(pair.RefreshToken))
	require.NoError(t, err)
	require.Equal(t, models.TokenRevoked, old.State(e.clock.Now()))
	require.NotNil(t, old.ReplacedByHash)
	require.Equal(t, token.Hash(next.RefreshToken), *old.ReplacedByHash)

	claims, err := e.svc.ValidateAccessToken(ctx, next.AccessToken)
	require.NoError(t, err)
	require.Equal(t, u.ID, claims.UserID)
	require.Equal(t, "frank@example.com", claims.Email, "claims берутся из актуального пользователя")
}

func TestRefresh_ConcurrentRotationSingleWinner(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.register(t, "gina")
	pair := e.login(t, "gina")

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		invalid int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.Refresh(context.Background(), pair.RefreshToken)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrInvalidRefreshToken):
				invalid++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, wins)
	require.Equal(t, workers-1, invalid)
}

func TestRefresh_Expired(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.register(t, "hank")
	pair := e.login(t, "hank")

	e.clock.Advance(7*24*time.Hour + time.Second)
	_, err := e.svc.Refresh(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshTokenExpired)
}

func TestRefresh_UnknownOrGarbage(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.Refresh(ctx, "")
	require.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, err = e.svc.Refresh(ctx, "garbage")
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefresh_InactiveUser(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	u := e.seedUser(t, "ivan", false)
	ctx := context.Background()

	// Сессия, выпущенная до блокировки учётной записи.
	pair, err := e.svc.IssuePair(ctx, u)
	require.NoError(t, err)

	_, err = e.svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrAccountInactive)
}

func TestLogout_ThenRefreshFails_LogoutIdempotent(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.register(t, "judy")
	pair := e.login(t, "judy")
	ctx := context.Background()

	require.NoError(t, e.svc.Logout(ctx, pair.RefreshToken))

	_, err := e.svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)

	require.NoError(t, e.svc.Logout(ctx, pair.RefreshToken))
	require.NoError(t, e.svc.Logout(ctx, "never-issued"))
	require.NoError(t, e.svc.Logout(ctx, ""))
}

func TestLogoutAll(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	u := e.register(t, "kate")
	a := e.login(t, "kate")
	b := e.login(t, "kate")
	ctx := context.Background()

	n, err := e.svc.LogoutAll(ctx, u.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	for _, p := range []*models.TokenPair{a, b} {
		_, err := e.svc.Refresh(ctx, p.RefreshToken)
		require.ErrorIs(t, err, ErrInvalidRefreshToken)
	}

	sessions, err := e.svc.ListSessions(ctx, u.ID)
	require.NoError(t, err)
	require.Empty(t, sessions)
}

// Повторное предъявление ротированного токена: по умолчанию это просто
// недействительный токен, остальные сессии не затрагиваются.
func TestRefresh_ReplayOfRotatedToken_DefaultIsInvalid(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.register(t, "leo")
	pair := e.login(t, "leo")
	ctx := context.Background()

	next, err := e.svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	_, err = e.svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
	require.NotErrorIs(t, err, ErrRefreshTokenReuse)

	_, err = e.svc.Refresh(ctx, next.RefreshToken)
	require.NoError(t, err, "цепочка не отзывается")
}

// С включённым обнаружением повторного использования предъявление
// ротированного токена отзывает все сессии пользователя.
func TestRefresh_ReplayOfRotatedToken_ReuseDetectionRevokesAll(t *testing.T) {
	t.Parallel()

	e := newEnv(t, func(c *config.AuthConfig) { c.RefreshReuseDetection = true })
	u := e.register(t, "mia")
	pair := e.login(t, "mia")
	other := e.login(t, "mia")
	ctx := context.Background()

	next, err := e.svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	_, err = e.svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshTokenReuse)

	for _, tok := range []string{next.RefreshToken, other.RefreshToken} {
		_, err = e.svc.Refresh(ctx, tok)
		require.ErrorIs(t, err, ErrInvalidRefreshToken)
	}

	sessions, err := e.svc.ListSessions(ctx, u.ID)
	require.NoError(t, err)
	require.Empty(t, sessions)

	// Токен, отозванный через logout (без замены), повтором не считается.
	fresh := e.login(t, "mia")
	require.NoError(t, e.svc.Logout(ctx, fresh.RefreshToken))
	_, err = e.svc.Refresh(ctx, fresh.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
	require.NotErrorIs(t, err, ErrRefreshTokenReuse)
}

func TestRegister_VerificationEnabled(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()

	u, err := e.svc.Register(ctx, RegisterInput{Email: " Nick@Example.com", Username: "nick", Password: testPassword})
	require.NoError(t, err)
	require.Equal(t, "nick@example.com", u.Email)
	require.False(t, u.EmailVerified)
	require.Equal(t, models.RoleUser, u.Role)
	require.True(t, u.IsActive)

	tok := e.notes.verificationToken(u.ID)
	require.Len(t, tok, 64)

	verified, err := e.svc.VerifyEmail(ctx, tok)
	require.NoError(t, err)
	require.True(t, verified.EmailVerified)
	require.Equal(t, 1, e.notes.welcome)

	_, err = e.svc.VerifyEmail(ctx, tok)
	require.ErrorIs(t, err, ErrInvalidVerificationToken)
}

func TestRegister_VerificationDisabled_PreVerified(t *testing.T) {
	t.Parallel()

	e := newEnv(t, func(c *config.AuthConfig) { c.EmailVerificationEnabled = false })

	u, err := e.svc.Register(context.Background(), RegisterInput{Email: "olga@example.com", Username: "olga", Password: testPassword})
	require.NoError(t, err)
	require.True(t, u.EmailVerified)
	require.Empty(t, e.notes.verificationToken(u.ID))
}

func TestRegister_NotifyFailureStillSucceeds(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.notes.err = errors.New("smtp down")

	u, err := e.svc.Register(context.Background(), RegisterInput{Email: "pete@example.com", Username: "pete", Password: testPassword})
	require.NoError(t, err)

	_, err = e.svc.VerifyEmail(context.Background(), e.notes.verificationToken(u.ID))
	require.NoError(t, err, "токен выпущен, несмотря на сбой отправки")
}

func TestRegister_Conflicts(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.register(t, "quinn")
	ctx := context.Background()

	_, err := e.svc.Register(ctx, RegisterInput{Email: "QUINN@example.com", Username: "other", Password: testPassword})
	require.ErrorIs(t, err, ErrEmailTaken)

	_, err = e.svc.Register(ctx, RegisterInput{Email: "other@example.com", Username: "Quinn", Password: testPassword})
	require.ErrorIs(t, err, ErrUsernameTaken)
}

func TestRegister_Validation(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   RegisterInput
		want error
	}{
		{"bad_email", RegisterInput{"nope", "user1", testPassword}, ErrInvalidEmail},
		{"short_username", RegisterInput{"a@b.com", "ab", testPassword}, ErrInvalidUsername},
		{"non_alnum_username", RegisterInput{"a@b.com", "user_1", testPassword}, ErrInvalidUsername},
		{"empty_password", RegisterInput{"a@b.com", "user1", ""}, ErrEmptyPassword},
		{"weak_password", RegisterInput{"a@b.com", "user1", "abcdefgh"}, ErrWeakPassword},
		{"long_password", RegisterInput{"a@b.com", "user1", "Aa1!" + strings.Repeat("x", 80)}, ErrPasswordTooLong},
	}
	for _, tt := range tests {
		_, err := e.svc.Register(ctx, tt.in)
		require.ErrorIs(t, err, tt.want, tt.name)
	}
}

func TestIssueVerificationToken_TwiceLeavesOneActive(t *testing.T) {
	t.Parallel()

	e := newEnv(t, func(c *config.AuthConfig) { c.EmailVerificationEnabled = false })
	u := e.register(t, "rita")
	ctx := context.Background()

	first, err := e.svc.IssueVerificationToken(ctx, u.ID)
	require.NoError(t, err)
	second, err := e.svc.IssueVerificationToken(ctx, u.ID)
	require.NoError(t, err)

	_, err = e.st.ActiveOneTimeToken(ctx, models.KindEmailVerification, token.Hash(first))
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = e.st.ActiveOneTimeToken(ctx, models.KindEmailVerification, token.Hash(second))
	require.NoError(t, err)

	_, err = e.svc.ConsumeVerificationToken(ctx, first)
	require.ErrorIs(t, err, ErrInvalidVerificationToken)

	id, err := e.svc.ConsumeVerificationToken(ctx, second)
	require.NoError(t, err)
	require.Equal(t, u.ID, id)
}

func TestConsumeVerificationToken_ExpiredStaysUnused(t *testing.T) {
	t.Parallel()

	e := newEnv(t, func(c *config.AuthConfig) { c.EmailVerificationEnabled = false })
	u := e.register(t, "sam")
	ctx := context.Background()

	tok, err := e.svc.IssueVerificationToken(ctx, u.ID)
	require.NoError(t, err)

	e.clock.Advance(24 * time.Hour)
	_, err = e.svc.ConsumeVerificationToken(ctx, tok)
	require.ErrorIs(t, err, ErrVerificationTokenExpired)

	rec, err := e.st.ActiveOneTimeToken(ctx, models.KindEmailVerification, token.Hash(tok))
	require.NoError(t, err)
	require.Nil(t, rec.UsedAt)
	require.Equal(t, models.TokenExpired, rec.State(e.clock.Now()))
}

func TestConsumeVerificationToken_UnknownUserOwnerGone(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	_, err := e.svc.IssueVerificationToken(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestResendVerification(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.svc.ResendVerification(ctx, "ghost@example.com"))

	u, err := e.svc.Register(ctx, RegisterInput{Email: "tom@example.com", Username: "tom", Password: testPassword})
	require.NoError(t, err)
	first := e.notes.verificationToken(u.ID)

	require.NoError(t, e.svc.ResendVerification(ctx, "TOM@example.com"))
	second := e.notes.verificationToken(u.ID)
	require.NotEqual(t, first, second)

	_, err = e.svc.VerifyEmail(ctx, first)
	require.ErrorIs(t, err, ErrInvalidVerificationToken)
	_, err = e.svc.VerifyEmail(ctx, second)
	require.NoError(t, err)

	err = e.svc.ResendVerification(ctx, "tom@example.com")
	require.ErrorIs(t, err, ErrEmailAlreadyVerified)
}

func TestRequestPasswordReset_UnknownEmailIsSilent(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	require.NoError(t, e.svc.RequestPasswordReset(context.Background(), "ghost@example.com"))
	require.Empty(t, e.notes.reset)
}

func TestResetPassword_Flow(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	u := e.register(t, "uma")
	a := e.login(t, "uma")
	b := e.login(t, "uma")
	ctx := context.Background()

	require.NoError(t, e.svc.RequestPasswordReset(ctx, "uma@example.com"))
	tok := e.notes.resetToken(u.ID)
	require.NotEmpty(t, tok)

	require.NoError(t, e.svc.CheckResetToken(ctx, tok))

	const newPassword = "Zyxwvu9?"
	require.NoError(t, e.svc.ResetPassword(ctx, tok, newPassword))
	require.Equal(t, 1, e.notes.changed)

	_, _, err := e.svc.Login(ctx, "uma@example.com", testPassword)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = e.svc.Login(ctx, "uma@example.com", newPassword)
	require.NoError(t, err)

	for _, p := range []*models.TokenPair{a, b} {
		_, err := e.svc.Refresh(ctx, p.RefreshToken)
		require.ErrorIs(t, err, ErrInvalidRefreshToken)
	}

	err = e.svc.ResetPassword(ctx, tok, "Another1!")
	require.ErrorIs(t, err, ErrInvalidResetToken)
	require.ErrorIs(t, e.svc.CheckResetToken(ctx, tok), ErrInvalidResetToken)
}

func TestResetPassword_ExpiredChangesNothing(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	u := e.register(t, "vera")
	pair := e.login(t, "vera")
	ctx := context.Background()

	tok, err := e.svc.IssuePasswordResetToken(ctx, u.ID)
	require.NoError(t, err)

	e.clock.Advance(time.Hour)
	require.ErrorIs(t, e.svc.CheckResetToken(ctx, tok), ErrResetTokenExpired)
	require.ErrorIs(t, e.svc.ResetPassword(ctx, tok, "Zyxwvu9?"), ErrResetTokenExpired)

	_, _, err = e.svc.Login(ctx, "vera@example.com", testPassword)
	require.NoError(t, err)
	_, err = e.svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
}

func TestResetPassword_WeakPasswordKeepsToken(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	u := e.register(t, "walt")
	ctx := context.Background()

	tok, err := e.svc.IssuePasswordResetToken(ctx, u.ID)
	require.NoError(t, err)

	require.ErrorIs(t, e.svc.ResetPassword(ctx, tok, "weak"), ErrWeakPassword)
	require.NoError(t, e.svc.CheckResetToken(ctx, tok))
}

func TestChangePassword_KeepsCallerSession(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	u := e.register(t, "xena")
	a := e.login(t, "xena")
	b := e.login(t, "xena")
	ctx := context.Background()

	const newPassword = "Zyxwvu9?"
	require.NoError(t, e.svc.ChangePassword(ctx, u.ID, testPassword, newPassword, a.RefreshToken))
	require.Equal(t, 1, e.notes.changed)

	_, err := e.svc.Refresh(ctx, b.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, err = e.svc.Refresh(ctx, a.RefreshToken)
	require.NoError(t, err)

	_, _, err = e.svc.Login(ctx, "xena@example.com", newPassword)
	require.NoError(t, err)
}

func TestChangePassword_WrongCurrent(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	u := e.register(t, "yuri")
	pair := e.login(t, "yuri")
	ctx := context.Background()

	err := e.svc.ChangePassword(ctx, u.ID, "Wrong1!x", "Zyxwvu9?", pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = e.svc.Login(ctx, "yuri@example.com", testPassword)
	require.NoError(t, err)

	err = e.svc.ChangePassword(ctx, uuid.New(), testPassword, "Zyxwvu9?", "")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestDeleteExpiredTokens(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	u := e.register(t, "zoe")
	e.login(t, "zoe")
	ctx := context.Background()

	_, err := e.svc.IssuePasswordResetToken(ctx, u.ID)
	require.NoError(t, err)
	_, err = e.svc.IssueVerificationToken(ctx, u.ID)
	require.NoError(t, err)

	report, err := e.svc.DeleteExpiredTokens(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Total())

	e.clock.Advance(8 * 24 * time.Hour)
	report, err = e.svc.DeleteExpiredTokens(ctx)
	require.NoError(t, err)
	require.Equal(t, CleanupReport{Refresh: 1, EmailVerification: 1, PasswordReset: 1}, report)
	require.EqualValues(t, 3, report.Total())
}

func TestDeliver_OutlivesRequestContext(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	u := e.seedUser(t, "lena", true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var (
		sendErr     error
		hasDeadline bool
	)
	e.svc.deliver(ctx, notify.NoticeWelcome, u, func(ctx context.Context) error {
		sendErr = ctx.Err()
		_, hasDeadline = ctx.Deadline()
		return nil
	})

	require.NoError(t, sendErr, "отмена запроса не прерывает отправку")
	require.True(t, hasDeadline)
}
