package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-news-aggregator/session-service/internal/models"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/storage"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/token"
	"github.com/pribylovaa/go-news-aggregator/session-service/mocks"
)

var errDB = errors.New("db is down")

type mockEnv struct {
	svc    *Service
	st     *mocks.MockStorage
	clock  *fakeClock
	codec  *token.Codec
	hasher *countingHasher
}

func newSvc(t *testing.T) *mockEnv {
	t.Helper()

	ctrl := gomock.NewController(t)
	st := mocks.NewMockStorage(ctrl)
	clock := newFakeClock()
	cfg := testCfg()
	codec := newCodec(t, cfg, clock)
	hasher := newCountingHasher()

	svc := New(st, codec, cfg,
		WithClock(clock.Now),
		WithHasher(hasher),
		WithNotifier(newRecordingNotifier()),
	)

	return &mockEnv{svc: svc, st: st, clock: clock, codec: codec, hasher: hasher}
}

// passTx исполняет fn без транзакции, как если бы она была зафиксирована.
func (m *mockEnv) passTx() {
	m.st.EXPECT().WithinTx(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		})
}

func (m *mockEnv) activeUser(t *testing.T) *models.User {
	t.Helper()

	digest, err := m.hasher.Hash(testPassword)
	require.NoError(t, err)

	return &models.User{
		ID: uuid.New(), Email: "user@example.com", Username: "user",
		Role: models.RoleUser, PasswordHash: digest, IsActive: true, EmailVerified: true,
	}
}

// refreshFor выпускает refresh-токен и соответствующую ему активную запись.
func (m *mockEnv) refreshFor(t *testing.T, userID uuid.UUID) (string, *models.RefreshToken) {
	t.Helper()

	tok, exp, err := m.codec.IssueRefreshToken(userID)
	require.NoError(t, err)

	return tok, &models.RefreshToken{
		TokenHash: token.Hash(tok),
		UserID:    userID,
		CreatedAt: m.clock.Now(),
		ExpiresAt: exp,
	}
}

func TestRefresh_LostRotationRaceIsInvalid(t *testing.T) {
	t.Parallel()

	m := newSvc(t)
	u := m.activeUser(t)
	tok, rec := m.refreshFor(t, u.ID)

	m.st.EXPECT().ActiveRefreshToken(gomock.Any(), rec.TokenHash).Return(rec, nil)
	m.st.EXPECT().UserByID(gomock.Any(), u.ID).Return(u, nil)
	m.st.EXPECT().RotateRefreshToken(gomock.Any(), rec.TokenHash, gomock.Any(), gomock.Any()).Return(storage.ErrNotFound)

	_, err := m.svc.Refresh(context.Background(), tok)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefresh_RotateStoresLinkedRecord(t *testing.T) {
	t.Parallel()

	m := newSvc(t)
	u := m.activeUser(t)
	tok, rec := m.refreshFor(t, u.ID)

	m.st.EXPECT().ActiveRefreshToken(gomock.Any(), rec.TokenHash).Return(rec, nil)
	m.st.EXPECT().UserByID(gomock.Any(), u.ID).Return(u, nil)

	var stored *models.RefreshToken
	m.st.EXPECT().RotateRefreshToken(gomock.Any(), rec.TokenHash, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, next *models.RefreshToken, _ time.Time) error {
			stored = next
			return nil
		})

	pair, err := m.svc.Refresh(context.Background(), tok)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, token.Hash(pair.RefreshToken), stored.TokenHash)
	require.Equal(t, u.ID, stored.UserID)
	require.Nil(t, stored.RevokedAt)
}

func TestRefresh_StorageErrorPropagated(t *testing.T) {
	t.Parallel()

	m := newSvc(t)
	tok, rec := m.refreshFor(t, uuid.New())

	m.st.EXPECT().ActiveRefreshToken(gomock.Any(), rec.TokenHash).Return(nil, errDB)

	_, err := m.svc.Refresh(context.Background(), tok)
	require.ErrorIs(t, err, errDB)
	require.NotErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefresh_SubjectMismatch(t *testing.T) {
	t.Parallel()

	m := newSvc(t)
	tok, rec := m.refreshFor(t, uuid.New())
	rec.UserID = uuid.New()

	m.st.EXPECT().ActiveRefreshToken(gomock.Any(), rec.TokenHash).Return(rec, nil)

	_, err := m.svc.Refresh(context.Background(), tok)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefresh_UserGone(t *testing.T) {
	t.Parallel()

	m := newSvc(t)
	uid := uuid.New()
	tok, rec := m.refreshFor(t, uid)

	m.st.EXPECT().ActiveRefreshToken(gomock.Any(), rec.TokenHash).Return(rec, nil)
	m.st.EXPECT().UserByID(gomock.Any(), uid).Return(nil, storage.ErrNotFound)

	_, err := m.svc.Refresh(context.Background(), tok)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestLogout_Outcomes(t *testing.T) {
	t.Parallel()

	t.Run("already_revoked_is_ok", func(t *testing.T) {
		m := newSvc(t)
		m.st.EXPECT().RevokeRefreshToken(gomock.Any(), token.Hash("tok"), nil, gomock.Any()).Return(false, nil)
		require.NoError(t, m.svc.Logout(context.Background(), "tok"))
	})

	t.Run("storage_error", func(t *testing.T) {
		m := newSvc(t)
		m.st.EXPECT().RevokeRefreshToken(gomock.Any(), gomock.Any(), nil, gomock.Any()).Return(false, errDB)
		require.ErrorIs(t, m.svc.Logout(context.Background(), "tok"), errDB)
	})
}

func TestLogin_UnknownEmailStillComparesPassword(t *testing.T) {
	t.Parallel()

	m := newSvc(t)
	m.st.EXPECT().UserByEmail(gomock.Any(), "ghost@example.com").Return(nil, storage.ErrNotFound)

	_, _, err := m.svc.Login(context.Background(), "Ghost@Example.com", testPassword)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.Equal(t, 1, m.hasher.verifies)
}

func TestLogin_StorageError(t *testing.T) {
	t.Parallel()

	m := newSvc(t)
	m.st.EXPECT().UserByEmail(gomock.Any(), gomock.Any()).Return(nil, errDB)

	_, _, err := m.svc.Login(context.Background(), "user@example.com", testPassword)
	require.ErrorIs(t, err, errDB)
	require.Zero(t, m.hasher.verifies)
}

func TestRegister_ConcurrentDuplicateMappedAfterTx(t *testing.T) {
	t.Parallel()

	m := newSvc(t)
	existing := m.activeUser(t)

	m.st.EXPECT().UserByEmail(gomock.Any(), "user@example.com").Return(nil, storage.ErrNotFound)
	m.st.EXPECT().UserByUsername(gomock.Any(), "user").Return(nil, storage.ErrNotFound)
	m.passTx()
	m.st.EXPECT().SaveUser(gomock.Any(), gomock.Any()).Return(storage.ErrAlreadyExists)
	m.st.EXPECT().UserByUsername(gomock.Any(), "user").Return(existing, nil)

	_, err := m.svc.Register(context.Background(), RegisterInput{Email: "user@example.com", Username: "user", Password: testPassword})
	require.ErrorIs(t, err, ErrUsernameTaken)
}

func TestRegister_VerificationIssueFailureRollsBack(t *testing.T) {
	t.Parallel()

	m := newSvc(t)

	m.st.EXPECT().UserByEmail(gomock.Any(), gomock.Any()).Return(nil, storage.ErrNotFound)
	m.st.EXPECT().UserByUsername(gomock.Any(), gomock.Any()).Return(nil, storage.ErrNotFound)
	m.st.EXPECT().WithinTx(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		}).Times(2)
	m.st.EXPECT().SaveUser(gomock.Any(), gomock.Any()).Return(nil)
	m.st.EXPECT().DeleteUserOneTimeTokens(gomock.Any(), models.KindEmailVerification, gomock.Any()).Return(int64(0), nil)
	m.st.EXPECT().SaveOneTimeToken(gomock.Any(), gomock.Any()).Return(errDB)

	_, err := m.svc.Register(context.Background(), RegisterInput{Email: "user@example.com", Username: "user", Password: testPassword})
	require.ErrorIs(t, err, errDB)
}

func TestIssueVerificationToken_UnknownUser(t *testing.T) {
	t.Parallel()

	m := newSvc(t)
	uid := uuid.New()

	m.passTx()
	m.st.EXPECT().DeleteUserOneTimeTokens(gomock.Any(), models.KindEmailVerification, uid).Return(int64(0), nil)
	m.st.EXPECT().SaveOneTimeToken(gomock.Any(), gomock.Any()).Return(storage.ErrNotFound)

	_, err := m.svc.IssueVerificationToken(context.Background(), uid)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestConsumeVerificationToken_LostRace(t *testing.T) {
	t.Parallel()

	m := newSvc(t)
	rec := &models.OneTimeToken{
		Kind: models.KindEmailVerification, TokenHash: token.Hash("tok"), UserID: uuid.New(),
		ExpiresAt: token.ExpiryFrom(m.clock.Now(), 86400),
	}

	m.st.EXPECT().ActiveOneTimeToken(gomock.Any(), models.KindEmailVerification, rec.TokenHash).Return(rec, nil)
	m.st.EXPECT().MarkOneTimeTokenUsed(gomock.Any(), models.KindEmailVerification, rec.TokenHash, gomock.Any()).Return(false, nil)

	_, err := m.svc.ConsumeVerificationToken(context.Background(), "tok")
	require.ErrorIs(t, err, ErrInvalidVerificationToken)
}

func resetRecord(m *mockEnv, userID uuid.UUID) *models.OneTimeToken {
	return &models.OneTimeToken{
		Kind:      models.KindPasswordReset,
		TokenHash: token.Hash("reset"),
		UserID:    userID,
		CreatedAt: m.clock.Now(),
		ExpiresAt: token.ExpiryFrom(m.clock.Now(), 3600),
	}
}

func TestResetPassword_LostRaceRevokesNothing(t *testing.T) {
	t.Parallel()

	m := newSvc(t)
	rec := resetRecord(m, uuid.New())

	m.st.EXPECT().ActiveOneTimeToken(gomock.Any(), models.KindPasswordReset, rec.TokenHash).Return(rec, nil).Times(2)
	m.passTx()
	m.st.EXPECT().UpdatePassword(gomock.Any(), rec.UserID, gomock.Any(), gomock.Any()).Return(nil)
	m.st.EXPECT().MarkOneTimeTokenUsed(gomock.Any(), models.KindPasswordReset, rec.TokenHash, gomock.Any()).Return(false, nil)
	// RevokeUserRefreshTokens не ожидается: контроллер упадёт при вызове.

	err := m.svc.ResetPassword(context.Background(), "reset", "Zyxwvu9?")
	require.ErrorIs(t, err, ErrInvalidResetToken)
}

func TestResetPassword_UpdateFailureLeavesTokenUnused(t *testing.T) {
	t.Parallel()

	m := newSvc(t)
	rec := resetRecord(m, uuid.New())

	m.st.EXPECT().ActiveOneTimeToken(gomock.Any(), models.KindPasswordReset, rec.TokenHash).Return(rec, nil).Times(2)
	m.passTx()
	m.st.EXPECT().UpdatePassword(gomock.Any(), rec.UserID, gomock.Any(), gomock.Any()).Return(errDB)

	err := m.svc.ResetPassword(context.Background(), "reset", "Zyxwvu9?")
	require.ErrorIs(t, err, errDB)
}

func TestResetPassword_InvalidTokenSkipsHashing(t *testing.T) {
	t.Parallel()

	m := newSvc(t)
	m.st.EXPECT().ActiveOneTimeToken(gomock.Any(), models.KindPasswordReset, gomock.Any()).Return(nil, storage.ErrNotFound)

	err := m.svc.ResetPassword(context.Background(), "nope", "Zyxwvu9?")
	require.ErrorIs(t, err, ErrInvalidResetToken)
}

func TestChangePassword_RevokesAllButCaller(t *testing.T) {
	t.Parallel()

	m := newSvc(t)
	u := m.activeUser(t)

	m.st.EXPECT().UserByID(gomock.Any(), u.ID).Return(u, nil)
	m.passTx()
	m.st.EXPECT().UpdatePassword(gomock.Any(), u.ID, gomock.Any(), gomock.Any()).Return(nil)
	m.st.EXPECT().RevokeUserRefreshTokens(gomock.Any(), u.ID, token.Hash("current"), gomock.Any()).Return(int64(3), nil)

	require.NoError(t, m.svc.ChangePassword(context.Background(), u.ID, testPassword, "Zyxwvu9?", "current"))
}

func TestDeleteExpiredTokens_PartialFailure(t *testing.T) {
	t.Parallel()

	m := newSvc(t)
	now := m.clock.Now()

	m.st.EXPECT().DeleteExpiredRefreshTokens(gomock.Any(), now).Return(int64(0), errDB)
	m.st.EXPECT().DeleteExpiredOneTimeTokens(gomock.Any(), models.KindEmailVerification, now).Return(int64(2), nil)
	m.st.EXPECT().DeleteExpiredOneTimeTokens(gomock.Any(), models.KindPasswordReset, now).Return(int64(3), nil)

	report, err := m.svc.DeleteExpiredTokens(context.Background())
	require.ErrorIs(t, err, errDB)
	require.Equal(t, CleanupReport{EmailVerification: 2, PasswordReset: 3}, report)
}
