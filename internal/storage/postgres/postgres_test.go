package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pribylovaa/go-news-aggregator/session-service/internal/models"
)

// Интеграционные тесты пакета postgres:
// - поднимают реальный PostgreSQL через testcontainers-go (postgres:16-alpine);
// - применяют встроенные миграции goose (Storage.Migrate);
// - проверяют контракты пользователей, refresh- и одноразовых токенов,
//   включая конкурентную ротацию одного токена.
//
// Запуск локально:
//   GO_TEST_INTEGRATION=1 go test ./internal/storage/postgres -v -race -count=1

// startPostgres поднимает временный PostgreSQL, применяет миграции и возвращает
// хранилище и функцию очистки. Без GO_TEST_INTEGRATION тест пропускается.
func startPostgres(t *testing.T) (*Storage, func()) {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_USER": "user", "POSTGRES_PASSWORD": "pass", "POSTGRES_DB": "db"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)

	host, _ := c.Host(ctx)
	port, _ := c.MappedPort(ctx, "5432/tcp")
	dsn := fmt.Sprintf("postgres://user:pass@%s:%s/db?sslmode=disable", host, port.Port())

	st, err := New(ctx, dsn)
	require.NoError(t, err)

	applied, err := st.Migrate(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, applied)

	cleanup := func() {
		st.Close()
		_ = c.Terminate(context.Background())
	}
	return st, cleanup
}

// seedUser создаёт пользователя с уникальными email/username.
func seedUser(t *testing.T, st *Storage, name string) *models.User {
	t.Helper()
	now := time.Now().UTC()
	u := &models.User{
		ID:           uuid.New(),
		Email:        name + "@example.com",
		Username:     name,
		Role:         models.RoleUser,
		PasswordHash: "hash",
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, st.SaveUser(context.Background(), u))
	return u
}

func TestIntegration_Migrate_Idempotent(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	applied, err := st.Migrate(context.Background())
	require.NoError(t, err)
	require.Zero(t, applied)
}

func TestIntegration_WithinTx_RollbackOnError(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	u := seedUser(t, st, "tx-user")

	boom := fmt.Errorf("boom")
	err := st.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, st.UpdatePassword(ctx, u.ID, "new-hash", time.Now().UTC()))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := st.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "hash", got.PasswordHash)
}

func TestIntegration_WithinTx_NestedJoinsOuter(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	u := seedUser(t, st, "nested")

	err := st.WithinTx(ctx, func(ctx context.Context) error {
		if err := st.WithinTx(ctx, func(ctx context.Context) error {
			return st.SetEmailVerified(ctx, u.ID, true, time.Now().UTC())
		}); err != nil {
			return err
		}
		return fmt.Errorf("outer failed")
	})
	require.Error(t, err)

	got, err := st.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.False(t, got.EmailVerified)
}
