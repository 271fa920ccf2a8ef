// migrations хранит SQL-миграции схемы и применяет их через goose.
package migrations

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
)

//go:embed *.sql
var FS embed.FS

// Up применяет все неприменённые миграции и возвращает их число.
// Пул не закрывается: *sql.DB поверх него живёт только на время вызова.
func Up(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	const op = "migrations.Up"

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(database.DialectPostgres, db, FS)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return len(results), nil
}
