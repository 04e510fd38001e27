package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"tgeasy/internal/domain"
	"tgeasy/internal/infra/db"
)

// Store объединяет хранилище прав и бизнесовых событий.
type Store interface {
	domain.PermissionRepo
	domain.BusinessMetricRepo
	Close()
}

// Open выбирает реализацию хранилища по схеме DSN и применяет миграции.
// postgres:// и postgresql:// открывают Postgres, sqlite://, file: и memory открывают SQLite.
func Open(ctx context.Context, dsn string, logger zerolog.Logger) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return nil, fmt.Errorf("store dsn is empty")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		pool, err := db.Connect(ctx, dsn, 5)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		store := NewPostgres(pool)
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return store, nil
	case dsn == "memory", strings.HasPrefix(dsn, "sqlite://"), strings.HasPrefix(dsn, "file:"):
		gdb, err := db.OpenSQLite(sqlitePath(dsn), logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		store := NewGorm(gdb)
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported store dsn scheme: %q", schemeOf(dsn))
	}
}

func sqlitePath(dsn string) string {
	switch {
	case dsn == "memory":
		return ":memory:"
	case strings.HasPrefix(dsn, "sqlite://"):
		path := strings.TrimPrefix(dsn, "sqlite://")
		if path == "" {
			return ":memory:"
		}
		return path
	default:
		return dsn
	}
}

func schemeOf(dsn string) string {
	if idx := strings.Index(dsn, "://"); idx >= 0 {
		return dsn[:idx]
	}
	return "none"
}
