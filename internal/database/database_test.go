package database

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/bigkaa/goartstore/stream-gateway/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestMigrate проверяет применение миграций и их идемпотентность.
func TestMigrate(t *testing.T) {
	cfg := testutil.StartPostgres(t)
	logger := testLogger()

	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}
	// Повторное применение — без ошибки (ErrNoChange)
	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Повторный Migrate() вернул ошибку: %v", err)
	}

	ctx := context.Background()
	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"file_records", "users", "active_requests"} {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table,
		).Scan(&exists)
		if err != nil {
			t.Fatalf("Ошибка проверки таблицы %s: %v", table, err)
		}
		if !exists {
			t.Errorf("Таблица %s не создана", table)
		}
	}

	status, msg := NewReadinessChecker(pool).CheckReady()
	if status != "ok" {
		t.Errorf("CheckReady() = %q (%s), ожидался ok", status, msg)
	}
}

// TestMigrate_BackfillsExpiry проверяет заполнение expires_at у записей без срока жизни.
func TestMigrate_BackfillsExpiry(t *testing.T) {
	cfg := testutil.StartPostgres(t)
	logger := testLogger()
	ctx := context.Background()

	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	// Схема в состоянии до миграции 000004: expires_at допускает NULL.
	for _, stmt := range []string{
		mustRead(t, "migrations/000001_create_file_records.up.sql"),
		`INSERT INTO file_records (owner_user_id, dedup_key, source_key, created_at)
			VALUES (1, 'fresh', 'k1', now() - INTERVAL '10 minutes'),
			       (1, 'old', 'k2', now() - INTERVAL '2 hours')`,
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("Ошибка подготовки схемы: %v", err)
		}
	}
	if _, err := pool.Exec(ctx, `CREATE TABLE schema_migrations (version bigint NOT NULL PRIMARY KEY, dirty boolean NOT NULL)`); err != nil {
		t.Fatalf("Ошибка подготовки schema_migrations: %v", err)
	}
	if _, err := pool.Exec(ctx, `INSERT INTO schema_migrations VALUES (1, false)`); err != nil {
		t.Fatalf("Ошибка подготовки schema_migrations: %v", err)
	}

	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}

	var freshLeft, oldLeft int64
	err = pool.QueryRow(ctx,
		`SELECT
			(SELECT EXTRACT(EPOCH FROM expires_at - now())::bigint FROM file_records WHERE dedup_key = 'fresh'),
			(SELECT EXTRACT(EPOCH FROM expires_at - now())::bigint FROM file_records WHERE dedup_key = 'old')`,
	).Scan(&freshLeft, &oldLeft)
	if err != nil {
		t.Fatalf("Ошибка чтения expires_at: %v", err)
	}

	// Свежая запись: created_at + 1h, то есть около 50 минут.
	if freshLeft < 45*60 || freshLeft > 51*60 {
		t.Errorf("остаток свежей записи = %ds, ожидалось около 3000s", freshLeft)
	}
	// Старая запись: now + 60s.
	if oldLeft < 0 || oldLeft > 61 {
		t.Errorf("остаток старой записи = %ds, ожидалось не более 60s", oldLeft)
	}
}

func mustRead(t *testing.T, name string) string {
	t.Helper()
	data, err := migrationsFS.ReadFile(name)
	if err != nil {
		t.Fatalf("Не удалось прочитать %s: %v", name, err)
	}
	return string(data)
}
