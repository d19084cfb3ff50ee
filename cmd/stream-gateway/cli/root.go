// Пакет cli — команды stream-gateway на cobra.
// Конфигурация читается из переменных окружения SG_*.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/stream-gateway/internal/config"
	"github.com/bigkaa/goartstore/stream-gateway/internal/database"
	"github.com/bigkaa/goartstore/stream-gateway/internal/repository"
	"github.com/bigkaa/goartstore/stream-gateway/internal/repository/memstore"
)

// NewRootCommand создаёт корневую команду.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stream-gateway",
		Short:         "Stream Gateway — потоковая выдача файлов по HTTP",
		Long:          "Шлюз выдачи файлов по ссылкам /dl/{id} и /watch/{id} с поддержкой Range, TTL ссылок и пулом backend-клиентов.",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.Version = config.Version
	return cmd
}

// setup загружает конфигурацию и настраивает логгер.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}
	return cfg, config.SetupLogger(cfg), nil
}

// stores — репозитории выбранного хранилища.
type stores struct {
	files    repository.FileRepository
	users    repository.UserRepository
	requests repository.RequestRepository
	// pg — пул PostgreSQL (nil при SG_STORE=memory)
	pg *pgxpool.Pool
}

// Close закрывает пул PostgreSQL.
func (s *stores) Close() {
	if s.pg != nil {
		s.pg.Close()
	}
}

// openStores открывает хранилище по SG_STORE. Для PostgreSQL
// при migrate=true перед подключением применяются миграции.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger, migrate bool) (*stores, error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("SG_STORE=memory: записи не переживают перезапуск и не разделяются между экземплярами")
		mem := memstore.New()
		return &stores{files: mem.Files(), users: mem.Users(), requests: mem.Requests()}, nil
	}

	if migrate {
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			return nil, fmt.Errorf("ошибка миграций БД: %w", err)
		}
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
	}
	return &stores{
		files:    repository.NewFileRepository(pool),
		users:    repository.NewUserRepository(pool),
		requests: repository.NewRequestRepository(pool),
		pg:       pool,
	}, nil
}
