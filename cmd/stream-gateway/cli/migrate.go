package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/stream-gateway/internal/config"
	"github.com/bigkaa/goartstore/stream-gateway/internal/database"
)

// NewMigrateCommand создаёт команду применения миграций.
// Включает заполнение expires_at у записей, созданных без срока жизни.
func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Применить миграции PostgreSQL",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if cfg.Store != config.StorePostgres {
				return errors.New("миграции применимы только при SG_STORE=postgres")
			}
			return database.Migrate(cfg, logger)
		},
	}
}
