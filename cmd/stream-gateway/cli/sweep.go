package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/stream-gateway/internal/clock"
	"github.com/bigkaa/goartstore/stream-gateway/internal/config"
	"github.com/bigkaa/goartstore/stream-gateway/internal/service"
)

// NewSweepCommand создаёт команду разовой очистки просроченных файлов
// и устаревших активных запросов (например, из CronJob).
func NewSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Разовая очистка просроченных записей",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if cfg.Store != config.StorePostgres {
				return errors.New("разовая очистка применима только при SG_STORE=postgres")
			}

			ctx := cmd.Context()
			st, err := openStores(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer st.Close()

			clk := clock.Real{}
			registry := service.NewRegistryService(st.files, st.users, nil, clk, cfg.FileTTL, logger)
			tracker := service.NewTrackerService(st.requests, clk, cfg.RequestTTL, logger)
			reaper := service.NewReaperService(registry, tracker, cfg.FileSweepInterval, cfg.RequestSweepInterval, logger)

			res := reaper.RunOnce(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "files_removed=%d requests_removed=%d errors=%d duration=%s\n",
				res.FilesRemoved, res.RequestsRemoved, res.Errors, res.Duration)
			if res.Errors > 0 {
				return fmt.Errorf("очистка завершилась с ошибками: %d", res.Errors)
			}
			return nil
		},
	}
}
