package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/stream-gateway/internal/config"
)

// NewVersionCommand создаёт команду вывода версии.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Версия Stream Gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "stream-gateway %s\n", config.Version)
			return err
		},
	}
}
