// Точка входа Stream Gateway — шлюз потоковой выдачи файлов по HTTP
// с поддержкой Range. Команды: serve, migrate, sweep, version.
package main

import (
	"fmt"
	"os"

	"github.com/bigkaa/goartstore/stream-gateway/cmd/stream-gateway/cli"
)

func main() {
	root := cli.NewRootCommand()

	root.AddCommand(cli.NewServeCommand())
	root.AddCommand(cli.NewMigrateCommand())
	root.AddCommand(cli.NewSweepCommand())
	root.AddCommand(cli.NewVersionCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
