package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fenggwsx/PostBoard/internal/config"
)

func main() {
	cfg := config.LoadServerConfig()

	rootCmd := &cobra.Command{
		Use:           "postboard-server",
		Short:         "Real-time message board server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.ListenAddr, "addr", cfg.ListenAddr, "listen address")
	flags.StringVar(&cfg.Database.Driver, "driver", cfg.Database.Driver, "storage driver (sqlite or postgres)")
	flags.StringVar(&cfg.Database.Path, "db", cfg.Database.Path, "sqlite database path")
	flags.StringVar(&cfg.Database.DSN, "dsn", cfg.Database.DSN, "postgres connection string")
	flags.StringVar(&cfg.Trace, "trace", cfg.Trace, "span exporter (off or stdout)")

	rootCmd.AddCommand(
		serveCmd(&cfg),
		migrateCmd(&cfg),
		historyCmd(&cfg),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
