package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/pelusa-v/pelusa-chat/internal/config"
	"github.com/pelusa-v/pelusa-chat/internal/store/sqlstore"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "pelusa-chat",
	Short: "Real-time chat and presence server",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// .env 可选
		_ = godotenv.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().String("dsn", "", "sqlite database path (overrides store.dsn)")
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().String("log-level", "", "debug, info, warn or error")
	rootCmd.AddCommand(serveCmd, userCmd, tokenCmd)
	userCmd.AddCommand(userAddCmd)
}

// openStore loads config and opens a migrated store.
func openStore(cmd *cobra.Command) (*config.Config, *sqlstore.Store, error) {
	ctx := cmd.Context()
	cfg, err := config.LoadWithFlags(cfgFile, cmd.Flags())
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	db, err := sqlstore.Open(cfg.Store.DSN)
	if err != nil {
		return nil, nil, err
	}
	st := sqlstore.New(db)
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return cfg, st, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
