package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-expense-approvals/internal/config"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/pkg/logger"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "expense-approvals",
		Short:         "Expense approval workflow service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().String("store", "", "persistence backend: postgres or memory")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configFile)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}
	serve.Flags().Int("port", 0, "HTTP port")
	serve.Flags().Int("grpc-port", 0, "gRPC port")
	serve.Flags().String("seed", "", "YAML fixture of members and submissions for the memory store")

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configFile)
			if err != nil {
				return err
			}
			return runMigrations(cmd.Context(), cfg)
		},
	}

	root.AddCommand(serve, migrate)
	return root
}

// loadConfig reads .env, then the layered config with cmd's flags on top.
func loadConfig(cmd *cobra.Command, configFile string) (*config.Config, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	loader := config.NewLoader()
	if configFile != "" {
		loader.SetConfigFile(configFile)
	}
	if err := loader.BindFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	return loader.Load()
}

func newLogger(cfg *config.Config) *logger.Logger {
	return logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})
}

func runMigrations(ctx context.Context, cfg *config.Config) error {
	log := newLogger(cfg)
	if cfg.Store.Driver != "postgres" {
		return fmt.Errorf("migrate requires the postgres store, got %q", cfg.Store.Driver)
	}
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return repository.Migrate(ctx, db, log)
}
