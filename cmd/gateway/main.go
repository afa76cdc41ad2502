package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pal/gateway/internal/config"
	"github.com/pal/gateway/internal/gateway"
	"github.com/pal/gateway/internal/logging"
	"github.com/pal/gateway/internal/route"
)

var (
	version   = "dev"
	commit    = ""
	buildTime = "unknown"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:           "gateway",
	Short:         "Authenticating reverse proxy for backend services",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	RunE:  runServe,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and exit",
	RunE:  runValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "API Gateway %s (commit %s, built %s)\n", version, commit, buildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/gateway.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before the configuration is expanded")
	rootCmd.AddCommand(serveCmd, validateCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	loader := config.NewLoader()
	if err := loader.LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	cfg, err := loader.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logging.Info("Starting API Gateway",
		zap.String("version", version),
		zap.String("config", configPath),
		zap.Int("services", len(cfg.Services)),
	)

	ctx := context.Background()
	server, err := gateway.NewServer(ctx, cfg, gateway.WithBuildInfo(gateway.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}))
	if err != nil {
		logging.Error("Failed to create gateway", zap.Error(err))
		return err
	}

	if err := server.Run(ctx); err != nil {
		logging.Error("Server error", zap.Error(err))
		return err
	}
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	table, err := route.Build(cfg.Services)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid (%d routes)\n", table.Len())
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
