package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quietloop/mnemo/internal/config"
	"github.com/quietloop/mnemo/internal/logger"
	"github.com/quietloop/mnemo/pkg/memory"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mnemo",
	Short: "Mnemo - tiered memory and hybrid retrieval for AI agents",
	Long: `Mnemo keeps an agent's long-term memory in plain markdown files and
derives a SQLite index over them for hybrid vector + keyword retrieval.
Memories are tiered (core, stable, notes) with per-tier expiry, and the
index follows file edits automatically.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mnemo/mnemo.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withManager loads config, initializes the memory manager, runs fn, and
// tears everything down again. One-shot commands funnel through here.
func withManager(fn func(ctx context.Context, m *memory.Manager) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: false,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	ctx := context.Background()
	m := memory.NewManager(cfg, log.GetZerolog())
	if err := m.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize memory engine: %w", err)
	}
	defer m.Close()

	return fn(ctx, m)
}
