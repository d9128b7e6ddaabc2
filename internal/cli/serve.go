package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quietloop/mnemo/internal/logger"
	"github.com/quietloop/mnemo/pkg/memory"
	"github.com/quietloop/mnemo/pkg/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the memory engine with file watching until interrupted",
	Long: `Run the memory engine as a long-lived process: the index follows
edits to the memory files, expired entries are swept hourly, and idle
sessions are flushed into notes-tier memory.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()
	zl := log.GetZerolog()

	ctx := context.Background()
	m := memory.NewManager(cfg, zl)
	if err := m.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize memory engine: %w", err)
	}
	defer m.Close()

	watcher := memory.NewWatcher(m, cfg.Memory.SyncDebounce, zl)
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("failed to start sync watcher: %w", err)
	}
	defer watcher.Stop()

	tracker := session.NewTracker(session.Config{
		InactivityFlush: cfg.Session.InactivityFlush,
		CheckInterval:   cfg.Session.CheckInterval,
	}, zl)
	tracker.OnFlush(func(ctx context.Context, summary string) error {
		_, err := m.Remember(ctx, summary, "notes")
		return err
	})
	tracker.Start()
	defer tracker.Stop()

	fmt.Printf("mnemo serving from %s (ctrl-c to stop)\n", cfg.DataDir)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Println("shutting down")
	return nil
}
