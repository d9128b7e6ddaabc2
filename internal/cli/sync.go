package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quietloop/mnemo/pkg/memory"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Force a full incremental resync of the index",
	RunE:  runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	return withManager(func(ctx context.Context, m *memory.Manager) error {
		if err := m.SyncAll(ctx); err != nil {
			return err
		}
		st, err := m.GetStats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Synced. %d files, %d chunks (%d embedded).\n", st.Files, st.Chunks, st.Embedded)
		return nil
	})
}
