package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/quietloop/mnemo/pkg/memory"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory engine statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	return withManager(func(ctx context.Context, m *memory.Manager) error {
		st, err := m.GetStats(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Provider:       %s (%s)\n", st.Provider, st.Model)
		fmt.Printf("Vector search:  %v\n", st.VectorSearch)
		fmt.Printf("Text search:    %v\n", st.TextSearch)
		fmt.Printf("Files indexed:  %d\n", st.Files)
		fmt.Printf("Chunks:         %d (%d embedded)\n", st.Chunks, st.Embedded)
		fmt.Printf("Daily logs:     %d\n", st.DailyLogs)
		fmt.Printf("Memory file:    %d bytes\n", st.MemoryBytes)
		fmt.Printf("Cache entries:  %d (hit rate %.0f%%)\n", st.CacheEntries, st.CacheHitRate*100)

		if len(st.EntryCounts) > 0 {
			fmt.Println("Entries by tier:")
			tiers := make([]string, 0, len(st.EntryCounts))
			for tier := range st.EntryCounts {
				tiers = append(tiers, tier)
			}
			sort.Strings(tiers)
			for _, tier := range tiers {
				fmt.Printf("  %-8s %d\n", tier, st.EntryCounts[tier])
			}
		}
		return nil
	})
}
