package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quietloop/mnemo/pkg/memory"
	"github.com/quietloop/mnemo/pkg/retrieval"
)

var searchGroup bool

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memory with hybrid vector + keyword retrieval",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().BoolVar(&searchGroup, "group", false, "group hits by source file")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	return withManager(func(ctx context.Context, m *memory.Manager) error {
		hits, err := m.Search(ctx, query)
		if err != nil {
			return err
		}
		if len(hits) == 0 {
			fmt.Println("No results.")
			return nil
		}

		if searchGroup {
			for _, g := range retrieval.GroupByFile(hits) {
				fmt.Printf("%s\n", g.Path)
				for _, r := range g.Results {
					printHit(r)
				}
			}
			return nil
		}

		for _, r := range hits {
			fmt.Printf("%s\n", r.Path)
			printHit(r)
		}
		return nil
	})
}

func printHit(r retrieval.Result) {
	fmt.Printf("  [%.3f] lines %d-%d (%s)\n", r.Score, r.StartLine, r.EndLine, r.ID)
	for _, line := range strings.Split(strings.TrimSpace(r.Text), "\n") {
		fmt.Printf("    %s\n", line)
	}
}
