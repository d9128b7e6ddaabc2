package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quietloop/mnemo/pkg/memory"
)

var rememberTier string

var rememberCmd = &cobra.Command{
	Use:   "remember <text>",
	Short: "Save a memory entry",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRemember,
}

func init() {
	rememberCmd.Flags().StringVar(&rememberTier, "tier", "stable", "retention tier (core, stable, notes)")
	rootCmd.AddCommand(rememberCmd)
}

func runRemember(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")

	return withManager(func(ctx context.Context, m *memory.Manager) error {
		res, err := m.Remember(ctx, text, rememberTier)
		if err != nil {
			return err
		}
		fmt.Println(res.Message)
		if !res.OK {
			return fmt.Errorf("remember failed")
		}
		return nil
	})
}
