package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quietloop/mnemo/pkg/memory"
)

var forgetCmd = &cobra.Command{
	Use:   "forget <content or chunk id>",
	Short: "Delete a memory entry by content or chunk id",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runForget,
}

func init() {
	rootCmd.AddCommand(forgetCmd)
}

func runForget(cmd *cobra.Command, args []string) error {
	target := strings.Join(args, " ")

	return withManager(func(ctx context.Context, m *memory.Manager) error {
		res, err := m.Forget(ctx, target)
		if err != nil {
			return err
		}
		fmt.Println(res.Message)
		return nil
	})
}
