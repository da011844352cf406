package leave

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/bookswap/cmd/bookswap/internal"
	"github.com/tinyland-inc/bookswap/pkg/api"
)

func NewLeaveCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "leave <conversation-id>",
		Short: "Leave a conversation, purging your view of it",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("leaving removes the conversation from your account; re-run with --yes to confirm")
			}

			cfg, err := internal.LoadConfig()
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}

			client := api.NewClient(cfg.API.BaseURL, cfg.API.AuthToken)
			if err := client.LeaveConversation(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Left conversation %s.\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation")
	return cmd
}
