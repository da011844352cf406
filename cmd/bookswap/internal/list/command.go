package list

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/bookswap/cmd/bookswap/internal"
	"github.com/tinyland-inc/bookswap/pkg/api"
)

func NewListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List your conversations",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := internal.LoadConfig()
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}

			client := api.NewClient(cfg.API.BaseURL, cfg.API.AuthToken)
			convs, err := client.Conversations(context.Background())
			if err != nil {
				return err
			}
			if len(convs) == 0 {
				fmt.Println("No conversations yet.")
				return nil
			}

			for _, c := range convs {
				name := c.PartnerName
				if name == "" {
					name = cfg.PeerName(c.PartnerID)
				}
				unread := ""
				if c.UnreadCount > 0 {
					unread = fmt.Sprintf(" (%d unread)", c.UnreadCount)
				}
				preview := c.LastMessage
				if len(preview) > 48 {
					preview = preview[:45] + "..."
				}
				when := ""
				if !c.LastMessageAt.IsZero() {
					when = c.LastMessageAt.Local().Format("Jan 2 15:04")
				}
				fmt.Printf("%-12s %-16s %-12s %s%s\n", c.ID, name, when, preview, unread)
			}
			return nil
		},
	}
}
