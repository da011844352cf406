package chat

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/bookswap/cmd/bookswap/internal"
	"github.com/tinyland-inc/bookswap/pkg/logger"
)

func NewChatCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "chat <conversation-id>",
		Aliases: []string{"c"},
		Short:   "Open a conversation for chat and exchange negotiation",
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := internal.LoadConfig()
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}

			logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
			if debug {
				logger.SetLevel(logger.DEBUG)
				fmt.Println("🔍 Debug mode enabled")
			}

			if cfg.User.ID == "" {
				return fmt.Errorf("user.id is not configured; set it in %s or BOOKSWAP_USER_ID", internal.GetConfigPath())
			}

			return chatCmd(cfg, args[0])
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}
