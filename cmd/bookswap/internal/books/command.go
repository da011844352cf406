package books

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/bookswap/cmd/bookswap/internal"
	"github.com/tinyland-inc/bookswap/pkg/api"
	"github.com/tinyland-inc/bookswap/pkg/exchange"
)

func NewBooksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "books <conversation-id>",
		Short: "Show the current offer pair for a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := internal.LoadConfig()
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}

			client := api.NewClient(cfg.API.BaseURL, cfg.API.AuthToken)
			neg, err := client.Books(context.Background(), args[0])
			if err != nil {
				return err
			}

			if neg.Vacant() {
				fmt.Println("No exchange request outstanding.")
				return nil
			}
			fmt.Printf("Negotiation %s [%s]\n", neg.ID, neg.DisplayStatus())
			printSlot("mine", neg.Mine)
			printSlot("partner", neg.Partner)
			return nil
		},
	}
}

func printSlot(label string, offer *exchange.BookOffer) {
	if offer == nil {
		fmt.Printf("  %-8s (vacant)\n", label)
		return
	}
	title := offer.Title
	if title == "" {
		title = offer.BookID
	}
	fmt.Printf("  %-8s %s [%s]\n", label, title, offer.Status)
}
