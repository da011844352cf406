// BookSwap - terminal client for the book exchange service.
//
// License: MIT
//
// Copyright (c) 2026 BookSwap contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/bookswap/cmd/bookswap/internal"
	"github.com/tinyland-inc/bookswap/cmd/bookswap/internal/books"
	"github.com/tinyland-inc/bookswap/cmd/bookswap/internal/chat"
	"github.com/tinyland-inc/bookswap/cmd/bookswap/internal/leave"
	"github.com/tinyland-inc/bookswap/cmd/bookswap/internal/list"
	"github.com/tinyland-inc/bookswap/cmd/bookswap/internal/version"
)

func NewBookswapCommand() *cobra.Command {
	short := fmt.Sprintf("%s bookswap - Book exchange client v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "bookswap",
		Short:   short,
		Example: "bookswap chat conv-42",
	}

	cmd.AddCommand(
		chat.NewChatCommand(),
		list.NewListCommand(),
		books.NewBooksCommand(),
		leave.NewLeaveCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewBookswapCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
