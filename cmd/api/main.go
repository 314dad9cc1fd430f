package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "market-api",
		Short:         "Marketplace messaging API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	serve := newServeCommand()
	root.AddCommand(serve, newMigrateCommand(), newReindexCommand())
	root.RunE = serve.RunE
	return root
}
