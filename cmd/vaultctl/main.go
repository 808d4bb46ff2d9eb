package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sealbox/sealbox/cmd/vaultctl/cmd"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "vaultctl",
		Short:        "Operator tools for sealbox",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(cmd.KeygenCmd())
	rootCmd.AddCommand(cmd.MigrateCmd())
	rootCmd.AddCommand(cmd.ReconcileCmd())
	rootCmd.AddCommand(cmd.RekeyCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
