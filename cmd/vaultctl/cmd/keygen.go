package cmd

import (
	"fmt"

	"github.com/sealbox/sealbox/internal/crypt"
	"github.com/spf13/cobra"
)

func KeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a fresh base64 encryption key",
		Long: "Print a fresh base64 encryption key for ENCRYPTION_KEY.\n" +
			"To rotate, move the current key to ENCRYPTION_KEYS_PREVIOUS, set the new one and run rekey.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := crypt.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), crypt.EncodeKey(k))
			return nil
		},
	}
}
