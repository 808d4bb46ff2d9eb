package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func RekeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rekey",
		Short: "Re-encrypt every file under the primary key",
		Long: "Re-encrypt files sealed with a key from ENCRYPTION_KEYS_PREVIOUS under the\n" +
			"primary key. Files already under the primary key are left alone.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "primary key: %s\n", a.Cipher.PrimaryKeyID())

			rotated, err := a.FileService.RekeyAll(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "rekeyed %d files\n", rotated)
			return err
		},
	}
}
