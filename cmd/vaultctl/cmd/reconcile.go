package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func ReconcileCmd() *cobra.Command {
	var deep bool

	c := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare the catalog with blob storage and report drift",
		Long: "Report blobs without a catalog record, records whose blob is gone and,\n" +
			"with --deep, blobs whose checksum no longer matches. Nothing is repaired.\n" +
			"Exits non-zero when issues are found.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.ReconcileService.Run(cmd.Context(), deep)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}

			if !report.Consistent() {
				return fmt.Errorf("%d issues found", len(report.Issues))
			}
			return nil
		},
	}

	c.Flags().BoolVar(&deep, "deep", false, "also verify every blob checksum")
	return c
}
