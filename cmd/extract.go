package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dhcgn/invoice-ingest/billing"
)

func newExtractCmd() *cobra.Command {
	var compact bool

	cmd := &cobra.Command{
		Use:   "extract [document.xml]",
		Short: "Print the billing record extracted from an electronic invoice XML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := billing.ParseFile(args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			if !compact {
				enc.SetIndent("", "  ")
			}
			if err := enc.Encode(b); err != nil {
				return fmt.Errorf("encode billing record: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&compact, "compact", false, "Print the record on a single line")
	return cmd
}
