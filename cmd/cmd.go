// Package cmd holds the offline helper commands: document extraction and
// mbox classification.
package cmd

import "github.com/spf13/cobra"

// AddCommands registers the helper commands on root.
func AddCommands(root *cobra.Command) {
	root.AddCommand(newExtractCmd(), newClassifyCmd())
}
