package cli

import (
	"github.com/spf13/cobra"
)

var stageCmd = &cobra.Command{
	Use:   "stage",
	Short: "Run the stream enrichment stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RunStage(cmd.Context())
	},
}
