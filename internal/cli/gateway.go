package cli

import (
	"github.com/spf13/cobra"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the ingest API with the publish/ack gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RunGateway(cmd.Context())
	},
}
