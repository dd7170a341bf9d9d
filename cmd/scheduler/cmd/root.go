package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ft54482/owl-workshop/internal/common"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "scheduler dispatches GPU jobs onto the worker fleet",
	}
	common.ConfigureLogging()

	cmd.AddCommand(
		runCmd(),
	)

	return cmd
}
