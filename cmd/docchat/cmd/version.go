package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/docchat/docchat/pkg/version"
)

// NewVersionCmd creates the version command.
func NewVersionCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput {
				out, err := json.MarshalIndent(version.GetInfo(), "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(out))
				return nil
			}

			cmd.Println(version.String())
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
