// Package cmd provides the CLI commands for DocChat.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/docchat/docchat/pkg/version"
)

var configDir string

// NewRootCmd creates the root command for the docchat CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docchat",
		Short: "Document question answering over an uploaded PDF",
		Long: `DocChat answers natural-language questions by retrieving relevant
passages from an uploaded PDF and forwarding them to a completion model.

Run 'docchat serve' to start the HTTP API.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.SetVersionTemplate("docchat version {{.Version}}\n")
	cmd.PersistentFlags().StringVar(&configDir, "config-dir", ".",
		"Directory containing .docchat.yaml")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewConfigCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	// Local .env files carry the API key in development. Absence is fine.
	_ = godotenv.Load()

	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
