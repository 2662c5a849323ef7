// Package app provides the entry point for the provisioner command-line
// application.
package app

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:               "provisioner",
	DisableAutoGenTag: true,
	Short:             "Credential provisioning for Amazon Q Business connectors",
	Long: `The provisioner drives the credential setup for Amazon Q Business data
source connectors (SharePoint, Zendesk, ServiceNow, Salesforce): registering
OAuth applications with the providers, walking interactive authorization
flows, storing the resulting credentials, and handing verified credentials
over to the indexing platform.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		// If no subcommand is provided, print help
		return cmd.Help()
	},
}

// NewRootCmd creates a new root command for the provisioner.
func NewRootCmd() *cobra.Command {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
