// Package cli implements the craftlauncher command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/distantorigin/craftlauncher/internal/logging"
)

const (
	ConfigFlag = "config"
	OutputFlag = "output"
	YesFlag    = "yes"
)

// Execute runs the root command. This is called by main.main().
func Execute() {
	if err := New().Execute(); err != nil {
		os.Exit(1)
	}
}

// New builds the root command
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "craftlauncher [sub-command]",
		Short: "Manage, update and launch game instances",
		Long: `craftlauncher keeps game instances in sync with the version index,
applying delta updates where possible, and launches them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}

	cmd.PersistentFlags().String(ConfigFlag, "", "path to the config file (default ./config.yaml)")
	logging.RegisterFlags(cmd)

	cmd.AddCommand(newCreateCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newRemoveCmd())
	cmd.AddCommand(newPlanCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newLaunchCmd())
	cmd.AddCommand(newVersionsCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}
