package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/distantorigin/craftlauncher/internal/channel"
)

const rememberFlag = "remember"

func newVersionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List the game versions offered by the catalog, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			a, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			chName, _ := cmd.Flags().GetString(channelFlag)
			ch, err := a.channel(chName)
			if err != nil {
				return err
			}
			if remember, _ := cmd.Flags().GetBool(rememberFlag); remember {
				if err := channel.Save(a.cfg.DataDir, ch); err != nil {
					return fmt.Errorf("failed to remember channel: %w", err)
				}
			}

			versions, err := a.catalog.Versions(cmd.Context(), ch)
			if err != nil {
				return err
			}
			if format == outputJSON {
				if versions == nil {
					versions = []string{}
				}
				return writeJSON(cmd.OutOrStdout(), versions)
			}
			for _, v := range versions {
				fmt.Fprintln(cmd.OutOrStdout(), v)
			}
			return nil
		},
	}
	cmd.Flags().String(channelFlag, "", "version channel (release, snapshot); defaults to the remembered channel")
	cmd.Flags().Bool(rememberFlag, false, "remember --channel for later commands")
	registerOutputFlag(cmd)
	return cmd
}
