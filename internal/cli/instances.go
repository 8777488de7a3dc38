package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/distantorigin/craftlauncher/internal/prompt"
	"github.com/distantorigin/craftlauncher/internal/store"
	"github.com/distantorigin/craftlauncher/internal/version"
)

const (
	versionFlag       = "version"
	loaderFlag        = "loader"
	loaderVersionFlag = "loader-version"
	channelFlag       = "channel"

	// choices offered when create has to ask for a version
	maxVersionChoices = 10
)

func promptConfig(cmd *cobra.Command) prompt.Config {
	yes, _ := cmd.Flags().GetBool(YesFlag)
	return prompt.Config{
		NonInteractive: yes,
		In:             cmd.InOrStdin(),
		Out:            cmd.OutOrStdout(),
	}
}

func newCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a new instance",
		Args:  cobra.ExactArgs(1),
		Example: `  # Create a Fabric instance
  craftlauncher create Survival --version 1.20.1 --loader fabric --loader-version 0.15.3

  # Pick the game version from the catalog
  craftlauncher create Creative`,
		RunE: runCreate,
	}
	cmd.Flags().String(versionFlag, "", "game version; asks when empty")
	cmd.Flags().String(loaderFlag, string(version.LoaderNone), "mod loader (none, fabric, forge, quilt)")
	cmd.Flags().String(loaderVersionFlag, "", "mod loader version")
	cmd.Flags().String(channelFlag, "", "channel offered when asking for a version (release, snapshot)")
	cmd.Flags().BoolP(YesFlag, "y", false, "do not ask; take the newest version when --version is empty")
	registerOutputFlag(cmd)
	return cmd
}

func runCreate(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	a, err := setup(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	loaderName, _ := cmd.Flags().GetString(loaderFlag)
	loader, err := version.ParseLoader(loaderName)
	if err != nil {
		return err
	}
	loaderVersion, _ := cmd.Flags().GetString(loaderVersionFlag)

	gameVersion, _ := cmd.Flags().GetString(versionFlag)
	if gameVersion == "" {
		chName, _ := cmd.Flags().GetString(channelFlag)
		ch, err := a.channel(chName)
		if err != nil {
			return err
		}
		versions, err := a.catalog.Versions(cmd.Context(), ch)
		if err != nil {
			return fmt.Errorf("failed to list versions: %w", err)
		}
		if len(versions) > maxVersionChoices {
			versions = versions[:maxVersionChoices]
		}
		idx, err := prompt.Choose("Select a game version:", versions, promptConfig(cmd))
		if err != nil {
			return err
		}
		gameVersion = versions[idx]
	}

	inst, err := a.store.Create(cmd.Context(), store.Spec{
		Name:          args[0],
		GameVersion:   gameVersion,
		Loader:        loader,
		LoaderVersion: loaderVersion,
	})
	if err != nil {
		return err
	}

	if format == outputJSON {
		return writeJSON(cmd.OutOrStdout(), inst)
	}
	renderInstance(cmd.OutOrStdout(), inst)
	return nil
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List instances in creation order",
		Args:    cobra.NoArgs,
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

			list, err := a.store.List(cmd.Context())
			if err != nil {
				return err
			}
			if format == outputJSON {
				if list == nil {
					list = []*store.Instance{}
				}
				return writeJSON(cmd.OutOrStdout(), list)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No instances.")
				return nil
			}
			renderInstances(cmd.OutOrStdout(), list)
			return nil
		},
	}
	registerOutputFlag(cmd)
	return cmd
}

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show an instance",
		Args:  cobra.ExactArgs(1),
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

			inst, err := a.store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if format == outputJSON {
				return writeJSON(cmd.OutOrStdout(), inst)
			}
			renderInstance(cmd.OutOrStdout(), inst)
			return nil
		},
	}
	registerOutputFlag(cmd)
	return cmd
}

func newRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "remove ID",
		Aliases: []string{"rm"},
		Short:   "Remove an instance and all of its files",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			inst, err := a.store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !prompt.Confirm(fmt.Sprintf("Remove %q and all of its files?", inst.Name), promptConfig(cmd)) {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
			if err := a.store.Remove(cmd.Context(), inst.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", inst.ID)
			return nil
		},
	}
	cmd.Flags().BoolP(YesFlag, "y", false, "do not ask for confirmation")
	return cmd
}
