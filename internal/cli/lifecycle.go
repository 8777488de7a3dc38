package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/distantorigin/craftlauncher/internal/catalog"
	"github.com/distantorigin/craftlauncher/internal/changelog"
	"github.com/distantorigin/craftlauncher/internal/launch"
	"github.com/distantorigin/craftlauncher/internal/resolver"
	"github.com/distantorigin/craftlauncher/internal/store"
)

const (
	progressFlag = "progress"
	detachFlag   = "detach"
)

// plan resolves the instance's target and computes its update plan
func (a *app) plan(ctx context.Context, id string) (*store.Instance, *resolver.Plan, error) {
	inst, err := a.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	target, err := a.catalog.Resolve(ctx, catalog.Query{
		GameVersion:   inst.GameVersion,
		Loader:        inst.Loader,
		LoaderVersion: inst.LoaderVersion,
	})
	if err != nil {
		return nil, nil, err
	}
	plan, err := a.resolver.Plan(inst, target)
	if err != nil {
		return nil, nil, err
	}
	return inst, plan, nil
}

func renderPlan(w io.Writer, inst *store.Instance, plan *resolver.Plan) {
	if len(plan.Tasks) > 0 {
		t := newTable(w)
		t.AppendHeader(table.Row{"Path", "Kind", "Transfer", "Size"})
		for _, task := range plan.Tasks {
			t.AppendRow(table.Row{task.Path, task.Kind, changelog.FormatBytes(task.Size), changelog.FormatBytes(task.FileSize)})
		}
		t.Render()
		fmt.Fprintln(w)
	}
	fmt.Fprint(w, changelog.Build(plan, changelog.BuildConfig{InstanceName: inst.Name}))
}

// describe prints the kind and paths of a session failure
func describe(w io.Writer, err error) {
	var launchErr *launch.Error
	if !errors.As(err, &launchErr) || len(launchErr.Paths) == 0 {
		return
	}
	fmt.Fprintf(w, "Failed files (%d):\n", len(launchErr.Paths))
	for _, p := range launchErr.Paths {
		fmt.Fprintf(w, "  ! %s\n", p)
	}
}

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan ID",
		Short: "Show what updating an instance would download and delete",
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

			inst, plan, err := a.plan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if format == outputJSON {
				return writeJSON(cmd.OutOrStdout(), plan)
			}
			renderPlan(cmd.OutOrStdout(), inst, plan)
			return nil
		},
	}
	registerOutputFlag(cmd)
	return cmd
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync ID",
		Short: "Validate an instance and update it to its version",
		Args:  cobra.ExactArgs(1),
		RunE:  runSync,
	}
	cmd.Flags().Bool(progressFlag, true, "show download progress")
	return cmd
}

func runSync(cmd *cobra.Command, args []string) error {
	showProgress, _ := cmd.Flags().GetBool(progressFlag)
	a, err := setup(cmd, showProgress)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inst, plan, err := a.plan(ctx, args[0])
	if err != nil {
		return err
	}

	err = a.controller.Sync(ctx, inst.ID)
	a.progress.stop()
	out := cmd.OutOrStdout()
	if err != nil {
		if st := a.controller.State(inst.ID); st.Cancelled {
			fmt.Fprintln(out, "Update cancelled.")
		}
		describe(out, err)
		return err
	}

	if plan.Empty() {
		fmt.Fprintf(out, "%s is up to date (%s).\n", inst.Name, plan.Target.ID)
		return nil
	}

	summary := changelog.Build(plan, changelog.BuildConfig{InstanceName: inst.Name, Completed: time.Now()})
	path, err := changelog.Write(a.changelogDir(inst.ID), summary)
	if err != nil {
		a.logger.Warn("failed to write changelog", "instance", inst.ID, "error", err)
	} else {
		a.logger.Debug("changelog written", "path", path)
	}
	fmt.Fprintf(out, "Updated %s to %s: %d files (%d updated, %d deleted).\n",
		inst.Name, plan.Target.ID, len(plan.Tasks)+len(plan.Removals), len(plan.Tasks), len(plan.Removals))
	return nil
}

func newLaunchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launch ID",
		Short: "Update an instance if needed and start the game",
		Long: `Validates and updates the instance, then starts the game. Without
--detach the command waits for the game to exit; an interrupt stops it.`,
		Args: cobra.ExactArgs(1),
		RunE: runLaunch,
	}
	cmd.Flags().Bool(progressFlag, true, "show download progress")
	cmd.Flags().Bool(detachFlag, false, "return once the game is running")
	return cmd
}

func runLaunch(cmd *cobra.Command, args []string) error {
	showProgress, _ := cmd.Flags().GetBool(progressFlag)
	detach, _ := cmd.Flags().GetBool(detachFlag)

	a, err := setup(cmd, showProgress)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inst, err := a.store.Get(ctx, args[0])
	if err != nil {
		return err
	}

	err = a.controller.Launch(ctx, inst.ID)
	a.progress.stop()
	out := cmd.OutOrStdout()
	if err != nil {
		describe(out, err)
		return err
	}

	st := a.controller.State(inst.ID)
	fmt.Fprintf(out, "Started %s (pid %d).\n", inst.Name, st.Pid)
	if detach {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- a.controller.Wait(inst.ID)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		fmt.Fprintln(out, "Stopping game...")
		if cerr := a.controller.Cancel(inst.ID); cerr != nil && !errors.Is(cerr, launch.ErrNoSession) {
			return cerr
		}
		err = <-done
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s exited.\n", inst.Name)
	return nil
}
