package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/distantorigin/craftlauncher/internal/store"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

func registerOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringP(OutputFlag, "o", outputTable, "output format (table, json)")
}

func outputFormat(cmd *cobra.Command) (string, error) {
	format, err := cmd.Flags().GetString(OutputFlag)
	if err != nil {
		return "", fmt.Errorf("getting output flag failed: %w", err)
	}
	switch format {
	case outputTable, outputJSON:
		return format, nil
	}
	return "", fmt.Errorf("unknown output format %q (want %s or %s)", format, outputTable, outputJSON)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func installed(i *store.Instance) string {
	if i.InstalledVersion == "" {
		return "-"
	}
	return i.InstalledVersion
}

func renderInstances(w io.Writer, list []*store.Instance) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Name", "Version", "Installed", "Updating", "Last Played"})
	for _, i := range list {
		t.AppendRow(table.Row{i.ID, i.Name, i.VersionID(), installed(i), i.Updating, formatTime(i.LastPlayed)})
	}
	t.Render()
}

func renderInstance(w io.Writer, i *store.Instance) {
	t := newTable(w)
	t.AppendRows([]table.Row{
		{"ID", i.ID},
		{"Name", i.Name},
		{"Game Version", i.GameVersion},
		{"Loader", i.Loader},
		{"Loader Version", i.LoaderVersion},
		{"Installed", installed(i)},
		{"Files", len(i.Manifest)},
		{"Updating", i.Updating},
		{"Last Played", formatTime(i.LastPlayed)},
		{"Created", formatTime(i.CreatedAt)},
	})
	t.Render()
}
