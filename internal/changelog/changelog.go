// Package changelog renders the human readable summary of an update plan.
package changelog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/distantorigin/craftlauncher/internal/resolver"
)

// FileName is written into the data directory after each update
const FileName = "update-changelog.txt"

// BuildConfig holds configuration for building a changelog
type BuildConfig struct {
	InstanceName string
	// Completed is when the update finished; zero renders a pending plan
	Completed time.Time
}

// FormatBytes renders a byte count with binary units
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// Build creates a formatted changelog string
func Build(plan *resolver.Plan, cfg BuildConfig) string {
	var changelog strings.Builder

	var full, deltas int
	var fileBytes int64
	for _, t := range plan.Tasks {
		fileBytes += t.FileSize
		if t.Kind == resolver.KindDelta {
			deltas++
		} else {
			full++
		}
	}
	totalChanges := len(plan.Tasks) + len(plan.Removals)

	changelog.WriteString("Update Changelog\n\n")
	if cfg.InstanceName != "" {
		changelog.WriteString(fmt.Sprintf("Instance: %s\n", cfg.InstanceName))
	}
	from := plan.From
	if from == "" {
		from = "(fresh install)"
	}
	changelog.WriteString(fmt.Sprintf("Version: %s -> %s\n", from, plan.Target.ID))
	if !cfg.Completed.IsZero() {
		changelog.WriteString(fmt.Sprintf("Update completed: %s\n", cfg.Completed.Format("2006-01-02 15:04:05")))
	}
	changelog.WriteString(fmt.Sprintf("Total changes: %d files (%d updated, %d deleted)\n", totalChanges, len(plan.Tasks), len(plan.Removals)))
	changelog.WriteString(fmt.Sprintf("Transfer: %s for %s of files (%d full, %d delta)\n",
		FormatBytes(plan.TotalBytes()), FormatBytes(fileBytes), full, deltas))

	if totalChanges == 0 {
		return changelog.String()
	}

	// Add file list
	changelog.WriteString("\n")
	changelog.WriteString(strings.Repeat("-", 60))
	changelog.WriteString("\nDetailed file changes:\n")
	changelog.WriteString(strings.Repeat("-", 60))
	changelog.WriteString("\n\n")

	if len(plan.Tasks) > 0 {
		changelog.WriteString(fmt.Sprintf("Updated/Added (%d files):\n", len(plan.Tasks)))
		for _, t := range plan.Tasks {
			note := ""
			if t.Kind == resolver.KindDelta {
				note = fmt.Sprintf(" (delta, %s)", FormatBytes(t.Size))
			}
			changelog.WriteString(fmt.Sprintf("  + %s%s\n", t.Path, note))
		}
		changelog.WriteString("\n")
	}

	if len(plan.Removals) > 0 {
		changelog.WriteString(fmt.Sprintf("Deleted (%d files):\n", len(plan.Removals)))
		for _, deleted := range plan.Removals {
			changelog.WriteString(fmt.Sprintf("  - %s\n", deleted))
		}
		changelog.WriteString("\n")
	}

	if len(plan.Preserved) > 0 {
		changelog.WriteString(fmt.Sprintf("Kept local copy (%d files):\n", len(plan.Preserved)))
		for _, kept := range plan.Preserved {
			changelog.WriteString(fmt.Sprintf("  = %s\n", kept))
		}
		changelog.WriteString("\n")
	}

	return changelog.String()
}

// Write stores the changelog in dir
func Write(dir, content string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, FileName)
	return path, os.WriteFile(path, []byte(content), 0644)
}
