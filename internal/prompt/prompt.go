// Package prompt asks the user simple questions on a terminal.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrCancelled is returned when input ends before an answer was given
var ErrCancelled = errors.New("prompt cancelled")

// Config holds configuration for prompting
type Config struct {
	NonInteractive bool
	In             io.Reader
	Out            io.Writer
}

func (c Config) reader() *bufio.Reader {
	if c.In == nil {
		return bufio.NewReader(os.Stdin)
	}
	return bufio.NewReader(c.In)
}

func (c Config) writer() io.Writer {
	if c.Out == nil {
		return os.Stdout
	}
	return c.Out
}

// Confirm asks the user to confirm an action. Non-interactive mode
// always confirms.
func Confirm(prompt string, cfg Config) bool {
	if cfg.NonInteractive {
		return true
	}

	fmt.Fprintf(cfg.writer(), "%s (y/n): ", prompt)
	response, err := cfg.reader().ReadString('\n')
	if err != nil && response == "" {
		return false
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

// Choose shows a numbered menu and returns the index of the selected
// option. Non-interactive mode picks the first option.
func Choose(title string, options []string, cfg Config) (int, error) {
	if len(options) == 0 {
		return 0, errors.New("nothing to choose from")
	}
	if cfg.NonInteractive {
		return 0, nil
	}

	out := cfg.writer()
	fmt.Fprintf(out, "\n%s\n\n", title)
	for i, o := range options {
		fmt.Fprintf(out, "  %d. %s\n", i+1, o)
	}
	fmt.Fprintf(out, "\nEnter your choice (1-%d): ", len(options))

	reader := cfg.reader()
	for {
		response, err := reader.ReadString('\n')
		if n, convErr := strconv.Atoi(strings.TrimSpace(response)); convErr == nil && n >= 1 && n <= len(options) {
			return n - 1, nil
		}
		if err != nil {
			fmt.Fprintln(out, "\nError reading input, cancelling.")
			return 0, ErrCancelled
		}
		fmt.Fprintf(out, "Invalid choice. Please enter a number from 1 to %d: ", len(options))
	}
}
