package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/elmerpm/elmer/internal/kanban"
	"github.com/elmerpm/elmer/internal/models"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const cancelCommand = ":cancel"

// isTerminal reports whether the command reads from an interactive terminal.
func isTerminal(cmd *cobra.Command) bool {
	f, ok := cmd.InOrStdin().(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// promptCollector asks for a transcript before a project enters a stage that
// needs input. An empty first line skips, ":cancel" cancels, and otherwise
// lines are read until a line holding a single "." or end of input.
func promptCollector(in io.Reader, out io.Writer) kanban.InputCollector {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	return kanban.InputCollectorFunc(func(ctx context.Context, projectName string, target models.Stage) (kanban.InputResult, error) {
		fmt.Fprintf(out, "Moving %q to %s requires a transcript.\n", projectName, target.DisplayName)
		fmt.Fprintf(out, "Paste it and end with a line containing \".\"; press Enter on an empty line to skip, or type %s.\n", cancelCommand)
		fmt.Fprint(out, "> ")

		var lines []string
		for scanner.Scan() {
			if err := ctx.Err(); err != nil {
				return kanban.InputResult{}, err
			}
			line := scanner.Text()
			if len(lines) == 0 {
				switch strings.TrimSpace(line) {
				case "":
					return kanban.Skipped(), nil
				case cancelCommand:
					return kanban.Cancelled(), nil
				}
			}
			if strings.TrimSpace(line) == "." {
				break
			}
			lines = append(lines, line)
		}
		if err := scanner.Err(); err != nil {
			return kanban.InputResult{}, fmt.Errorf("read transcript: %w", err)
		}
		if len(lines) == 0 {
			return kanban.Cancelled(), nil
		}
		return kanban.Confirmed(strings.Join(lines, "\n")), nil
	})
}
