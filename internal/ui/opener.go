package ui

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// CommandOpener opens popup windows by invoking the hosting shell's window
// command. The command receives the url and geometry as arguments and prints
// the new window id on stdout.
type CommandOpener struct {
	command string
}

// NewCommandOpener creates a CommandOpener.
func NewCommandOpener(command string) *CommandOpener {
	return &CommandOpener{command: command}
}

// OpenPopup runs the window command. Failures here are best-effort territory
// for callers; the page never sees shell errors directly.
func (o *CommandOpener) OpenPopup(ctx context.Context, url string, geom Geometry) (int, error) {
	if o.command == "" {
		return 0, fmt.Errorf("no popup command configured")
	}

	cmd := exec.CommandContext(ctx, o.command, url,
		strconv.Itoa(geom.Width), strconv.Itoa(geom.Height),
		strconv.Itoa(geom.Left), strconv.Itoa(geom.Top))
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("popup command failed: %w", err)
	}

	windowID, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, fmt.Errorf("popup command printed no window id: %w", err)
	}
	return windowID, nil
}
