package executor

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jordanhubbard/mend/pkg/models"
)

// allowedCommands is the allowlist for shell-backed remediation steps.
// Anything not listed here never runs, regardless of what a step asks for.
var allowedCommands = map[string]bool{
	"systemctl":  true,
	"service":    true,
	"docker":     true,
	"kubectl":    true,
	"nomad":      true,
	"supervisor": true,

	// Read-only utilities for verify steps
	"curl": true,
	"ps":   true,
	"df":   true,
	"free": true,
	"echo": true,
}

// shellMetachars force interpretation through a shell, which the allowlist
// cannot reason about, so they are rejected outright.
var shellMetachars = []string{"|", "&&", "||", ";", ">", "<", "&", "`", "$(", "\"", "'", "\\"}

// defaultStepTimeout bounds one remediation command.
const defaultStepTimeout = 5 * time.Minute

// ShellStep runs remediation steps as real commands. A step opts in by
// carrying a "command" param; steps without one fall through to the
// simulated runner so mixed solutions still execute.
func ShellStep(ctx context.Context, step models.ExecutionStep) error {
	command := step.Params["command"]
	if command == "" {
		return SimulatedStep(ctx, step)
	}

	parts, err := validateCommand(command)
	if err != nil {
		return fmt.Errorf("step %s: %w", step.Name, err)
	}

	timeout := defaultStepTimeout
	if v := step.Params["timeout"]; v != "" {
		if d, perr := time.ParseDuration(v); perr == nil && d > 0 {
			timeout = d
		}
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, parts[0], parts[1:]...)
	if dir := step.Params["working_dir"]; dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	runErr := cmd.Run()
	log.Printf("[Executor] %s %s -> %s ran %q in %s", step.Action, step.Name, step.Target, command, time.Since(started).Round(time.Millisecond))

	if runErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = runErr.Error()
		}
		return fmt.Errorf("command %q failed: %s", command, msg)
	}
	return nil
}

// validateCommand checks the command against the allowlist and returns it
// split into argv form. Commands needing shell metacharacters are rejected;
// remediation steps run without a shell.
func validateCommand(command string) ([]string, error) {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return nil, fmt.Errorf("empty command")
	}

	for _, meta := range shellMetachars {
		if strings.Contains(trimmed, meta) {
			return nil, fmt.Errorf("shell metacharacters are not allowed: %q", meta)
		}
	}

	parts := strings.Fields(trimmed)
	binary := filepath.Base(parts[0])
	if !allowedCommands[binary] {
		return nil, fmt.Errorf("command not allowed: %s", binary)
	}
	return parts, nil
}
