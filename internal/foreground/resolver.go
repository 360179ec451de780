// Package foreground resolves the identifier of the currently focused application.
package foreground

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/MimeLyc/vibetracker/pkg/log"
)

// UnknownApp tags records when the foreground application cannot be determined.
const UnknownApp = "unknown"

type Resolver interface {
	ActiveApplication(ctx context.Context) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context) (string, error)

func (f ResolverFunc) ActiveApplication(ctx context.Context) (string, error) {
	return f(ctx)
}

// Static always reports the same application.
type Static string

func (s Static) ActiveApplication(context.Context) (string, error) {
	return string(s), nil
}

// commandResolver runs an external command and uses the first line of its output.
type commandResolver struct {
	name    string
	args    []string
	timeout time.Duration
}

// NewCommandResolver parses commandLine (e.g. "xdotool getactivewindow getwindowname")
// into a resolver. Arguments are split on whitespace, no shell is involved.
func NewCommandResolver(commandLine string, timeout time.Duration) (Resolver, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, fmt.Errorf("foreground command is empty")
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &commandResolver{
		name:    fields[0],
		args:    fields[1:],
		timeout: timeout,
	}, nil
}

func (r *commandResolver) ActiveApplication(ctx context.Context) (string, error) {
	cmdPath, err := exec.LookPath(r.name)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, cmdPath, r.args...)
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("run %s: %w: %s", r.name, err, strings.TrimSpace(stderr.String()))
	}

	line, _, _ := strings.Cut(strings.TrimSpace(string(output)), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("%s printed no application", r.name)
	}
	return line, nil
}

// Resolve asks r for the foreground application and falls back to UnknownApp.
func Resolve(ctx context.Context, r Resolver) string {
	if r == nil {
		return UnknownApp
	}
	app, err := r.ActiveApplication(ctx)
	if err != nil {
		log.Warn("Failed to resolve foreground application: %v", err)
		return UnknownApp
	}
	if strings.TrimSpace(app) == "" {
		return UnknownApp
	}
	return app
}
