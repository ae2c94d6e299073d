// Package slurm queries a Slurm scheduler through its command line tools.
package slurm

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultCommand is the squeue binary looked up in PATH.
const DefaultCommand = "squeue"

// Probe counts pending jobs by running squeue.
type Probe struct {
	command string
	env     []string
}

// Option configures a Probe.
type Option func(*Probe)

// WithCommand replaces the squeue binary, e.g. with an absolute path or a wrapper.
func WithCommand(command string) Option {
	return func(p *Probe) {
		if command != "" {
			p.command = command
		}
	}
}

// WithEnv adds KEY=VALUE pairs to the squeue environment.
func WithEnv(env ...string) Option {
	return func(p *Probe) {
		p.env = append(p.env, env...)
	}
}

// New creates a Probe.
func New(opts ...Option) *Probe {
	p := &Probe{command: DefaultCommand}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PendingJobs returns the number of pending jobs in partition.
func (p *Probe) PendingJobs(ctx context.Context, partition string) (int, error) {
	// -h drops the header so every line is one job.
	cmd := exec.CommandContext(ctx, p.command, "-p", partition, "-t", "pending", "-h")
	if len(p.env) > 0 {
		cmd.Env = append(cmd.Environ(), p.env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("%s failed: %w (stderr: %s)", p.command, err, strings.TrimSpace(stderr.String()))
	}
	return countLines(stdout.String()), nil
}

func countLines(output string) int {
	n := 0
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}
