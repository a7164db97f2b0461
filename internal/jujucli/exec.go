// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package jujucli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/kballard/go-shellquote"
)

// ExitError reports a juju invocation that exited with a non-zero code.
// The captured output is retained so callers can surface the underlying
// provider or agent error without re-running the command.
type ExitError struct {
	Args   []string
	Code   int
	Stdout []byte
	Stderr []byte
}

// Error is part of the error interface.
func (e *ExitError) Error() string {
	msg := lastLine(e.Stderr)
	if msg == "" {
		msg = lastLine(e.Stdout)
	}
	if msg == "" {
		return fmt.Sprintf("juju %s exited %d", shellquote.Join(e.Args...), e.Code)
	}
	return fmt.Sprintf("juju %s exited %d: %s", shellquote.Join(e.Args...), e.Code, msg)
}

func lastLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// CommandTime records the wall-clock cost of a single juju invocation.
// The accumulated records become the post-run timing report.
type CommandTime struct {
	Command      string    `yaml:"command"`
	FullArgs     []string  `yaml:"full-args"`
	Start        time.Time `yaml:"start"`
	End          time.Time `yaml:"end"`
	TotalSeconds float64   `yaml:"total-seconds"`
}

// Recorder accumulates command timings across every client sharing a
// backend, including clients derived for other models.
type Recorder struct {
	mu    sync.Mutex
	times []CommandTime
}

func (r *Recorder) add(ct CommandTime) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.times = append(r.times, ct)
}

// Timings returns a copy of the recorded command times in call order.
func (r *Recorder) Timings() []CommandTime {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CommandTime(nil), r.times...)
}

// backend invokes the juju binary. Every invocation carries an explicit
// environment composed from the ambient one plus the backend's overrides,
// so concurrent runs in one process can never interfere through mutation
// of shared process state.
type backend struct {
	juju     string
	env      map[string]string
	clock    clock.Clock
	recorder *Recorder
}

type runParams struct {
	timeout time.Duration
	stdin   io.Reader
}

// runCommand calls cmd.Run. It is an overloading point so tests can
// observe what would be run without a juju binary present.
var runCommand = osRunCommand

func osRunCommand(cmd *exec.Cmd) error {
	return cmd.Run()
}

func (b *backend) run(ctx context.Context, verb string, args []string, p runParams) ([]byte, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	full := append([]string{"--show-log", verb}, args...)
	cmd := exec.CommandContext(ctx, b.juju, full...)
	cmd.Env = composeEnv(b.env)
	cmd.Stdin = p.stdin
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debugf("running juju %s", shellquote.Join(full...))
	start := b.clock.Now()
	err := runCommand(cmd)
	end := b.clock.Now()
	b.recorder.add(CommandTime{
		Command:      verb,
		FullArgs:     full,
		Start:        start,
		End:          end,
		TotalSeconds: end.Sub(start).Seconds(),
	})

	if err == nil {
		return stdout.Bytes(), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stdout.Bytes(), errors.Annotatef(ctxErr, "juju %s", verb)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), &ExitError{
			Args:   full,
			Code:   exitErr.ExitCode(),
			Stdout: stdout.Bytes(),
			Stderr: stderr.Bytes(),
		}
	}
	return stdout.Bytes(), errors.Annotatef(err, "running juju %s", verb)
}

// composeEnv lays the backend's overrides on top of the ambient process
// environment without mutating it.
func composeEnv(overrides map[string]string) []string {
	result := make([]string, 0, len(os.Environ())+len(overrides))
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[name]; ok {
			continue
		}
		result = append(result, kv)
	}
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		result = append(result, name+"="+overrides[name])
	}
	return result
}
