// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// juju-assess exercises a juju binary against a live cloud. Each
// subcommand is one acceptance scenario run inside the full
// environment lifecycle: bootstrap or attach, run the scenario,
// collect machine logs, tear down, sweep for leaked resources.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/cmd/v4"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("juju.acceptance.cmd")

var assessDoc = `
juju-assess drives acceptance assessments of a juju binary against a
live cloud. A run bootstraps a fresh controller (or attaches to an
existing one), executes the scenario, dumps machine logs from every
model into the artifact directory, and destroys everything it created,
finishing with a substrate sweep for leaked instances.

Interrupting a run unwinds the same way: logs are still collected and
the environment is still destroyed before the process exits.
`

func main() {
	os.Exit(Main(os.Args))
}

// Main is not redundant with main(): it is the entry point for testing
// with arbitrary command line arguments.
func Main(args []string) int {
	ctx, err := cmd.DefaultContext()
	if err != nil {
		cmd.WriteError(os.Stderr, err)
		return 2
	}
	// An operator interrupt cancels the run context; the lifecycle
	// scopes finish log collection and teardown on their own detached
	// contexts before the process exits.
	interruptCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx.Context = interruptCtx
	return cmd.Main(newAssessCommand(), ctx, args[1:])
}

func newAssessCommand() *cmd.SuperCommand {
	assess := cmd.NewSuperCommand(cmd.SuperCommandParams{
		Name:    "juju-assess",
		Doc:     assessDoc,
		Purpose: "acceptance-test a juju binary against a live cloud",
		Log: &cmd.Log{
			DefaultConfig: os.Getenv("JUJU_LOGGING_CONFIG"),
		},
		NotifyRun: func(name string) {
			logger.Infof("running juju-assess %s", name)
		},
	})
	assess.Register(newBootstrapCommand())
	assess.Register(newDeployCommand())
	return assess
}
