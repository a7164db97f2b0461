// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/juju/cmd/v4"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
)

const deployDoc = `
deploy assesses charm deployment: inside a booted environment, deploy
the requested charm, wait for its unit agents to start, and verify the
expected number of units landed. The environment is bootstrapped, log
dumped and destroyed around the scenario like every other assessment.
`

type deployCommand struct {
	cmd.CommandBase
	args assessArgs

	charm       string
	application string
	numUnits    int
}

func newDeployCommand() cmd.Command {
	return &deployCommand{}
}

func (c *deployCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "deploy",
		Args:    "<cloud>[/<region>] <juju-binary> <log-root> [<run-name>]",
		Purpose: "Assess charm deployment in a fresh environment.",
		Doc:     deployDoc,
		Examples: `
    juju-assess deploy aws /usr/bin/juju /tmp/artifacts
    juju-assess deploy lxd juju /tmp/artifacts --charm ch:postgresql -n 2
`,
	}
}

func (c *deployCommand) SetFlags(f *gnuflag.FlagSet) {
	c.args.addFlags(f)
	f.StringVar(&c.charm, "charm", "ch:ubuntu", "charm to deploy")
	f.StringVar(&c.application, "application", "", "application name, defaulting to the charm name")
	f.IntVar(&c.numUnits, "n", 1, "number of units to deploy")
	f.IntVar(&c.numUnits, "num-units", 1, "number of units to deploy")
}

func (c *deployCommand) Init(args []string) error {
	if c.numUnits < 1 {
		return errors.New("--num-units must be at least 1")
	}
	return c.args.init(args)
}

func (c *deployCommand) Run(ctx *cmd.Context) error {
	manager, client, err := c.args.newManager()
	if err != nil {
		return errors.Trace(err)
	}
	application := c.application
	if application == "" {
		application = charmApplicationName(c.charm)
	}
	err = manager.BootedContext(ctx, c.args.modelArgs(), func(runCtx context.Context, machines []string) error {
		if err := client.WaitForStarted(runCtx, agentTimeout); err != nil {
			return errors.Trace(err)
		}
		if err := client.Deploy(runCtx, c.charm, c.application, c.numUnits); err != nil {
			return errors.Trace(err)
		}
		if err := client.WaitForStarted(runCtx, agentTimeout); err != nil {
			return errors.Trace(err)
		}
		status, err := client.Status(runCtx)
		if err != nil {
			return errors.Trace(err)
		}
		app, ok := status.Applications[application]
		if !ok {
			return errors.Errorf("application %q missing from status", application)
		}
		if len(app.Units) != c.numUnits {
			return errors.Errorf("expected %d units of %q, got %d", c.numUnits, application, len(app.Units))
		}
		fmt.Fprintf(ctx.Stdout, "deployed %d units of %q\n", c.numUnits, application)
		return nil
	})
	return mapRunError(err)
}

// charmApplicationName returns the application name juju derives from
// a charm URL, e.g. "ch:amd64/jammy/ubuntu-0" deploys "ubuntu".
func charmApplicationName(charm string) string {
	name := charm
	if i := strings.IndexRune(name, ':'); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndex(name, "-"); i >= 0 {
		if _, err := strconv.Atoi(name[i+1:]); err == nil {
			name = name[:i]
		}
	}
	return name
}
