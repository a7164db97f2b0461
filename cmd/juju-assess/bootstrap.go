// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"fmt"

	"github.com/juju/cmd/v4"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
)

const bootstrapDoc = `
bootstrap assesses the basic environment lifecycle: bootstrap a fresh
controller (or attach to an existing one), wait for every machine agent
to report started, optionally deploy a smoke charm, and echo status.
Logs are collected and the environment destroyed however the run ends.

The juju binary under test runs against an isolated JUJU_DATA beneath
the log root, so the run never disturbs the operator's own juju state.
`

type bootstrapCommand struct {
	cmd.CommandBase
	args assessArgs

	smokeCharm string
}

func newBootstrapCommand() cmd.Command {
	return &bootstrapCommand{}
}

func (c *bootstrapCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "bootstrap",
		Args:    "<cloud>[/<region>] <juju-binary> <log-root> [<run-name>]",
		Purpose: "Assess the bootstrap and teardown lifecycle.",
		Doc:     bootstrapDoc,
		Examples: `
    juju-assess bootstrap aws/us-east-1 /usr/bin/juju /tmp/artifacts
    juju-assess bootstrap lxd juju /tmp/artifacts my-run --smoke-charm ch:ubuntu
`,
	}
}

func (c *bootstrapCommand) SetFlags(f *gnuflag.FlagSet) {
	c.args.addFlags(f)
	f.StringVar(&c.smokeCharm, "smoke-charm", "", "charm to deploy once the controller is up")
}

func (c *bootstrapCommand) Init(args []string) error {
	return c.args.init(args)
}

func (c *bootstrapCommand) Run(ctx *cmd.Context) error {
	manager, client, err := c.args.newManager()
	if err != nil {
		return errors.Trace(err)
	}
	err = manager.BootedContext(ctx, c.args.modelArgs(), func(runCtx context.Context, machines []string) error {
		if err := client.WaitForStarted(runCtx, agentTimeout); err != nil {
			return errors.Trace(err)
		}
		if c.smokeCharm != "" {
			if err := client.Deploy(runCtx, c.smokeCharm, "", 1); err != nil {
				return errors.Trace(err)
			}
			if err := client.WaitForStarted(runCtx, agentTimeout); err != nil {
				return errors.Trace(err)
			}
		}
		status, err := client.StatusText(runCtx)
		if err != nil {
			return errors.Trace(err)
		}
		fmt.Fprint(ctx.Stdout, status)
		return nil
	})
	return mapRunError(err)
}
