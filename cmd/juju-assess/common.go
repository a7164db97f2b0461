// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/cmd/v4"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/names/v5"

	"github.com/juju/acceptance/internal/deploystack"
	"github.com/juju/acceptance/internal/jujucli"
)

// agentTimeout bounds how long a scenario waits for machine agents to
// report started before calling the run a failure.
const agentTimeout = 20 * time.Minute

// assessArgs is the flag and argument set every assessment shares:
// which juju to test, where, under what name, and how the controller
// comes into existence.
type assessArgs struct {
	cloud    string
	jujuBin  string
	logRoot  string
	tempName string

	series      string
	agentURL    string
	agentStream string
	region      string
	buildAgent  bool

	bootstrapHost string
	machines      []string
	keepEnv       bool

	existing   string
	publicHost string
	email      string
	password   string
}

func (a *assessArgs) addFlags(f *gnuflag.FlagSet) {
	f.StringVar(&a.series, "series", "", "base series for provisioned machines")
	f.StringVar(&a.agentURL, "agent-url", "", "URL to retrieve agent binaries from")
	f.StringVar(&a.agentStream, "agent-stream", "", "simplestreams stream to retrieve agent binaries from")
	f.StringVar(&a.region, "region", "", "cloud region to bootstrap into")
	f.BoolVar(&a.buildAgent, "build-agent", false, "build the agent from the local source tree")
	f.StringVar(&a.bootstrapHost, "bootstrap-host", "", "address of a pre-existing host to bootstrap on")
	f.Var(cmd.NewAppendStringsValue(&a.machines), "machine", "address of a pre-existing machine to enlist, repeatable")
	f.BoolVar(&a.keepEnv, "keep-env", false, "leave the environment running after the run")
	f.StringVar(&a.existing, "existing", "", fmt.Sprintf("reuse a bootstrapped controller, %q for the one already selected", deploystack.CurrentController))
	f.StringVar(&a.publicHost, "public-host", "", "host of a public controller to register with")
	f.StringVar(&a.email, "email", "", "account email for --public-host registration")
	f.StringVar(&a.password, "password", "", "account password for --public-host registration")
}

func (a *assessArgs) init(args []string) error {
	if len(args) < 3 {
		return errors.New("usage: <cloud>[/<region>] <juju-binary> <log-root> [<run-name>]")
	}
	a.cloud, a.jujuBin, a.logRoot = args[0], args[1], args[2]
	args = args[3:]
	if len(args) > 0 {
		a.tempName, args = args[0], args[1:]
	} else {
		name, err := defaultRunName(a.cloud)
		if err != nil {
			return errors.Trace(err)
		}
		a.tempName = name
	}
	if !names.IsValidModelName(a.tempName) {
		return errors.Errorf("%q is not a valid name: model names may only contain lowercase letters, digits and hyphens", a.tempName)
	}
	if a.publicHost != "" && (a.email == "" || a.password == "") {
		return errors.New("--public-host requires --email and --password")
	}
	return cmd.CheckEmpty(args)
}

// defaultRunName invents a run name unique enough that concurrent jobs
// against the same cloud never collide.
func defaultRunName(cloud string) (string, error) {
	id, err := uuid.NewUUID()
	if err != nil {
		return "", errors.Trace(err)
	}
	base, _ := splitCloudRegion(cloud)
	return fmt.Sprintf("%s-assess-%s", base, id.String()[:8]), nil
}

// splitCloudRegion splits a "cloud/region" bootstrap target into its
// parts. A bare cloud name yields an empty region.
func splitCloudRegion(target string) (string, string) {
	if i := strings.IndexRune(target, '/'); i >= 0 {
		return target[:i], target[i+1:]
	}
	return target, ""
}

func (a *assessArgs) strategySpec() deploystack.StrategySpec {
	return deploystack.StrategySpec{
		Existing:   a.existing,
		PublicHost: a.publicHost,
		Email:      a.email,
		Password:   a.password,
	}
}

func (a *assessArgs) modelArgs() deploystack.ModelArgs {
	return deploystack.ModelArgs{
		UploadTools: a.buildAgent,
		Series:      a.series,
	}
}

// newManager assembles the client, strategy and manager for one run.
// The client is isolated under the log root so the run never touches
// the operator's own juju state.
func (a *assessArgs) newManager() (*deploystack.BootstrapManager, *jujucli.Client, error) {
	if err := os.MkdirAll(a.logRoot, 0755); err != nil {
		return nil, nil, errors.Trace(err)
	}
	cloud, region := splitCloudRegion(a.cloud)
	if a.region != "" {
		region = a.region
	}
	client := jujucli.NewClient(jujucli.ClientParams{
		Juju:    a.jujuBin,
		DataDir: filepath.Join(a.logRoot, "juju-data"),
		Env: jujucli.Environment{
			Name:          a.tempName,
			Cloud:         cloud,
			Region:        region,
			DefaultSeries: a.series,
			AgentURL:      a.agentURL,
			AgentStream:   a.agentStream,
		},
	})
	wrapped := deploystack.WrapClient(client)
	manager, err := deploystack.NewBootstrapManager(deploystack.ManagerConfig{
		Env: deploystack.EnvironmentDescriptor{
			TempName:      a.tempName,
			Cloud:         cloud,
			Region:        region,
			BootstrapHost: a.bootstrapHost,
			Machines:      a.machines,
			Series:        a.series,
			AgentURL:      a.agentURL,
			AgentStream:   a.agentStream,
			LogDir:        a.logRoot,
			KeepEnv:       a.keepEnv,
		},
		Client:   wrapped,
		Strategy: deploystack.SelectStrategy(wrapped, wrapped, a.strategySpec()),
	})
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	return manager, client, nil
}

// mapRunError translates a finished run's error for the command layer.
// Failures the manager has already reported exit silently nonzero so
// they are not printed twice.
func mapRunError(err error) error {
	if err == nil {
		return nil
	}
	if deploystack.IsLogged(err) {
		return cmd.ErrSilent
	}
	return errors.Trace(err)
}
