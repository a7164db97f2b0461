// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package deploystack drives an acceptance run's environment through
// its whole life: bootstrap, workload, log collection, teardown and a
// final substrate sweep for leaked resources.
//
// The lifecycle is expressed as nested scopes. TopContext owns
// artifacts that must survive anything, BootstrapContext owns
// controller creation, and RuntimeContext owns the provisioned
// environment while the caller's workload runs. BootedContext composes
// all three for the common case. Each scope cleans up its own layer on
// the way out, so a failure at any depth still releases every cloud
// resource the run acquired.
package deploystack

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/juju/acceptance/internal/remote"
	"github.com/juju/acceptance/internal/substrate"
)

var logger = loggo.GetLogger("juju.acceptance.deploystack")

const (
	// controllerModelName is the model juju reserves for the
	// controller's own workload.
	controllerModelName = "controller"

	// timingsFileName is the per-run command timing report.
	timingsFileName = "juju_command_times.yaml"

	// machineReadyTimeout bounds the wait for an out-of-band machine
	// to answer ssh before bootstrap proceeds.
	machineReadyTimeout = 5 * time.Minute
)

// Overridable for tests.
var (
	newRemote = func(address string) remoteHost {
		return remote.NewSSH(address)
	}
	waitSSHReachable = remote.WaitReachable
	substrateFor     = substrate.For
)

// remoteHost is the part of remote.SSHRemote log collection uses.
type remoteHost interface {
	Address() string
	Copy(dstDir string, patterns []string) error
}

// EnvironmentDescriptor captures the run-scoped environment settings
// the manager owns.
type EnvironmentDescriptor struct {
	// TempName names everything the run creates. It must be unique
	// per run so concurrent jobs never collide.
	TempName string

	// Cloud is the bootstrap target; Provider is the substrate type
	// behind it, used to select the leak sweeper. Provider defaults
	// to Cloud.
	Cloud    string
	Provider string
	Region   string

	// BootstrapHost, when set, pre-seeds the known hosts map as
	// machine 0, for substrates where the host exists before juju
	// does.
	BootstrapHost string

	// Machines are out-of-band hosts to enlist into the model once
	// the controller is up.
	Machines []string

	Series      string
	AgentURL    string
	AgentStream string

	// LogDir is the run's artifact directory.
	LogDir string

	// KeepEnv leaves the environment running on exit, for post-mortem
	// inspection.
	KeepEnv bool
}

// ManagerConfig holds everything a BootstrapManager needs.
type ManagerConfig struct {
	Env      EnvironmentDescriptor
	Client   Client
	Strategy ControllerStrategy

	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// Validate returns an error when the configuration cannot work.
func (cfg ManagerConfig) Validate() error {
	if cfg.Env.TempName == "" {
		return errors.NotValidf("empty environment name")
	}
	if cfg.Env.LogDir == "" {
		return errors.NotValidf("empty log directory")
	}
	if cfg.Client == nil {
		return errors.NotValidf("nil Client")
	}
	if cfg.Strategy == nil {
		return errors.NotValidf("nil Strategy")
	}
	return nil
}

// BootstrapManager drives one acceptance run's environment through
// bootstrap, use, log collection and teardown.
type BootstrapManager struct {
	env      EnvironmentDescriptor
	client   Client
	strategy ControllerStrategy
	clock    clock.Clock

	// hasController tracks whether a controller currently exists as
	// far as this run is concerned. It flips to true the moment
	// provisioning may have created one and back to false once
	// teardown has run, so interrupting the run at any point still
	// picks the right destruction path.
	hasController bool

	// knownHosts maps machine ids to the addresses logs are pulled
	// from when the environment itself cannot be asked.
	knownHosts map[string]string

	// resources is the ledger of substrate resources the run is
	// responsible for, recorded while the environment is healthy and
	// consumed by the final sweep.
	resources *substrate.ResourceDetails
}

// NewBootstrapManager returns a manager for one run.
func NewBootstrapManager(cfg ManagerConfig) (*BootstrapManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Env.Provider == "" {
		cfg.Env.Provider = cfg.Env.Cloud
	}
	m := &BootstrapManager{
		env:        cfg.Env,
		client:     cfg.Client,
		strategy:   cfg.Strategy,
		clock:      cfg.Clock,
		knownHosts: make(map[string]string),
	}
	if cfg.Env.BootstrapHost != "" {
		m.knownHosts["0"] = cfg.Env.BootstrapHost
	}
	return m, nil
}

// HasController reports whether the run currently owns a live
// controller.
func (m *BootstrapManager) HasController() bool {
	return m.hasController
}

// KnownHosts returns a copy of the machine id to address map logs are
// collected from.
func (m *BootstrapManager) KnownHosts() map[string]string {
	hosts := make(map[string]string, len(m.knownHosts))
	for id, addr := range m.knownHosts {
		hosts[id] = addr
	}
	return hosts
}

// TopContext scopes a whole run. It hands the body the out-of-band
// machine list and guarantees the command timing report is written
// when the scope ends, whatever happened inside.
func (m *BootstrapManager) TopContext(ctx context.Context, run func(ctx context.Context, machines []string) error) error {
	defer m.writeTimings()
	return run(ctx, append([]string(nil), m.env.Machines...))
}

func (m *BootstrapManager) writeTimings() {
	path := filepath.Join(m.env.LogDir, timingsFileName)
	if err := m.client.WriteTimings(path); err != nil {
		logger.Warningf("cannot write command timings: %v", err)
	}
}

// BootstrapContext scopes controller creation. On entry it pushes the
// run's temporary naming into the client, waits for any out-of-band
// machines to answer ssh, and prepares the strategy. The body does
// the actual provisioning; hasController is already true when it
// runs, so a mid-bootstrap failure still tears down whatever was
// made. On failure, logs are salvaged from the best known host and
// the strategy's forced teardown runs before the error is returned,
// marked as logged.
func (m *BootstrapManager) BootstrapContext(ctx context.Context, machines []string, run func(ctx context.Context) error) (err error) {
	env := m.client.Environment()
	env.Name = m.env.TempName
	env.DefaultSeries = m.env.Series
	env.AgentURL = m.env.AgentURL
	env.AgentStream = m.env.AgentStream
	m.client.UpdateEnvironment(env)

	for _, machine := range machines {
		if err := waitSSHReachable(ctx, m.clock, machine, machineReadyTimeout); err != nil {
			return errors.Trace(err)
		}
	}

	defer func() {
		if err == nil {
			return
		}
		cleanupCtx := context.WithoutCancel(ctx)
		logger.Errorf("bootstrap failed: %v", err)
		m.salvageBootstrapLogs()
		m.hasController = false
		if tdErr := m.strategy.TearDown(cleanupCtx, false); tdErr != nil {
			logger.Errorf("forced teardown after failed bootstrap: %v", tdErr)
		}
		err = Logged(err)
	}()

	if err := m.strategy.Prepare(ctx); err != nil {
		return errors.Trace(err)
	}
	m.hasController = true
	return run(ctx)
}

// salvageBootstrapLogs pulls logs straight off the bootstrap host
// after a failed bootstrap, when the environment cannot be asked
// where its machines are.
func (m *BootstrapManager) salvageBootstrapLogs() {
	host, ok := m.knownHosts["0"]
	if !ok {
		logger.Debugf("no known host to salvage bootstrap logs from")
		return
	}
	copyLogsFrom(host, m.env.LogDir)
	if err := archiveLogs(m.env.LogDir); err != nil {
		logger.Warningf("archiving salvaged logs: %v", err)
	}
}

// RuntimeContext scopes the provisioned environment while the
// caller's workload runs. Entry fills the known hosts map and enlists
// out-of-band machines. Exit always dumps logs before any teardown;
// then, unless the environment is kept, tears down and sweeps the
// substrate for leaks. A teardown failure is only surfaced when the
// body itself succeeded.
func (m *BootstrapManager) RuntimeContext(ctx context.Context, machines []string, run func(ctx context.Context) error) (err error) {
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		m.DumpAllLogs(cleanupCtx)
		if m.env.KeepEnv {
			logger.Infof("keeping environment %q", m.env.TempName)
			return
		}
		if tdErr := m.TearDown(cleanupCtx); tdErr != nil {
			if err == nil {
				err = errors.Trace(tdErr)
			} else {
				logger.Errorf("teardown failed: %v", tdErr)
			}
		}
		m.reportCleanup(m.EnsureCleanup(cleanupCtx))
	}()

	if len(m.knownHosts) == 0 {
		hosts, err := m.strategy.GetHosts(ctx)
		if err != nil {
			m.printStatusOnError(ctx)
			return errors.Trace(err)
		}
		for id, addr := range hosts {
			m.knownHosts[id] = addr
		}
	}
	for _, machine := range machines {
		if err := m.client.AddMachine(ctx, "ssh:"+machine); err != nil {
			m.printStatusOnError(ctx)
			return errors.Trace(err)
		}
	}
	if err := run(ctx); err != nil {
		m.printStatusOnError(ctx)
		return errors.Trace(err)
	}
	if m.hasController {
		return errors.Trace(m.echoStatus(ctx))
	}
	return nil
}

// printStatusOnError reports a best-effort status snapshot after a
// failure. Its own failures are swallowed: the original error matters
// more than a broken status call.
func (m *BootstrapManager) printStatusOnError(ctx context.Context) {
	text, err := m.client.StatusText(context.WithoutCancel(ctx))
	if err != nil {
		logger.Warningf("cannot get status after failure: %v", err)
		return
	}
	logger.Infof("status after failure:\n%s", text)
}

// echoStatus lists controllers and models and prints every model's
// status, as a closing health check of the run.
func (m *BootstrapManager) echoStatus(ctx context.Context) error {
	controllers, err := m.client.ControllersText(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	logger.Infof("controllers:\n%s", controllers)
	models, err := m.client.ModelsText(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	logger.Infof("models:\n%s", models)
	clients, err := m.client.ModelClients(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	for _, client := range clients {
		text, err := client.StatusText(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		logger.Infof("status of %s:\n%s", client.ModelName(), text)
	}
	return nil
}

// TearDown destroys the run's controller state through the strategy
// and resets the lifecycle flag. The strategy latches, so calling
// this twice destroys nothing twice.
func (m *BootstrapManager) TearDown(ctx context.Context) error {
	if err := m.strategy.TearDown(ctx, m.hasController); err != nil {
		return errors.Trace(err)
	}
	m.hasController = false
	return nil
}

// CollectResourceDetails records what the run is now responsible for
// on the substrate, while the environment is healthy enough to ask.
// Each detail is fetched independently so one failing lookup does not
// lose the others. Only the first call records anything.
func (m *BootstrapManager) CollectResourceDetails(ctx context.Context) {
	if m.resources != nil {
		return
	}
	var details substrate.ResourceDetails
	uuid, err := m.client.ControllerUUID(ctx)
	if err != nil {
		logger.Debugf("cannot get controller uuid: %v", err)
	} else {
		details.ControllerUUID = uuid
	}
	status, err := m.client.ControllerClient().Status(ctx)
	if err != nil {
		logger.Debugf("cannot get controller status: %v", err)
	} else {
		for _, id := range status.MachineIDs() {
			machine := status.Machines[id]
			if machine.InstanceID == "" {
				continue
			}
			details.Instances = append(details.Instances, substrate.Instance{
				ID:      machine.InstanceID,
				Address: machine.DNSName,
			})
		}
	}
	m.resources = &details
}

// EnsureCleanup sweeps the substrate for resources the teardown left
// behind. The ledger is consumed, so a second call does nothing.
func (m *BootstrapManager) EnsureCleanup(ctx context.Context) []substrate.CleanupError {
	if m.resources == nil {
		return nil
	}
	details := *m.resources
	m.resources = nil
	sweeper, ok := substrateFor(m.env.Provider, m.env.Region)
	if !ok {
		logger.Debugf("no leak sweeping for provider %q", m.env.Provider)
		return nil
	}
	return sweeper.EnsureCleanup(ctx, details)
}

func (m *BootstrapManager) reportCleanup(cleanupErrors []substrate.CleanupError) {
	for i := range cleanupErrors {
		logger.Criticalf("%v", &cleanupErrors[i])
	}
}

// BootedContext composes the scopes for the common case: provision or
// attach to a controller, run the body against it, then collect logs
// and tear everything down. Any failure crossing this boundary has
// been written to the log and comes back as a LoggedError.
func (m *BootstrapManager) BootedContext(ctx context.Context, args ModelArgs, run func(ctx context.Context, machines []string) error) (err error) {
	defer func() {
		if err == nil || IsLogged(err) {
			return
		}
		logger.Errorf("%v", err)
		err = Logged(err)
	}()
	return m.TopContext(ctx, func(ctx context.Context, machines []string) error {
		if m.strategy.ReusesController() {
			if err := m.strategy.Prepare(ctx); err != nil {
				return errors.Trace(err)
			}
			m.hasController = true
			if err := m.strategy.CreateInitialModel(ctx, args); err != nil {
				return errors.Trace(err)
			}
		} else {
			err := m.BootstrapContext(ctx, machines, func(ctx context.Context) error {
				return m.strategy.CreateInitialModel(ctx, args)
			})
			if err != nil {
				return errors.Trace(err)
			}
		}
		m.CollectResourceDetails(ctx)
		return m.RuntimeContext(ctx, machines, func(ctx context.Context) error {
			return run(ctx, machines)
		})
	})
}

// DumpAllLogs collects logs for every model the run can see into the
// run's log directory. It is never fatal: a broken environment is
// exactly when logs matter most, so failures are reported and
// swallowed.
func (m *BootstrapManager) DumpAllLogs(ctx context.Context) {
	if m.env.LogDir == "" {
		return
	}
	logger.Infof("collecting model logs under %s", m.env.LogDir)
	clients := []Client{m.client}
	if m.hasController {
		all, err := m.client.ModelClients(ctx)
		if err != nil {
			logger.Warningf("cannot list models for log collection: %v", err)
		} else if len(all) > 0 {
			clients = all
		}
	}
	for _, client := range clients {
		dir := filepath.Join(m.env.LogDir, client.ModelName())
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Warningf("cannot create log directory %s: %v", dir, err)
			continue
		}
		// Only the controller model's machines are known by address;
		// workload model machines are reached through the substrate
		// only while the environment is alive.
		var hosts map[string]string
		if client.ModelName() == controllerModelName {
			hosts = m.KnownHosts()
		}
		dumpModelLogs(dir, hosts)
	}
}
