// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package jujucli drives a juju client binary the way an acceptance run
// does: explicit model targeting on every command, captured output, and
// a timing record of each invocation for the post-run report.
package jujucli

import (
	"context"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/version/v2"
	"gopkg.in/yaml.v2"
)

var logger = loggo.GetLogger("juju.acceptance.jujucli")

const (
	defaultTimeout   = 10 * time.Minute
	bootstrapTimeout = 40 * time.Minute
	destroyTimeout   = 30 * time.Minute
	killTimeout      = 10 * time.Minute
)

// controllerModelName is the name of the model hosting the controller
// machines on every juju controller.
const controllerModelName = "controller"

// Environment describes the cloud context a client drives commands
// against. It is plain data; the client owns any mutation of it.
type Environment struct {
	// Name is the run's environment name. A fresh bootstrap uses it for
	// the controller, the initial model, and log labelling.
	Name string

	// Cloud and Region select the bootstrap target, as in
	// "juju bootstrap <cloud>/<region>".
	Cloud  string
	Region string

	// DefaultSeries is used when an operation does not name one.
	DefaultSeries string

	// AgentURL and AgentStream select where agent binaries come from.
	AgentURL    string
	AgentStream string

	// Config holds extra model-config pairs applied at bootstrap.
	Config map[string]string
}

// Client runs juju commands against one controller/model pair. Clients
// derived for other models share the backend and its timing recorder.
type Client struct {
	backend    *backend
	env        Environment
	controller string
	model      string
}

// ClientParams holds the knobs for NewClient.
type ClientParams struct {
	// Juju is the path to the binary under test, "juju" if empty.
	Juju string

	// DataDir isolates the client's state (JUJU_DATA and JUJU_HOME) from
	// the user's own juju installation.
	DataDir string

	Env Environment

	// Controller and Model default to Env.Name.
	Controller string
	Model      string

	// ExtraEnv is applied to every invocation on top of the ambient
	// process environment.
	ExtraEnv map[string]string

	Clock clock.Clock
}

// NewClient returns a client for the given environment.
func NewClient(p ClientParams) *Client {
	if p.Juju == "" {
		p.Juju = "juju"
	}
	if p.Clock == nil {
		p.Clock = clock.WallClock
	}
	if p.Controller == "" {
		p.Controller = p.Env.Name
	}
	if p.Model == "" {
		p.Model = p.Env.Name
	}
	env := make(map[string]string)
	for name, value := range p.ExtraEnv {
		env[name] = value
	}
	if p.DataDir != "" {
		env["JUJU_DATA"] = p.DataDir
		env["JUJU_HOME"] = p.DataDir
	}
	return &Client{
		backend: &backend{
			juju:     p.Juju,
			env:      env,
			clock:    p.Clock,
			recorder: &Recorder{},
		},
		env:        p.Env,
		controller: p.Controller,
		model:      p.Model,
	}
}

// Environment returns the client's current environment settings.
func (c *Client) Environment() Environment {
	return c.env
}

// ControllerName returns the controller the client targets.
func (c *Client) ControllerName() string {
	return c.controller
}

// ModelName returns the model the client targets.
func (c *Client) ModelName() string {
	return c.model
}

// UpdateEnvironment replaces the client's environment settings and
// re-points the controller and model names at the new environment name.
// A run that substitutes its temporary name for the configured one does
// so through here, before bootstrap.
func (c *Client) UpdateEnvironment(env Environment) {
	c.env = env
	c.controller = env.Name
	c.model = env.Name
}

// SwitchController re-points the client at another controller already
// known to the juju binary. No command is issued; every subsequent
// invocation simply targets the named controller explicitly.
func (c *Client) SwitchController(name string) {
	c.controller = name
}

func (c *Client) withModel(name string) *Client {
	derived := *c
	derived.model = name
	return &derived
}

// ControllerClient returns a client pointed at the controller model.
func (c *Client) ControllerClient() *Client {
	return c.withModel(controllerModelName)
}

func (c *Client) qualifiedModel() string {
	return c.controller + ":" + c.model
}

func (c *Client) run(ctx context.Context, timeout time.Duration, verb string, args ...string) ([]byte, error) {
	return c.backend.run(ctx, verb, args, runParams{timeout: timeout})
}

// BootstrapParams are the per-run arguments to Bootstrap. The bootstrap
// target and agent sources come from the client's environment.
type BootstrapParams struct {
	// UploadTools builds the agent from the local source tree instead of
	// fetching a published one.
	UploadTools bool

	// Series selects the base series for the controller machine,
	// falling back to the environment's default.
	Series string

	// ExtraArgs are passed through to the bootstrap command verbatim.
	ExtraArgs []string
}

// Bootstrap creates a new controller for the client's environment.
func (c *Client) Bootstrap(ctx context.Context, p BootstrapParams) error {
	target := c.env.Cloud
	if c.env.Region != "" {
		target += "/" + c.env.Region
	}
	args := []string{target, c.controller, "--default-model", c.model}
	series := p.Series
	if series == "" {
		series = c.env.DefaultSeries
	}
	if series != "" {
		args = append(args, "--bootstrap-series", series)
	}
	if p.UploadTools {
		args = append(args, "--build-agent")
	}
	if c.env.AgentURL != "" {
		args = append(args, "--config", "agent-metadata-url="+c.env.AgentURL)
	}
	if c.env.AgentStream != "" {
		args = append(args, "--config", "agent-stream="+c.env.AgentStream)
	}
	keys := make([]string, 0, len(c.env.Config))
	for key := range c.env.Config {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		args = append(args, "--config", key+"="+c.env.Config[key])
	}
	args = append(args, p.ExtraArgs...)
	_, err := c.run(ctx, bootstrapTimeout, "bootstrap", args...)
	return errors.Trace(err)
}

// KillController forcibly destroys the client's controller, tolerating
// one that is already gone. This is the path that is safe to run against
// half-bootstrapped state.
func (c *Client) KillController(ctx context.Context) error {
	_, err := c.run(ctx, killTimeout, "kill-controller", "--no-prompt", c.controller)
	if err != nil && isNotFoundExit(err) {
		logger.Debugf("controller %q already gone", c.controller)
		return nil
	}
	return errors.Trace(err)
}

// DestroyController gracefully destroys the client's controller.
func (c *Client) DestroyController(ctx context.Context, destroyAllModels bool) error {
	args := []string{"--no-prompt", c.controller}
	if destroyAllModels {
		args = append(args, "--destroy-all-models")
	}
	_, err := c.run(ctx, destroyTimeout, "destroy-controller", args...)
	return errors.Trace(err)
}

// DestroyModel destroys the model the client targets.
func (c *Client) DestroyModel(ctx context.Context) error {
	_, err := c.run(ctx, destroyTimeout, "destroy-model", "--no-prompt", c.qualifiedModel())
	return errors.Trace(err)
}

// AddModel creates a model on the client's controller and returns a
// client pointed at it.
func (c *Client) AddModel(ctx context.Context, name string) (*Client, error) {
	_, err := c.run(ctx, defaultTimeout, "add-model", "-c", c.controller, name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return c.withModel(name), nil
}

// ModelSummary is one entry of the controller's model listing.
type ModelSummary struct {
	Name      string `yaml:"name"`
	ShortName string `yaml:"short-name"`
	UUID      string `yaml:"model-uuid"`
}

// LocalName returns the model name without any owner qualifier.
func (m ModelSummary) LocalName() string {
	if m.ShortName != "" {
		return m.ShortName
	}
	if i := strings.LastIndex(m.Name, "/"); i >= 0 {
		return m.Name[i+1:]
	}
	return m.Name
}

// ListModels returns the models hosted by the client's controller.
func (c *Client) ListModels(ctx context.Context) ([]ModelSummary, error) {
	out, err := c.run(ctx, defaultTimeout, "models", "-c", c.controller, "--format", "yaml")
	if err != nil {
		return nil, errors.Trace(err)
	}
	var doc struct {
		Models []ModelSummary `yaml:"models"`
	}
	if err := yaml.Unmarshal(out, &doc); err != nil {
		return nil, errors.Annotate(err, "parsing model listing")
	}
	return doc.Models, nil
}

// ModelClients returns a client for every model the controller currently
// hosts.
func (c *Client) ModelClients(ctx context.Context) ([]*Client, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	clients := make([]*Client, len(models))
	for i, m := range models {
		clients[i] = c.withModel(m.LocalName())
	}
	return clients, nil
}

// StatusText returns the human-readable status of the client's model.
func (c *Client) StatusText(ctx context.Context) (string, error) {
	out, err := c.run(ctx, defaultTimeout, "status", "-m", c.qualifiedModel())
	if err != nil {
		return "", errors.Trace(err)
	}
	return string(out), nil
}

// ControllersText returns the human-readable controller listing.
func (c *Client) ControllersText(ctx context.Context) (string, error) {
	out, err := c.run(ctx, defaultTimeout, "controllers")
	if err != nil {
		return "", errors.Trace(err)
	}
	return string(out), nil
}

// ModelsText returns the human-readable model listing for the client's
// controller.
func (c *Client) ModelsText(ctx context.Context) (string, error) {
	out, err := c.run(ctx, defaultTimeout, "models", "-c", c.controller)
	if err != nil {
		return "", errors.Trace(err)
	}
	return string(out), nil
}

// AddMachine enlists a machine into the client's model. The placement
// spec is passed through, so "ssh:ubuntu@10.0.0.5" enlists an existing
// host over ssh.
func (c *Client) AddMachine(ctx context.Context, placement string) error {
	_, err := c.run(ctx, defaultTimeout, "add-machine", "-m", c.qualifiedModel(), placement)
	return errors.Trace(err)
}

// Deploy deploys an application into the client's model. An empty
// application name lets the charm name decide.
func (c *Client) Deploy(ctx context.Context, charm, application string, numUnits int) error {
	args := []string{"-m", c.qualifiedModel(), charm}
	if application != "" {
		args = append(args, application)
	}
	if numUnits > 1 {
		args = append(args, "-n", strconv.Itoa(numUnits))
	}
	_, err := c.run(ctx, defaultTimeout, "deploy", args...)
	return errors.Trace(err)
}

// RegisterHost registers the client's user against a public controller,
// answering the interactive prompts on stdin. The resulting controller
// is named after the client's target controller.
func (c *Client) RegisterHost(ctx context.Context, host, email, password string) error {
	stdin := strings.NewReader(email + "\n" + password + "\n" + c.controller + "\n")
	_, err := c.backend.run(ctx, "register", []string{host}, runParams{
		timeout: defaultTimeout,
		stdin:   stdin,
	})
	return errors.Trace(err)
}

// Unregister removes the client's controller from the local store
// without touching the controller itself.
func (c *Client) Unregister(ctx context.Context) error {
	_, err := c.run(ctx, defaultTimeout, "unregister", "--no-prompt", c.controller)
	return errors.Trace(err)
}

// ControllerUUID returns the UUID of the client's controller.
func (c *Client) ControllerUUID(ctx context.Context) (string, error) {
	out, err := c.run(ctx, defaultTimeout, "show-controller", "--format", "yaml", c.controller)
	if err != nil {
		return "", errors.Trace(err)
	}
	var doc map[string]struct {
		Details struct {
			UUID string `yaml:"uuid"`
		} `yaml:"details"`
	}
	if err := yaml.Unmarshal(out, &doc); err != nil {
		return "", errors.Annotate(err, "parsing show-controller output")
	}
	info, ok := doc[c.controller]
	if !ok || info.Details.UUID == "" {
		return "", errors.NotFoundf("uuid for controller %q", c.controller)
	}
	return info.Details.UUID, nil
}

// Version reports the version of the juju binary under test.
func (c *Client) Version(ctx context.Context) (version.Binary, error) {
	out, err := c.run(ctx, defaultTimeout, "version")
	if err != nil {
		return version.Binary{}, errors.Trace(err)
	}
	bin, err := version.ParseBinary(strings.TrimSpace(string(out)))
	if err != nil {
		return version.Binary{}, errors.Annotate(err, "parsing juju version")
	}
	return bin, nil
}

// WriteTimings dumps the timing record of every command the client's
// backend has run to path, in YAML form.
func (c *Client) WriteTimings(path string) error {
	data, err := yaml.Marshal(c.backend.recorder.Timings())
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(os.WriteFile(path, data, 0644))
}

// isNotFoundExit reports whether err is a juju exit complaining that the
// target does not exist, which idempotent teardown paths tolerate.
func isNotFoundExit(err error) bool {
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	return strings.Contains(string(exitErr.Stderr), "not found")
}
