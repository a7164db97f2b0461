// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package deploystack

import (
	"context"

	"github.com/juju/errors"

	"github.com/juju/acceptance/internal/jujucli"
)

// CurrentController selects whichever controller the client already
// points at when reusing an existing controller.
const CurrentController = "current"

// ModelArgs carries the provisioning arguments for a strategy's
// initial model.
type ModelArgs struct {
	// UploadTools builds and uploads a local agent binary during
	// bootstrap instead of using published streams.
	UploadTools bool

	// Series is the preferred base for the controller machine.
	Series string

	// ExtraArgs are passed through to bootstrap verbatim.
	ExtraArgs []string
}

func bootstrapParams(args ModelArgs) jujucli.BootstrapParams {
	return jujucli.BootstrapParams{
		UploadTools: args.UploadTools,
		Series:      args.Series,
		ExtraArgs:   args.ExtraArgs,
	}
}

// ControllerStrategy abstracts over where a run's controller comes
// from: freshly bootstrapped, an existing controller the run borrows,
// or a public controller the run registers against. The lifecycle
// machinery never branches on the concrete kind.
type ControllerStrategy interface {
	// Prepare resets the strategy to "no controller provisioned",
	// clearing any stale state an earlier run left behind. It is safe
	// to call when nothing exists.
	Prepare(ctx context.Context) error

	// CreateInitialModel provisions the run's first model: a bootstrap
	// for fresh controllers, an added model on reused ones.
	CreateInitialModel(ctx context.Context, args ModelArgs) error

	// GetHosts returns machine id to address for the machines worth
	// collecting logs from. Strategies whose machines are not ours to
	// reach return an empty map.
	GetHosts(ctx context.Context) (map[string]string, error)

	// TearDown destroys whatever the run was responsible for. With
	// hasController false the forced path is used, which is safe
	// against half-bootstrapped state. A second call is a no-op.
	TearDown(ctx context.Context, hasController bool) error

	// ReusesController reports whether the controller pre-exists the
	// run, which skips the bootstrap scope entirely.
	ReusesController() bool
}

// controllerHosts maps machine ids to addresses for the controller
// model's machines that have one.
func controllerHosts(ctx context.Context, client Client) (map[string]string, error) {
	status, err := client.ControllerClient().Status(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	hosts := make(map[string]string)
	for _, id := range status.MachineIDs() {
		if addr, ok := status.MachineAddress(id); ok {
			hosts[id] = addr
		}
	}
	return hosts, nil
}

// createController bootstraps a controller for the run and destroys
// it afterwards.
type createController struct {
	client         Client
	teardownClient Client
	tornDown       bool
}

// NewCreateControllerStrategy returns the strategy that bootstraps a
// fresh controller. Destruction goes through teardownClient, so a
// differently configured client can handle cleanup; passing nil uses
// client for both.
func NewCreateControllerStrategy(client, teardownClient Client) ControllerStrategy {
	if teardownClient == nil {
		teardownClient = client
	}
	return &createController{client: client, teardownClient: teardownClient}
}

func (s *createController) Prepare(ctx context.Context) error {
	s.tornDown = false
	// Stale state from an earlier run cannot be destroyed politely.
	return errors.Trace(s.teardownClient.KillController(ctx))
}

func (s *createController) CreateInitialModel(ctx context.Context, args ModelArgs) error {
	return errors.Trace(s.client.Bootstrap(ctx, bootstrapParams(args)))
}

func (s *createController) GetHosts(ctx context.Context) (map[string]string, error) {
	return controllerHosts(ctx, s.client)
}

func (s *createController) TearDown(ctx context.Context, hasController bool) error {
	if s.tornDown {
		logger.Debugf("controller already torn down")
		return nil
	}
	s.tornDown = true
	if hasController {
		err := s.teardownClient.DestroyController(ctx, true)
		if err == nil {
			return nil
		}
		logger.Warningf("destroy-controller failed, killing instead: %v", err)
	}
	return errors.Trace(s.teardownClient.KillController(ctx))
}

func (s *createController) ReusesController() bool {
	return false
}

// existingController borrows a controller that outlives the run. Only
// the model the run adds is ever destroyed.
type existingController struct {
	client   Client
	name     string
	tornDown bool
}

// NewExistingControllerStrategy returns the strategy that adds the
// run's model to the named controller. The name CurrentController
// keeps whichever controller the client already targets.
func NewExistingControllerStrategy(client Client, name string) ControllerStrategy {
	return &existingController{client: client, name: name}
}

func (s *existingController) Prepare(ctx context.Context) error {
	s.tornDown = false
	if s.name != CurrentController {
		s.client.SwitchController(s.name)
	}
	return nil
}

func (s *existingController) CreateInitialModel(ctx context.Context, args ModelArgs) error {
	if args.UploadTools {
		logger.Debugf("ignoring agent build request on existing controller")
	}
	_, err := s.client.AddModel(ctx, s.client.Environment().Name)
	return errors.Trace(err)
}

func (s *existingController) GetHosts(ctx context.Context) (map[string]string, error) {
	return controllerHosts(ctx, s.client)
}

func (s *existingController) TearDown(ctx context.Context, hasController bool) error {
	if s.tornDown {
		logger.Debugf("model already torn down")
		return nil
	}
	s.tornDown = true
	// The controller is not ours to destroy, whatever hasController
	// says.
	return errors.Trace(s.client.DestroyModel(ctx))
}

func (s *existingController) ReusesController() bool {
	return true
}

// publicController registers against a third-party controller for the
// run's duration.
type publicController struct {
	client   Client
	host     string
	email    string
	password string
	tornDown bool
}

// NewPublicControllerStrategy returns the strategy that registers
// against the controller reached at host and adds the run's model
// there.
func NewPublicControllerStrategy(client Client, host, email, password string) ControllerStrategy {
	return &publicController{client: client, host: host, email: email, password: password}
}

func (s *publicController) Prepare(ctx context.Context) error {
	s.tornDown = false
	// A previous run may have left its registration behind.
	if err := s.client.Unregister(ctx); err != nil {
		logger.Debugf("unregister before run: %v", err)
	}
	return nil
}

func (s *publicController) CreateInitialModel(ctx context.Context, args ModelArgs) error {
	if err := s.client.RegisterHost(ctx, s.host, s.email, s.password); err != nil {
		return errors.Trace(err)
	}
	_, err := s.client.AddModel(ctx, s.client.Environment().Name)
	return errors.Trace(err)
}

func (s *publicController) GetHosts(ctx context.Context) (map[string]string, error) {
	// The controller's machines belong to someone else.
	return map[string]string{}, nil
}

func (s *publicController) TearDown(ctx context.Context, hasController bool) error {
	if s.tornDown {
		logger.Debugf("registration already torn down")
		return nil
	}
	s.tornDown = true
	var firstErr error
	if err := s.client.DestroyModel(ctx); err != nil {
		logger.Warningf("destroying model: %v", err)
		firstErr = err
	}
	if err := s.client.Unregister(ctx); err != nil {
		if firstErr == nil {
			firstErr = err
		} else {
			logger.Warningf("unregistering controller: %v", err)
		}
	}
	return errors.Trace(firstErr)
}

func (s *publicController) ReusesController() bool {
	return true
}

// StrategySpec selects the controller strategy for a run.
type StrategySpec struct {
	// Existing names a controller to borrow; CurrentController means
	// whichever one the client already points at.
	Existing string

	// PublicHost, with Email and Password, registers against a
	// third-party controller instead.
	PublicHost string
	Email      string
	Password   string
}

// SelectStrategy maps run options to exactly one controller strategy.
// Registration beats borrowing beats bootstrapping, so every
// combination of options selects something.
func SelectStrategy(client, teardownClient Client, spec StrategySpec) ControllerStrategy {
	switch {
	case spec.PublicHost != "":
		return NewPublicControllerStrategy(client, spec.PublicHost, spec.Email, spec.Password)
	case spec.Existing != "":
		return NewExistingControllerStrategy(client, spec.Existing)
	default:
		return NewCreateControllerStrategy(client, teardownClient)
	}
}
