// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package deploystack

import (
	"context"

	"github.com/juju/errors"

	"github.com/juju/acceptance/internal/jujucli"
)

// Client is the juju driver surface the lifecycle machinery needs.
// The production implementation is jujucli.Client, adapted through
// WrapClient; tests substitute recording fakes.
type Client interface {
	// Environment returns the environment the client targets.
	Environment() jujucli.Environment

	// ControllerName returns the controller commands run against.
	ControllerName() string

	// ModelName returns the model commands run against.
	ModelName() string

	// UpdateEnvironment repoints the client at env, renaming the
	// controller and model to match.
	UpdateEnvironment(env jujucli.Environment)

	// SwitchController repoints the client at a different controller
	// without touching on-disk state.
	SwitchController(name string)

	// Bootstrap creates a controller on the client's cloud.
	Bootstrap(ctx context.Context, p jujucli.BootstrapParams) error

	// KillController forcibly destroys the client's controller,
	// tolerating one that does not exist.
	KillController(ctx context.Context) error

	// DestroyController destroys the controller gracefully.
	DestroyController(ctx context.Context, destroyAllModels bool) error

	// DestroyModel destroys the client's model.
	DestroyModel(ctx context.Context) error

	// AddModel creates a model on the controller and returns a client
	// targeting it.
	AddModel(ctx context.Context, name string) (Client, error)

	// ControllerClient returns a client for the controller model.
	ControllerClient() Client

	// ModelClients returns a client per model on the controller.
	ModelClients(ctx context.Context) ([]Client, error)

	// Status returns the parsed model status.
	Status(ctx context.Context) (*jujucli.Status, error)

	// StatusText returns the human-readable model status.
	StatusText(ctx context.Context) (string, error)

	// ControllersText returns the human-readable controller list.
	ControllersText(ctx context.Context) (string, error)

	// ModelsText returns the human-readable model list.
	ModelsText(ctx context.Context) (string, error)

	// AddMachine enlists a machine into the model. A placement like
	// "ssh:ubuntu@10.0.0.5" adopts an existing host.
	AddMachine(ctx context.Context, placement string) error

	// RegisterHost registers the client against a controller reached
	// at host, authenticating with email and password.
	RegisterHost(ctx context.Context, host, email, password string) error

	// Unregister removes the client's controller registration.
	Unregister(ctx context.Context) error

	// ControllerUUID returns the controller's UUID.
	ControllerUUID(ctx context.Context) (string, error)

	// WriteTimings writes the client's command timing report to path.
	WriteTimings(path string) error
}

// clientShim adapts jujucli.Client's concrete return types to the
// Client interface.
type clientShim struct {
	*jujucli.Client
}

// WrapClient adapts a jujucli client for use with the lifecycle
// machinery.
func WrapClient(client *jujucli.Client) Client {
	return clientShim{client}
}

func (s clientShim) AddModel(ctx context.Context, name string) (Client, error) {
	derived, err := s.Client.AddModel(ctx, name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return clientShim{derived}, nil
}

func (s clientShim) ControllerClient() Client {
	return clientShim{s.Client.ControllerClient()}
}

func (s clientShim) ModelClients(ctx context.Context) ([]Client, error) {
	clients, err := s.Client.ModelClients(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	wrapped := make([]Client, len(clients))
	for i, client := range clients {
		wrapped[i] = clientShim{client}
	}
	return wrapped, nil
}
