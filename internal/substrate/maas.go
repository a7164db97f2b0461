// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package substrate

import (
	"context"
	"os"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/gomaasapi/v2"
)

// maasSession is the part of the MAAS API the sweeper drives.
type maasSession interface {
	// AllocatedSystemIDs returns which of the given system ids are
	// still known to MAAS.
	AllocatedSystemIDs(systemIDs []string) ([]string, error)

	// Release hands the machines back to the pool.
	Release(systemIDs []string, comment string) error
}

// newMAASSession dials the MAAS configured in the environment.
// Overridable for tests.
var newMAASSession = func() (maasSession, error) {
	server := os.Getenv("MAAS_SERVER")
	apiKey := os.Getenv("MAAS_OAUTH")
	if server == "" || apiKey == "" {
		return nil, errors.New("MAAS_SERVER and MAAS_OAUTH must be set")
	}
	controller, err := gomaasapi.NewController(gomaasapi.ControllerArgs{
		BaseURL: server,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &maasController{controller: controller}, nil
}

type maasController struct {
	controller gomaasapi.Controller
}

func (c *maasController) AllocatedSystemIDs(systemIDs []string) ([]string, error) {
	machines, err := c.controller.Machines(gomaasapi.MachinesArgs{SystemIDs: systemIDs})
	if err != nil {
		return nil, errors.Trace(err)
	}
	ids := make([]string, len(machines))
	for i, machine := range machines {
		ids[i] = machine.SystemID()
	}
	return ids, nil
}

func (c *maasController) Release(systemIDs []string, comment string) error {
	return errors.Trace(c.controller.ReleaseMachines(gomaasapi.ReleaseMachinesArgs{
		SystemIDs: systemIDs,
		Comment:   comment,
	}))
}

type maasSweeper struct{}

func newMAASSweeper() *maasSweeper {
	return &maasSweeper{}
}

// systemID extracts a MAAS system id from a juju instance id, which
// may be the bare id or a MAAS API path ending in it.
func systemID(instanceID string) string {
	trimmed := strings.TrimRight(instanceID, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

// EnsureCleanup is part of the Sweeper interface.
func (s *maasSweeper) EnsureCleanup(ctx context.Context, details ResourceDetails) []CleanupError {
	if len(details.Instances) == 0 {
		return nil
	}
	session, err := newMAASSession()
	if err != nil {
		return []CleanupError{{
			Resource: "maas session",
			Failures: []Failure{{ID: "credentials", Reason: err.Error()}},
		}}
	}
	ids := make([]string, len(details.Instances))
	for i, instance := range details.Instances {
		ids[i] = systemID(instance.ID)
	}
	allocated, err := session.AllocatedSystemIDs(ids)
	if err != nil {
		return []CleanupError{{
			Resource: "machines",
			Failures: []Failure{{ID: "list-machines", Reason: err.Error()}},
		}}
	}
	if len(allocated) == 0 {
		return nil
	}
	logger.Infof("releasing leaked machines %v", allocated)
	if err := session.Release(allocated, "released by acceptance cleanup"); err != nil {
		failures := make([]Failure, len(allocated))
		for i, id := range allocated {
			failures[i] = Failure{ID: id, Reason: err.Error()}
		}
		return []CleanupError{{Resource: "machines", Failures: failures}}
	}
	return nil
}
