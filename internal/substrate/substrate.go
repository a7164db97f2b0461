// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package substrate removes cloud resources that outlive a destroyed
// controller. Teardown is supposed to take everything with it; the
// sweep is the backstop that finds and removes what leaked, and
// reports what it could not remove.
package substrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("juju.acceptance.substrate")

// controllerTag is the resource tag juju applies to everything a
// controller manages.
const controllerTag = "juju-controller-uuid"

// ResourceDetails identifies the substrate resources a run became
// responsible for. It is recorded right after bootstrap, while the
// controller can still be asked.
type ResourceDetails struct {
	ControllerUUID string
	Instances      []Instance
}

// Empty reports whether there is nothing to sweep for.
func (d ResourceDetails) Empty() bool {
	return d.ControllerUUID == "" && len(d.Instances) == 0
}

// Instance is one machine the run provisioned.
type Instance struct {
	ID      string
	Address string
}

// Failure describes one resource that could not be removed.
type Failure struct {
	ID     string
	Reason string
}

// CleanupError reports the resources of one kind that survived a
// sweep.
type CleanupError struct {
	Resource string
	Failures []Failure
}

// Error is part of the error interface.
func (e *CleanupError) Error() string {
	descriptions := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		descriptions[i] = fmt.Sprintf("%s (%s)", f.ID, f.Reason)
	}
	return fmt.Sprintf("%s not cleaned up: %s", e.Resource, strings.Join(descriptions, ", "))
}

// Sweeper removes leaked resources on one provider.
type Sweeper interface {
	// EnsureCleanup removes whatever it can of the given resources and
	// returns what survived. It never gives up at the first failure.
	EnsureCleanup(ctx context.Context, details ResourceDetails) []CleanupError
}

// For returns the sweeper for a provider type, or false when the
// provider has no sweep support. Constructing a sweeper never touches
// the substrate; credential problems surface from EnsureCleanup.
func For(provider, region string) (Sweeper, bool) {
	switch provider {
	case "aws", "ec2":
		return newAWSSweeper(region), true
	case "openstack":
		return newOpenStackSweeper(), true
	case "maas":
		return newMAASSweeper(), true
	}
	return nil, false
}
