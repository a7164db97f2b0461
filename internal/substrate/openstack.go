// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package substrate

import (
	"context"
	"strings"

	"github.com/go-goose/goose/v5/client"
	gooseerrors "github.com/go-goose/goose/v5/errors"
	"github.com/go-goose/goose/v5/identity"
	"github.com/go-goose/goose/v5/nova"
	"github.com/juju/errors"
)

// novaClient is the part of the compute API the sweeper drives.
type novaClient interface {
	ListServersDetail(filter *nova.Filter) ([]nova.ServerDetail, error)
	DeleteServer(serverID string) error
	ListSecurityGroups() ([]nova.SecurityGroup, error)
	DeleteSecurityGroup(groupID string) error
}

type openstackSweeper struct {
	newClient func() (novaClient, error)
}

func newOpenStackSweeper() *openstackSweeper {
	return &openstackSweeper{
		newClient: func() (novaClient, error) {
			creds, err := identity.CredentialsFromEnv()
			if err != nil {
				return nil, errors.Annotate(err, "reading OS_* environment")
			}
			authMode := identity.AuthUserPass
			if strings.Contains(creds.URL, "/v3") {
				authMode = identity.AuthUserPassV3
			}
			// Authentication happens lazily, on the first request.
			return nova.New(client.NewClient(creds, authMode, nil)), nil
		},
	}
}

// EnsureCleanup is part of the Sweeper interface.
func (s *openstackSweeper) EnsureCleanup(ctx context.Context, details ResourceDetails) []CleanupError {
	if details.Empty() {
		return nil
	}
	compute, err := s.newClient()
	if err != nil {
		return []CleanupError{{
			Resource: "openstack session",
			Failures: []Failure{{ID: "credentials", Reason: err.Error()}},
		}}
	}
	var cleanupErrors []CleanupError
	if failures := s.deleteServers(compute, details); len(failures) > 0 {
		cleanupErrors = append(cleanupErrors, CleanupError{Resource: "servers", Failures: failures})
	}
	if failures := s.deleteSecurityGroups(compute, details); len(failures) > 0 {
		cleanupErrors = append(cleanupErrors, CleanupError{Resource: "security groups", Failures: failures})
	}
	return cleanupErrors
}

// leakedServers finds the run's servers still known to the substrate:
// everything juju-named whose metadata carries the controller tag,
// plus anything recorded in the ledger.
func (s *openstackSweeper) leakedServers(compute novaClient, details ResourceDetails) ([]string, error) {
	recorded := make(map[string]bool, len(details.Instances))
	for _, instance := range details.Instances {
		recorded[instance.ID] = true
	}
	filter := nova.NewFilter()
	filter.Set(nova.FilterServer, "juju-.*")
	servers, err := compute.ListServersDetail(filter)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var ids []string
	for _, server := range servers {
		if recorded[server.Id] || (details.ControllerUUID != "" &&
			server.Metadata[controllerTag] == details.ControllerUUID) {
			ids = append(ids, server.Id)
		}
	}
	return ids, nil
}

func (s *openstackSweeper) deleteServers(compute novaClient, details ResourceDetails) []Failure {
	ids, err := s.leakedServers(compute, details)
	if err != nil {
		return []Failure{{ID: "list-servers", Reason: err.Error()}}
	}
	var failures []Failure
	for _, id := range ids {
		logger.Infof("deleting leaked server %s", id)
		if err := compute.DeleteServer(id); err != nil && !gooseerrors.IsNotFound(err) {
			failures = append(failures, Failure{ID: id, Reason: err.Error()})
		}
	}
	return failures
}

func (s *openstackSweeper) deleteSecurityGroups(compute novaClient, details ResourceDetails) []Failure {
	if details.ControllerUUID == "" {
		// Without the tag there is no safe way to tell the run's groups
		// from any other juju deployment's.
		return nil
	}
	groups, err := compute.ListSecurityGroups()
	if err != nil {
		return []Failure{{ID: "list-security-groups", Reason: err.Error()}}
	}
	var failures []Failure
	for _, group := range groups {
		if !strings.HasPrefix(group.Name, "juju-") ||
			!strings.Contains(group.Name, details.ControllerUUID) {
			continue
		}
		logger.Infof("deleting leaked security group %s (%s)", group.Id, group.Name)
		if err := compute.DeleteSecurityGroup(group.Id); err != nil && !gooseerrors.IsNotFound(err) {
			failures = append(failures, Failure{ID: group.Id, Reason: err.Error()})
		}
	}
	return failures
}
