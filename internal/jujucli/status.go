// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package jujucli

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/juju/retry"
	"gopkg.in/yaml.v2"
)

// Status is the subset of "juju status --format yaml" the acceptance
// machinery consumes.
type Status struct {
	Model        ModelStatus                  `yaml:"model"`
	Machines     map[string]MachineStatus     `yaml:"machines"`
	Applications map[string]ApplicationStatus `yaml:"applications"`
}

// ModelStatus identifies the model a status document describes.
type ModelStatus struct {
	Name       string `yaml:"name"`
	Controller string `yaml:"controller"`
	Cloud      string `yaml:"cloud"`
	Region     string `yaml:"region"`
	Version    string `yaml:"version"`
}

// StatusInfo is a current/message pair as reported for agents, machines
// and workloads.
type StatusInfo struct {
	Current string `yaml:"current"`
	Message string `yaml:"message"`
}

// MachineStatus describes one machine in a status document.
type MachineStatus struct {
	JujuStatus  StatusInfo               `yaml:"juju-status"`
	DNSName     string                   `yaml:"dns-name"`
	IPAddresses []string                 `yaml:"ip-addresses"`
	InstanceID  string                   `yaml:"instance-id"`
	Series      string                   `yaml:"series"`
	Containers  map[string]MachineStatus `yaml:"containers"`
}

// ApplicationStatus describes one application in a status document.
type ApplicationStatus struct {
	Units map[string]UnitStatus `yaml:"units"`
}

// UnitStatus describes one unit in a status document.
type UnitStatus struct {
	Machine        string     `yaml:"machine"`
	PublicAddress  string     `yaml:"public-address"`
	JujuStatus     StatusInfo `yaml:"juju-status"`
	WorkloadStatus StatusInfo `yaml:"workload-status"`
}

// ParseStatus decodes a yaml-format status document.
func ParseStatus(data []byte) (*Status, error) {
	var status Status
	if err := yaml.Unmarshal(data, &status); err != nil {
		return nil, errors.Annotate(err, "parsing status")
	}
	return &status, nil
}

// Status fetches and parses the status of the client's model.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	out, err := c.run(ctx, defaultTimeout, "status", "-m", c.qualifiedModel(), "--format", "yaml")
	if err != nil {
		return nil, errors.Trace(err)
	}
	return ParseStatus(out)
}

// MachineIDs returns the top-level machine ids in numeric-friendly
// sorted order.
func (s *Status) MachineIDs() []string {
	ids := make([]string, 0, len(s.Machines))
	for id := range s.Machines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MachineAddress returns the public address of a machine, when one has
// been published.
func (s *Status) MachineAddress(id string) (string, bool) {
	machine, ok := s.Machines[id]
	if !ok || machine.DNSName == "" {
		return "", false
	}
	return machine.DNSName, true
}

// notStarted returns the ids of machines whose agent has not yet
// reported started, including machines in an error state.
func (s *Status) notStarted() []string {
	var pending []string
	for _, id := range s.MachineIDs() {
		if s.Machines[id].JujuStatus.Current != "started" {
			pending = append(pending, id)
		}
	}
	return pending
}

const statusPollInterval = 10 * time.Second

// WaitForStarted polls the model's status until every machine agent
// reports started, or the timeout expires.
func (c *Client) WaitForStarted(ctx context.Context, timeout time.Duration) error {
	var pending []string
	err := retry.Call(retry.CallArgs{
		Clock:       c.backend.clock,
		Delay:       statusPollInterval,
		MaxDuration: timeout,
		Func: func() error {
			status, err := c.Status(ctx)
			if err != nil {
				return errors.Trace(err)
			}
			pending = status.notStarted()
			if len(pending) > 0 {
				return errors.Errorf("machines not started: %s", strings.Join(pending, ", "))
			}
			return nil
		},
		NotifyFunc: func(lastError error, attempt int) {
			logger.Debugf("waiting for %q (attempt %d): %v", c.qualifiedModel(), attempt, lastError)
		},
		IsFatalError: func(err error) bool {
			// Status commands can fail transiently right after
			// bootstrap; only cancellation stops the wait early.
			return ctx.Err() != nil
		},
		Stop: ctx.Done(),
	})
	return errors.Annotatef(err, "waiting for agents in %q", c.qualifiedModel())
}
