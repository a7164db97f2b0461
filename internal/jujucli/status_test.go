// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package jujucli

import (
	"context"
	"time"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
)

const sampleStatus = `
model:
  name: assess-1234
  controller: assess-1234
  cloud: aws
  region: us-east-1
  version: 3.6.1
machines:
  "0":
    juju-status:
      current: started
    dns-name: 54.147.1.2
    ip-addresses:
    - 54.147.1.2
    - 172.31.0.4
    instance-id: i-0abc123
    series: jammy
  "1":
    juju-status:
      current: pending
    instance-id: i-0def456
applications:
  dummy-source:
    units:
      dummy-source/0:
        machine: "1"
        public-address: 54.147.9.9
        workload-status:
          current: waiting
          message: agent initialising
        juju-status:
          current: allocating
`

type statusSuite struct {
	testing.IsolationSuite
	stub *stubJuju
}

var _ = gc.Suite(&statusSuite{})

func (s *statusSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.stub = &stubJuju{}
	s.PatchValue(&runCommand, s.stub.run)
}

func (s *statusSuite) TestParseStatus(c *gc.C) {
	status, err := ParseStatus([]byte(sampleStatus))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(status.Model.Name, gc.Equals, "assess-1234")
	c.Assert(status.Model.Region, gc.Equals, "us-east-1")
	c.Assert(status.Machines, gc.HasLen, 2)
	c.Assert(status.Machines["0"].DNSName, gc.Equals, "54.147.1.2")
	c.Assert(status.Machines["0"].InstanceID, gc.Equals, "i-0abc123")
	c.Assert(status.Machines["1"].JujuStatus.Current, gc.Equals, "pending")
	unit := status.Applications["dummy-source"].Units["dummy-source/0"]
	c.Assert(unit.Machine, gc.Equals, "1")
	c.Assert(unit.WorkloadStatus.Message, gc.Equals, "agent initialising")
}

func (s *statusSuite) TestMachineIDsSorted(c *gc.C) {
	status, err := ParseStatus([]byte(sampleStatus))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(status.MachineIDs(), gc.DeepEquals, []string{"0", "1"})
}

func (s *statusSuite) TestMachineAddress(c *gc.C) {
	status, err := ParseStatus([]byte(sampleStatus))
	c.Assert(err, jc.ErrorIsNil)
	addr, ok := status.MachineAddress("0")
	c.Assert(ok, jc.IsTrue)
	c.Assert(addr, gc.Equals, "54.147.1.2")
	_, ok = status.MachineAddress("1")
	c.Assert(ok, jc.IsFalse)
	_, ok = status.MachineAddress("42")
	c.Assert(ok, jc.IsFalse)
}

func (s *statusSuite) newClient() *Client {
	return NewClient(ClientParams{
		Juju: "juju",
		Env:  Environment{Name: "assess-1234", Cloud: "aws"},
	})
}

func (s *statusSuite) TestWaitForStartedImmediate(c *gc.C) {
	started := `
machines:
  "0":
    juju-status:
      current: started
`
	s.stub.results = []stubResult{{stdout: started}}
	client := s.newClient()
	err := client.WaitForStarted(context.Background(), time.Minute)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.stub.calls, gc.HasLen, 1)
}

func (s *statusSuite) TestWaitForStartedTimesOut(c *gc.C) {
	s.stub.results = []stubResult{{stdout: sampleStatus}}
	client := s.newClient()
	err := client.WaitForStarted(context.Background(), time.Millisecond)
	c.Assert(err, gc.ErrorMatches, ".*machines not started: 1")
}
