// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package deploystack

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/acceptance/internal/jujucli"
)

type strategySuite struct {
	testing.IsolationSuite

	log    *callLog
	client *fakeClient
}

var _ = gc.Suite(&strategySuite{})

func (s *strategySuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.log = &callLog{}
	s.client = newFakeClient(s.log, "assess-tmp")
}

func (s *strategySuite) TestSelectCreateByDefault(c *gc.C) {
	strategy := SelectStrategy(s.client, nil, StrategySpec{})
	c.Assert(strategy.ReusesController(), jc.IsFalse)
	c.Assert(strategy, gc.FitsTypeOf, &createController{})
}

func (s *strategySuite) TestSelectExisting(c *gc.C) {
	strategy := SelectStrategy(s.client, nil, StrategySpec{Existing: "prod"})
	c.Assert(strategy, gc.FitsTypeOf, &existingController{})
}

func (s *strategySuite) TestSelectExistingCurrent(c *gc.C) {
	strategy := SelectStrategy(s.client, nil, StrategySpec{Existing: CurrentController})
	c.Assert(strategy, gc.FitsTypeOf, &existingController{})
}

func (s *strategySuite) TestSelectPublic(c *gc.C) {
	strategy := SelectStrategy(s.client, nil, StrategySpec{
		PublicHost: "jimm.example.com",
		Email:      "qa@example.com",
		Password:   "sekrit",
	})
	c.Assert(strategy, gc.FitsTypeOf, &publicController{})
}

func (s *strategySuite) TestSelectPublicBeatsExisting(c *gc.C) {
	strategy := SelectStrategy(s.client, nil, StrategySpec{
		Existing:   "prod",
		PublicHost: "jimm.example.com",
	})
	c.Assert(strategy, gc.FitsTypeOf, &publicController{})
}

func (s *strategySuite) TestCreatePrepareKillsStaleController(c *gc.C) {
	strategy := NewCreateControllerStrategy(s.client, nil)
	err := strategy.Prepare(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.log.calls, gc.DeepEquals, []string{"kill-controller"})
}

func (s *strategySuite) TestCreateInitialModelBootstraps(c *gc.C) {
	strategy := NewCreateControllerStrategy(s.client, nil)
	err := strategy.CreateInitialModel(context.Background(), ModelArgs{
		UploadTools: true,
		Series:      "jammy",
		ExtraArgs:   []string{"--to", "zone=us-east-1a"},
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.log.calls, gc.DeepEquals, []string{
		`bootstrap upload=true series="jammy" extra=[--to zone=us-east-1a]`,
	})
}

func (s *strategySuite) TestCreateTearDownGraceful(c *gc.C) {
	strategy := NewCreateControllerStrategy(s.client, nil)
	err := strategy.TearDown(context.Background(), true)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.log.calls, gc.DeepEquals, []string{"destroy-controller all-models=true"})
}

func (s *strategySuite) TestCreateTearDownFallsBackToKill(c *gc.C) {
	s.client.failWith("destroy-controller", errors.New("agents wedged"))
	strategy := NewCreateControllerStrategy(s.client, nil)
	err := strategy.TearDown(context.Background(), true)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.log.calls, gc.DeepEquals, []string{
		"destroy-controller all-models=true",
		"kill-controller",
	})
}

func (s *strategySuite) TestCreateTearDownForced(c *gc.C) {
	strategy := NewCreateControllerStrategy(s.client, nil)
	err := strategy.TearDown(context.Background(), false)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.log.calls, gc.DeepEquals, []string{"kill-controller"})
}

func (s *strategySuite) TestCreateTearDownTwiceDestroysOnce(c *gc.C) {
	strategy := NewCreateControllerStrategy(s.client, nil)
	c.Assert(strategy.TearDown(context.Background(), true), jc.ErrorIsNil)
	c.Assert(strategy.TearDown(context.Background(), true), jc.ErrorIsNil)
	c.Assert(s.log.count("destroy-controller"), gc.Equals, 1)
	c.Assert(s.log.count("kill-controller"), gc.Equals, 0)
}

func (s *strategySuite) TestCreatePrepareRearmsTearDown(c *gc.C) {
	strategy := NewCreateControllerStrategy(s.client, nil)
	c.Assert(strategy.TearDown(context.Background(), true), jc.ErrorIsNil)
	c.Assert(strategy.Prepare(context.Background()), jc.ErrorIsNil)
	c.Assert(strategy.TearDown(context.Background(), true), jc.ErrorIsNil)
	c.Assert(s.log.count("destroy-controller"), gc.Equals, 2)
}

func (s *strategySuite) TestCreateTearDownUsesTeardownClient(c *gc.C) {
	teardownLog := &callLog{}
	teardown := newFakeClient(teardownLog, "assess-tmp")
	strategy := NewCreateControllerStrategy(s.client, teardown)
	c.Assert(strategy.TearDown(context.Background(), false), jc.ErrorIsNil)
	c.Assert(s.log.calls, gc.HasLen, 0)
	c.Assert(teardownLog.calls, gc.DeepEquals, []string{"kill-controller"})
}

func (s *strategySuite) TestCreateGetHostsFromControllerStatus(c *gc.C) {
	s.client.status = &jujucli.Status{
		Machines: map[string]jujucli.MachineStatus{
			"0": {DNSName: "10.0.0.5"},
			"1": {},
		},
	}
	strategy := NewCreateControllerStrategy(s.client, nil)
	hosts, err := strategy.GetHosts(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(hosts, gc.DeepEquals, map[string]string{"0": "10.0.0.5"})
}

func (s *strategySuite) TestExistingPrepareSwitchesController(c *gc.C) {
	strategy := NewExistingControllerStrategy(s.client, "prod")
	err := strategy.Prepare(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.log.calls, gc.DeepEquals, []string{"switch prod"})
	c.Assert(s.client.ControllerName(), gc.Equals, "prod")
}

func (s *strategySuite) TestExistingPrepareCurrentIsInert(c *gc.C) {
	strategy := NewExistingControllerStrategy(s.client, CurrentController)
	err := strategy.Prepare(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.log.calls, gc.HasLen, 0)
	c.Assert(s.client.ControllerName(), gc.Equals, "assess-tmp")
}

func (s *strategySuite) TestExistingCreateInitialModelAddsModel(c *gc.C) {
	strategy := NewExistingControllerStrategy(s.client, "prod")
	err := strategy.CreateInitialModel(context.Background(), ModelArgs{})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.log.calls, gc.DeepEquals, []string{"add-model assess-tmp"})
	c.Assert(s.log.count("bootstrap"), gc.Equals, 0)
}

func (s *strategySuite) TestExistingTearDownDestroysOnlyModel(c *gc.C) {
	strategy := NewExistingControllerStrategy(s.client, "prod")
	err := strategy.TearDown(context.Background(), true)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.log.calls, gc.DeepEquals, []string{"destroy-model assess-tmp"})
}

func (s *strategySuite) TestExistingTearDownTwiceDestroysOnce(c *gc.C) {
	strategy := NewExistingControllerStrategy(s.client, "prod")
	c.Assert(strategy.TearDown(context.Background(), true), jc.ErrorIsNil)
	c.Assert(strategy.TearDown(context.Background(), false), jc.ErrorIsNil)
	c.Assert(s.log.count("destroy-model"), gc.Equals, 1)
}

func (s *strategySuite) TestPublicPrepareUnregistersStaleRegistration(c *gc.C) {
	strategy := NewPublicControllerStrategy(s.client, "jimm.example.com", "qa@example.com", "sekrit")
	err := strategy.Prepare(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.log.calls, gc.DeepEquals, []string{"unregister assess-tmp"})
}

func (s *strategySuite) TestPublicPrepareSwallowsUnregisterFailure(c *gc.C) {
	s.client.failWith("unregister", errors.New("controller not found"))
	strategy := NewPublicControllerStrategy(s.client, "jimm.example.com", "qa@example.com", "sekrit")
	c.Assert(strategy.Prepare(context.Background()), jc.ErrorIsNil)
}

func (s *strategySuite) TestPublicCreateInitialModelRegistersThenAddsModel(c *gc.C) {
	strategy := NewPublicControllerStrategy(s.client, "jimm.example.com", "qa@example.com", "sekrit")
	err := strategy.CreateInitialModel(context.Background(), ModelArgs{})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.log.calls, gc.DeepEquals, []string{
		"register jimm.example.com qa@example.com",
		"add-model assess-tmp",
	})
}

func (s *strategySuite) TestPublicRegistrationFailureStopsModelCreation(c *gc.C) {
	s.client.failWith("register", errors.New("bad credentials"))
	strategy := NewPublicControllerStrategy(s.client, "jimm.example.com", "qa@example.com", "sekrit")
	err := strategy.CreateInitialModel(context.Background(), ModelArgs{})
	c.Assert(err, gc.ErrorMatches, "bad credentials")
	c.Assert(s.log.count("add-model"), gc.Equals, 0)
}

func (s *strategySuite) TestPublicGetHostsEmpty(c *gc.C) {
	strategy := NewPublicControllerStrategy(s.client, "jimm.example.com", "qa@example.com", "sekrit")
	hosts, err := strategy.GetHosts(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(hosts, gc.HasLen, 0)
	c.Assert(s.log.calls, gc.HasLen, 0)
}

func (s *strategySuite) TestPublicTearDownDestroysModelAndUnregisters(c *gc.C) {
	strategy := NewPublicControllerStrategy(s.client, "jimm.example.com", "qa@example.com", "sekrit")
	err := strategy.TearDown(context.Background(), true)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.log.calls, gc.DeepEquals, []string{
		"destroy-model assess-tmp",
		"unregister assess-tmp",
	})
}

func (s *strategySuite) TestPublicTearDownUnregistersDespiteDestroyFailure(c *gc.C) {
	s.client.failWith("destroy-model", errors.New("model stuck"))
	strategy := NewPublicControllerStrategy(s.client, "jimm.example.com", "qa@example.com", "sekrit")
	err := strategy.TearDown(context.Background(), true)
	c.Assert(err, gc.ErrorMatches, "model stuck")
	c.Assert(s.log.count("unregister"), gc.Equals, 1)
}

func (s *strategySuite) TestPublicTearDownTwiceIsANoOp(c *gc.C) {
	strategy := NewPublicControllerStrategy(s.client, "jimm.example.com", "qa@example.com", "sekrit")
	c.Assert(strategy.TearDown(context.Background(), true), jc.ErrorIsNil)
	c.Assert(strategy.TearDown(context.Background(), true), jc.ErrorIsNil)
	c.Assert(s.log.count("destroy-model"), gc.Equals, 1)
	c.Assert(s.log.count("unregister"), gc.Equals, 1)
}
