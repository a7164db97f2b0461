// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package deploystack

import (
	"context"
	"fmt"
	"strings"

	"github.com/juju/acceptance/internal/jujucli"
	"github.com/juju/acceptance/internal/substrate"
)

// callLog records calls across the fakes sharing it, preserving the
// order they happened in.
type callLog struct {
	calls []string
}

func (l *callLog) add(format string, args ...interface{}) {
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

// index returns the position of the first call with the given prefix,
// or -1.
func (l *callLog) index(prefix string) int {
	for i, call := range l.calls {
		if strings.HasPrefix(call, prefix) {
			return i
		}
	}
	return -1
}

func (l *callLog) count(prefix string) int {
	n := 0
	for _, call := range l.calls {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}
	return n
}

// fakeClient records every driver call and plays back scripted
// results. Derived clients share the log of the client they came
// from.
type fakeClient struct {
	log        *callLog
	env        jujucli.Environment
	controller string
	model      string

	// errs scripts a failure per operation name.
	errs map[string]error

	status       *jujucli.Status
	uuid         string
	modelClients []Client
}

func newFakeClient(log *callLog, name string) *fakeClient {
	return &fakeClient{
		log:        log,
		env:        jujucli.Environment{Name: name, Cloud: "aws", Region: "us-east-1"},
		controller: name,
		model:      name,
		errs:       make(map[string]error),
		uuid:       "feedface-0000-4000-8000-000000000000",
	}
}

func (f *fakeClient) failWith(op string, err error) {
	f.errs[op] = err
}

func (f *fakeClient) scripted(op string) error {
	return f.errs[op]
}

func (f *fakeClient) Environment() jujucli.Environment { return f.env }
func (f *fakeClient) ControllerName() string           { return f.controller }
func (f *fakeClient) ModelName() string                { return f.model }

func (f *fakeClient) UpdateEnvironment(env jujucli.Environment) {
	f.log.add("update-env %s", env.Name)
	f.env = env
	f.controller = env.Name
	f.model = env.Name
}

func (f *fakeClient) SwitchController(name string) {
	f.log.add("switch %s", name)
	f.controller = name
}

func (f *fakeClient) Bootstrap(ctx context.Context, p jujucli.BootstrapParams) error {
	f.log.add("bootstrap upload=%v series=%q extra=%v", p.UploadTools, p.Series, p.ExtraArgs)
	return f.scripted("bootstrap")
}

func (f *fakeClient) KillController(ctx context.Context) error {
	f.log.add("kill-controller")
	return f.scripted("kill-controller")
}

func (f *fakeClient) DestroyController(ctx context.Context, destroyAllModels bool) error {
	f.log.add("destroy-controller all-models=%v", destroyAllModels)
	return f.scripted("destroy-controller")
}

func (f *fakeClient) DestroyModel(ctx context.Context) error {
	f.log.add("destroy-model %s", f.model)
	return f.scripted("destroy-model")
}

func (f *fakeClient) AddModel(ctx context.Context, name string) (Client, error) {
	f.log.add("add-model %s", name)
	if err := f.scripted("add-model"); err != nil {
		return nil, err
	}
	derived := newFakeClient(f.log, f.env.Name)
	derived.controller = f.controller
	derived.model = name
	return derived, nil
}

func (f *fakeClient) ControllerClient() Client {
	derived := newFakeClient(f.log, f.env.Name)
	derived.controller = f.controller
	derived.model = "controller"
	derived.status = f.status
	derived.errs = f.errs
	return derived
}

func (f *fakeClient) ModelClients(ctx context.Context) ([]Client, error) {
	f.log.add("model-clients")
	if err := f.scripted("model-clients"); err != nil {
		return nil, err
	}
	if f.modelClients != nil {
		return f.modelClients, nil
	}
	return []Client{f}, nil
}

func (f *fakeClient) Status(ctx context.Context) (*jujucli.Status, error) {
	f.log.add("status %s", f.model)
	if err := f.scripted("status"); err != nil {
		return nil, err
	}
	if f.status == nil {
		return &jujucli.Status{}, nil
	}
	return f.status, nil
}

func (f *fakeClient) StatusText(ctx context.Context) (string, error) {
	f.log.add("status-text %s", f.model)
	if err := f.scripted("status-text"); err != nil {
		return "", err
	}
	return "machines: {}\n", nil
}

func (f *fakeClient) ControllersText(ctx context.Context) (string, error) {
	f.log.add("controllers-text")
	return "Controller  Model\n", f.scripted("controllers-text")
}

func (f *fakeClient) ModelsText(ctx context.Context) (string, error) {
	f.log.add("models-text")
	return "Model  Cloud\n", f.scripted("models-text")
}

func (f *fakeClient) AddMachine(ctx context.Context, placement string) error {
	f.log.add("add-machine %s", placement)
	return f.scripted("add-machine")
}

func (f *fakeClient) RegisterHost(ctx context.Context, host, email, password string) error {
	f.log.add("register %s %s", host, email)
	return f.scripted("register")
}

func (f *fakeClient) Unregister(ctx context.Context) error {
	f.log.add("unregister %s", f.controller)
	return f.scripted("unregister")
}

func (f *fakeClient) ControllerUUID(ctx context.Context) (string, error) {
	f.log.add("controller-uuid")
	if err := f.scripted("controller-uuid"); err != nil {
		return "", err
	}
	return f.uuid, nil
}

func (f *fakeClient) WriteTimings(path string) error {
	f.log.add("write-timings %s", path)
	return f.scripted("write-timings")
}

// fakeStrategy records lifecycle calls, sharing a log with the client
// fakes so cross-collaborator ordering can be asserted.
type fakeStrategy struct {
	log *callLog

	prepareErr  error
	createErr   error
	hosts       map[string]string
	hostsErr    error
	teardownErr error
	reuses      bool

	teardownFlags []bool
}

func (f *fakeStrategy) Prepare(ctx context.Context) error {
	f.log.add("prepare")
	return f.prepareErr
}

func (f *fakeStrategy) CreateInitialModel(ctx context.Context, args ModelArgs) error {
	f.log.add("create-initial-model upload=%v", args.UploadTools)
	return f.createErr
}

func (f *fakeStrategy) GetHosts(ctx context.Context) (map[string]string, error) {
	f.log.add("get-hosts")
	return f.hosts, f.hostsErr
}

func (f *fakeStrategy) TearDown(ctx context.Context, hasController bool) error {
	f.log.add("tear-down has-controller=%v", hasController)
	f.teardownFlags = append(f.teardownFlags, hasController)
	return f.teardownErr
}

func (f *fakeStrategy) ReusesController() bool {
	return f.reuses
}

// fakeRemote satisfies remoteHost without touching the network.
type fakeRemote struct {
	log     *callLog
	address string
	copyErr error
}

func (f *fakeRemote) Address() string { return f.address }

func (f *fakeRemote) Copy(dstDir string, patterns []string) error {
	f.log.add("copy %s -> %s [%s]", f.address, dstDir, strings.Join(patterns, " "))
	return f.copyErr
}

// fakeSweeper records the ledger it was given.
type fakeSweeper struct {
	details []substrate.ResourceDetails
	result  []substrate.CleanupError
}

func (f *fakeSweeper) EnsureCleanup(ctx context.Context, details substrate.ResourceDetails) []substrate.CleanupError {
	f.details = append(f.details, details)
	return f.result
}
