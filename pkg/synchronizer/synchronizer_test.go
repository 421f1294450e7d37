// Copyright (C) 2015 The Gravitee team (http://gravitee.io)
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package synchronizer_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/definition"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/eventlog"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/registry"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/sharding"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/synchronizer"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// recordingRepository records queries, and fails when told to.
type recordingRepository struct {
	*eventlog.MemoryRepository

	lock    sync.Mutex
	queries []eventlog.Query
	fail    error
}

func (r *recordingRepository) FetchPage(ctx context.Context, q eventlog.Query) ([]eventlog.DistributedEvent, error) {
	r.lock.Lock()
	r.queries = append(r.queries, q)
	fail := r.fail
	r.lock.Unlock()

	if fail != nil {
		return nil, fail
	}
	return r.MemoryRepository.FetchPage(ctx, q)
}

func (r *recordingRepository) setFail(err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.fail = err
}

func newRepository() *recordingRepository {
	return &recordingRepository{MemoryRepository: eventlog.NewMemoryRepository()}
}

func apiEvent(t *testing.T, id string, action eventlog.SyncAction, seconds int, api *definition.Api) eventlog.DistributedEvent {
	event := eventlog.DistributedEvent{
		ID:         fmt.Sprintf("event-%s-%d", id, seconds),
		Type:       eventlog.TypeApi,
		SyncAction: action,
		EntityID:   id,
		CreatedAt:  base.Add(time.Duration(seconds) * time.Second),
	}

	if api != nil {
		payload, err := json.Marshal(api)
		require.Nil(t, err)
		event.Payload = payload
	}
	return event
}

func testApi(id string, seconds int) *definition.Api {
	return &definition.Api{
		ID:           id,
		Name:         id,
		Enabled:      true,
		ContextPaths: []string{"/" + id},
		DeployedAt:   base.Add(time.Duration(seconds) * time.Second),
	}
}

func newApiSynchronizer(
	repo eventlog.Repository,
	reg *registry.Registry[*definition.Api],
	tags *sharding.Tags,
	clk *clocktesting.FakePassiveClock,
	opts ...synchronizer.Option,
) *synchronizer.Synchronizer[*definition.Api] {
	opts = append(opts, synchronizer.WithClock(clk), synchronizer.WithApplyRetry(3, 0))
	return synchronizer.New[*definition.Api](
		eventlog.TypeApi,
		synchronizer.NewFetcher(repo, 2),
		synchronizer.NewApiMapper(tags, nil),
		synchronizer.NewRegistryDeployer(reg, nil),
		opts...,
	)
}

func TestFetcher(t *testing.T) {
	repo := newRepository()
	require.Nil(t, repo.Append(context.Background(),
		apiEvent(t, "b", eventlog.ActionDeploy, 2, testApi("b", 2)),
		apiEvent(t, "a", eventlog.ActionDeploy, 1, testApi("a", 1)),
	))

	fetcher := synchronizer.NewFetcher(repo, 1)
	require.Equal(t, 1, fetcher.PageSize())

	var emitted []string
	err := fetcher.Fetch(context.Background(), eventlog.Query{Type: eventlog.TypeApi}, func(event *eventlog.DistributedEvent) error {
		emitted = append(emitted, event.EntityID)
		return nil
	})
	require.Nil(t, err)
	require.Equal(t, []string{"a", "b"}, emitted)

	// offsets 0, 1 and 2, the last page being empty
	require.Len(t, repo.queries, 3)
	for i, q := range repo.queries {
		require.Equal(t, i, q.Offset)
		require.Equal(t, 1, q.Limit)
	}

	// emit error aborts
	emitErr := errors.New("emit")
	repo.queries = nil
	err = fetcher.Fetch(context.Background(), eventlog.Query{Type: eventlog.TypeApi}, func(*eventlog.DistributedEvent) error {
		return emitErr
	})
	require.ErrorIs(t, err, emitErr)
	require.Len(t, repo.queries, 1)

	// fetch error aborts
	fetchErr := errors.New("fetch")
	repo.setFail(fetchErr)
	err = fetcher.Fetch(context.Background(), eventlog.Query{Type: eventlog.TypeApi}, func(*eventlog.DistributedEvent) error {
		return nil
	})
	require.ErrorIs(t, err, fetchErr)

	// default page size
	require.Equal(t, synchronizer.DefaultPageSize, synchronizer.NewFetcher(repo, 0).PageSize())
}

func TestRegistryDeployer(t *testing.T) {
	reg := registry.New[*definition.Api]("test")
	var changes []registry.ChangeKind
	reg.AddListener(func(change registry.Change[*definition.Api]) {
		changes = append(changes, change.Kind)
	})

	deployer := synchronizer.NewRegistryDeployer(reg, nil)
	ctx := context.Background()

	// deploying the same definition twice is idempotent
	require.Nil(t, deployer.Deploy(ctx, testApi("a", 1)))
	require.Nil(t, deployer.Deploy(ctx, testApi("a", 1)))
	require.Equal(t, 1, reg.Len())
	require.Equal(t, []registry.ChangeKind{registry.Deployed}, changes)

	// an older definition is ignored
	require.Nil(t, deployer.Deploy(ctx, testApi("a", 0)))
	require.Equal(t, []registry.ChangeKind{registry.Deployed}, changes)

	// a newer definition replaces the deployed one
	require.Nil(t, deployer.Deploy(ctx, testApi("a", 2)))
	api, ok := reg.Get("a")
	require.True(t, ok)
	require.Equal(t, base.Add(2*time.Second), api.DeployedAt)
	require.Equal(t, []registry.ChangeKind{registry.Deployed, registry.Updated}, changes)

	require.Nil(t, deployer.Undeploy(ctx, "a"))
	require.Nil(t, deployer.Undeploy(ctx, "a"))
	require.Equal(t, 0, reg.Len())
	require.Equal(t, []registry.ChangeKind{registry.Deployed, registry.Updated, registry.Undeployed}, changes)

	// validation
	invalid := errors.New("invalid")
	validating := synchronizer.NewRegistryDeployer(reg, func(api *definition.Api) error {
		if api.ID == "bad" {
			return invalid
		}
		return nil
	})
	require.ErrorIs(t, validating.Deploy(ctx, testApi("bad", 1)), invalid)
	require.Nil(t, validating.Deploy(ctx, testApi("good", 1)))
	require.Equal(t, 1, reg.Len())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.ErrorIs(t, deployer.Deploy(cancelled, testApi("c", 1)), context.Canceled)
}

func TestSynchronizer(t *testing.T) {
	repo := newRepository()
	reg := registry.New[*definition.Api]("test")
	clk := clocktesting.NewFakePassiveClock(base.Add(time.Minute))
	syncer := newApiSynchronizer(repo, reg, nil, clk)
	ctx := context.Background()

	require.Nil(t, repo.Append(ctx,
		apiEvent(t, "a", eventlog.ActionDeploy, 1, testApi("a", 1)),
		apiEvent(t, "b", eventlog.ActionDeploy, 2, testApi("b", 2)),
		apiEvent(t, "c", eventlog.ActionDeploy, 3, testApi("c", 3)),
		apiEvent(t, "a", eventlog.ActionDeploy, 4, testApi("a", 4)),
		// latest event of b is an undeploy
		apiEvent(t, "b", eventlog.ActionUndeploy, 5, nil),
	))

	require.False(t, syncer.Ready())
	require.True(t, syncer.Cursor().IsZero())

	// initial synchronization
	require.Nil(t, syncer.Sync(ctx))
	require.True(t, syncer.Ready())
	require.Equal(t, eventlog.TypeApi, syncer.Type())
	require.Equal(t, []string{"a", "c"}, apiIDs(reg))
	api, _ := reg.Get("a")
	require.Equal(t, base.Add(4*time.Second), api.DeployedAt)
	// the cursor is the last applied event, not the end of the window
	require.Equal(t, eventlog.Cursor{CreatedAt: base.Add(4 * time.Second), ID: "event-a-4"}, syncer.Cursor())

	initial := repo.queries[0]
	require.True(t, initial.Latest)
	require.Nil(t, initial.After)
	require.Equal(t, []eventlog.SyncAction{eventlog.ActionDeploy}, initial.Actions)

	// incremental synchronization
	repo.queries = nil
	require.Nil(t, repo.Append(ctx,
		apiEvent(t, "c", eventlog.ActionUndeploy, 61, nil),
		apiEvent(t, "d", eventlog.ActionDeploy, 62, testApi("d", 62)),
	))
	clk.SetTime(base.Add(2 * time.Minute))

	require.Nil(t, syncer.Sync(ctx))
	require.Equal(t, []string{"a", "d"}, apiIDs(reg))

	incremental := repo.queries[0]
	require.True(t, incremental.Latest)
	require.Empty(t, incremental.Actions)
	require.Equal(t, base.Add(4*time.Second-synchronizer.DefaultOverlap), incremental.After.CreatedAt)
	require.Equal(t, base.Add(62*time.Second), syncer.Cursor().CreatedAt)

	// nothing new
	require.Nil(t, syncer.Sync(ctx))
	require.Equal(t, []string{"a", "d"}, apiIDs(reg))
}

func TestSynchronizerIdempotentApply(t *testing.T) {
	repo := newRepository()
	reg := registry.New[*definition.Api]("test")
	clk := clocktesting.NewFakePassiveClock(base.Add(time.Minute))
	ctx := context.Background()

	var changes []registry.ChangeKind
	reg.AddListener(func(change registry.Change[*definition.Api]) {
		changes = append(changes, change.Kind)
	})

	event := apiEvent(t, "a", eventlog.ActionDeploy, 1, testApi("a", 1))
	require.Nil(t, repo.Append(ctx, event))

	first := newApiSynchronizer(repo, reg, nil, clk)
	require.Nil(t, first.Sync(ctx))

	// a second node view replaying the same event
	second := newApiSynchronizer(repo, reg, nil, clk)
	require.Nil(t, second.Sync(ctx))

	require.Equal(t, 1, reg.Len())
	require.Equal(t, []registry.ChangeKind{registry.Deployed}, changes)
}

func TestSynchronizerSharding(t *testing.T) {
	repo := newRepository()
	reg := registry.New[*definition.Api]("test")
	clk := clocktesting.NewFakePassiveClock(base.Add(time.Minute))
	ctx := context.Background()

	tags, err := sharding.Parse("eu, !internal")
	require.Nil(t, err)

	eu := testApi("eu", 1)
	eu.Tags = []string{"EU"}
	internal := testApi("internal", 2)
	internal.Tags = []string{"internal"}
	untagged := testApi("untagged", 3)
	disabled := testApi("disabled", 4)
	disabled.Enabled = false
	eu.Plans = []definition.Plan{
		{ID: "published", Status: definition.PlanPublished},
		{ID: "staging", Status: definition.PlanStaging},
		{ID: "us", Status: definition.PlanPublished, Tags: []string{"us", "internal"}},
	}

	require.Nil(t, repo.Append(ctx,
		apiEvent(t, "eu", eventlog.ActionDeploy, 1, eu),
		apiEvent(t, "internal", eventlog.ActionDeploy, 2, internal),
		apiEvent(t, "untagged", eventlog.ActionDeploy, 3, untagged),
		apiEvent(t, "disabled", eventlog.ActionDeploy, 4, disabled),
	))

	syncer := newApiSynchronizer(repo, reg, tags, clk)
	require.Nil(t, syncer.Sync(ctx))
	require.Equal(t, []string{"eu", "untagged"}, apiIDs(reg))

	api, _ := reg.Get("eu")
	require.Len(t, api.Plans, 1)
	require.Equal(t, "published", api.Plans[0].ID)

	// an API moving out of the node tags is undeployed
	moved := testApi("eu", 10)
	moved.Tags = []string{"internal"}
	require.Nil(t, repo.Append(ctx, apiEvent(t, "eu", eventlog.ActionDeploy, 10, moved)))
	clk.SetTime(base.Add(2 * time.Minute))

	require.Nil(t, syncer.Sync(ctx))
	require.Equal(t, []string{"untagged"}, apiIDs(reg))
}

func TestSynchronizerEnvironments(t *testing.T) {
	repo := newRepository()
	reg := registry.New[*definition.Api]("test")
	clk := clocktesting.NewFakePassiveClock(base.Add(time.Minute))
	ctx := context.Background()

	prod := apiEvent(t, "prod", eventlog.ActionDeploy, 1, testApi("prod", 1))
	prod.Environments = []string{"prod"}
	dev := apiEvent(t, "dev", eventlog.ActionDeploy, 2, testApi("dev", 2))
	dev.Environments = []string{"dev"}
	global := apiEvent(t, "global", eventlog.ActionDeploy, 3, testApi("global", 3))
	require.Nil(t, repo.Append(ctx, prod, dev, global))

	syncer := newApiSynchronizer(repo, reg, nil, clk, synchronizer.WithEnvironments("prod"))
	require.Nil(t, syncer.Sync(ctx))
	require.Equal(t, []string{"global", "prod"}, apiIDs(reg))
}

func TestSynchronizerSkipsMalformedEvents(t *testing.T) {
	repo := newRepository()
	reg := registry.New[*definition.Api]("test")
	clk := clocktesting.NewFakePassiveClock(base.Add(time.Minute))
	ctx := context.Background()

	malformed := apiEvent(t, "bad", eventlog.ActionDeploy, 1, nil)
	malformed.Payload = json.RawMessage(`{"id": 42}`)
	missing := apiEvent(t, "missing", eventlog.ActionDeploy, 2, nil)
	mismatch := apiEvent(t, "other", eventlog.ActionDeploy, 3, testApi("a", 3))
	require.Nil(t, repo.Append(ctx, malformed, missing, mismatch,
		apiEvent(t, "ok", eventlog.ActionDeploy, 4, testApi("ok", 4)),
	))

	syncer := newApiSynchronizer(repo, reg, nil, clk)
	require.Nil(t, syncer.Sync(ctx))
	require.True(t, syncer.Ready())
	require.Equal(t, []string{"ok"}, apiIDs(reg))
	require.Equal(t, base.Add(4*time.Second), syncer.Cursor().CreatedAt)
}

// flakyDeployer fails the first attempts of every deployment of the given id.
type flakyDeployer struct {
	*synchronizer.RegistryDeployer[*definition.Api]

	lock     sync.Mutex
	id       string
	failures int
	attempts int
}

func (d *flakyDeployer) Deploy(ctx context.Context, api *definition.Api) error {
	if api.ID == d.id {
		d.lock.Lock()
		d.attempts++
		fail := d.attempts <= d.failures
		d.lock.Unlock()

		if fail {
			return errors.New("deploy failure")
		}
	}
	return d.RegistryDeployer.Deploy(ctx, api)
}

func TestSynchronizerApplyRetries(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		name     string
		failures int
		deployed []string
	}{
		{name: "recovered", failures: 2, deployed: []string{"a", "b"}},
		{name: "skipped", failures: 5, deployed: []string{"b"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			repo := newRepository()
			reg := registry.New[*definition.Api]("test")
			clk := clocktesting.NewFakePassiveClock(base.Add(time.Minute))

			require.Nil(t, repo.Append(ctx,
				apiEvent(t, "a", eventlog.ActionDeploy, 1, testApi("a", 1)),
				apiEvent(t, "b", eventlog.ActionDeploy, 2, testApi("b", 2)),
			))

			deployer := &flakyDeployer{
				RegistryDeployer: synchronizer.NewRegistryDeployer(reg, nil),
				id:               "a",
				failures:         tc.failures,
			}
			syncer := synchronizer.New[*definition.Api](
				eventlog.TypeApi,
				synchronizer.NewFetcher(repo, 10),
				synchronizer.NewApiMapper(nil, nil),
				deployer,
				synchronizer.WithClock(clk),
				synchronizer.WithApplyRetry(3, 0),
				synchronizer.WithApplyWorkers(1),
			)

			// a failed apply is skipped, and the cursor advances past it
			require.Nil(t, syncer.Sync(ctx))
			require.Equal(t, tc.deployed, apiIDs(reg))
			require.Equal(t, min(tc.failures+1, 3), deployer.attempts)
			require.Equal(t, base.Add(2*time.Second), syncer.Cursor().CreatedAt)
		})
	}
}

func TestSynchronizerFetchError(t *testing.T) {
	repo := newRepository()
	reg := registry.New[*definition.Api]("test")
	clk := clocktesting.NewFakePassiveClock(base.Add(time.Minute))
	ctx := context.Background()

	require.Nil(t, repo.Append(ctx,
		apiEvent(t, "a", eventlog.ActionDeploy, 1, testApi("a", 1)),
	))

	fetchErr := errors.New("unreachable")
	repo.setFail(fetchErr)

	syncer := newApiSynchronizer(repo, reg, nil, clk)
	require.ErrorIs(t, syncer.Sync(ctx), fetchErr)
	require.False(t, syncer.Ready())
	require.True(t, syncer.Cursor().IsZero())
	require.Equal(t, 0, reg.Len())

	// retried on the next pass
	repo.setFail(nil)
	require.Nil(t, syncer.Sync(ctx))
	require.True(t, syncer.Ready())
	require.Equal(t, []string{"a"}, apiIDs(reg))
}

func TestSynchronizerCancelled(t *testing.T) {
	repo := newRepository()
	reg := registry.New[*definition.Api]("test")
	clk := clocktesting.NewFakePassiveClock(base.Add(time.Minute))

	require.Nil(t, repo.Append(context.Background(),
		apiEvent(t, "a", eventlog.ActionDeploy, 1, testApi("a", 1)),
	))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	syncer := newApiSynchronizer(repo, reg, nil, clk)
	require.NotNil(t, syncer.Sync(ctx))
	require.False(t, syncer.Ready())
	require.True(t, syncer.Cursor().IsZero())
	require.Equal(t, 0, reg.Len())
}

func TestSynchronizerLateEvents(t *testing.T) {
	repo := newRepository()
	reg := registry.New[*definition.Api]("test")
	// the node clock is ahead of the event writers
	clk := clocktesting.NewFakePassiveClock(base.Add(10 * time.Second))
	syncer := newApiSynchronizer(repo, reg, nil, clk)
	ctx := context.Background()

	require.Nil(t, repo.Append(ctx, apiEvent(t, "a", eventlog.ActionDeploy, 2, testApi("a", 2))))
	require.Nil(t, syncer.Sync(ctx))
	require.Equal(t, []string{"a"}, apiIDs(reg))

	// stamped before the node time of the previous pass
	require.Nil(t, repo.Append(ctx, apiEvent(t, "b", eventlog.ActionDeploy, 9, testApi("b", 9))))
	clk.SetTime(base.Add(11 * time.Second))
	require.Nil(t, syncer.Sync(ctx))
	require.Equal(t, []string{"a", "b"}, apiIDs(reg))

	// stamped before the cursor, committed after it: read again within the overlap
	require.Nil(t, repo.Append(ctx, apiEvent(t, "c", eventlog.ActionDeploy, 1, testApi("c", 1))))
	clk.SetTime(base.Add(12 * time.Second))
	require.Nil(t, syncer.Sync(ctx))
	require.Equal(t, []string{"a", "b", "c"}, apiIDs(reg))
	require.Equal(t, base.Add(9*time.Second), syncer.Cursor().CreatedAt)
}

func TestSynchronizerWithoutOverlap(t *testing.T) {
	repo := newRepository()
	reg := registry.New[*definition.Api]("test")
	clk := clocktesting.NewFakePassiveClock(base.Add(time.Minute))
	syncer := newApiSynchronizer(repo, reg, nil, clk, synchronizer.WithOverlap(0))
	ctx := context.Background()

	require.Nil(t, repo.Append(ctx, apiEvent(t, "a", eventlog.ActionDeploy, 2, testApi("a", 2))))
	require.Nil(t, syncer.Sync(ctx))

	repo.queries = nil
	require.Nil(t, syncer.Sync(ctx))
	require.Equal(t, syncer.Cursor(), *repo.queries[0].After)
}

// blockingDeployer blocks the deployment of the given id until released or cancelled.
type blockingDeployer struct {
	*synchronizer.RegistryDeployer[*definition.Api]

	id      string
	release chan struct{}
	applied chan string
}

func (d *blockingDeployer) Deploy(ctx context.Context, api *definition.Api) error {
	if api.ID == d.id {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.release:
		}
	}

	err := d.RegistryDeployer.Deploy(ctx, api)
	d.applied <- api.ID
	return err
}

func TestSynchronizerCancelledMidApply(t *testing.T) {
	repo := newRepository()
	reg := registry.New[*definition.Api]("test")
	clk := clocktesting.NewFakePassiveClock(base.Add(time.Minute))

	require.Nil(t, repo.Append(context.Background(),
		apiEvent(t, "a", eventlog.ActionDeploy, 1, testApi("a", 1)),
		apiEvent(t, "b", eventlog.ActionDeploy, 2, testApi("b", 2)),
		apiEvent(t, "c", eventlog.ActionDeploy, 3, testApi("c", 3)),
	))

	deployer := &blockingDeployer{
		RegistryDeployer: synchronizer.NewRegistryDeployer(reg, nil),
		id:               "b",
		release:          make(chan struct{}),
		applied:          make(chan string, 10),
	}
	syncer := synchronizer.New[*definition.Api](
		eventlog.TypeApi,
		synchronizer.NewFetcher(repo, 2),
		synchronizer.NewApiMapper(nil, nil),
		deployer,
		synchronizer.WithClock(clk),
		synchronizer.WithApplyRetry(3, 0),
		synchronizer.WithApplyWorkers(3),
	)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		errs <- syncer.Sync(ctx)
	}()

	// a and c applied while b is in flight
	require.ElementsMatch(t, []string{"a", "c"}, []string{<-deployer.applied, <-deployer.applied})
	cancel()

	require.ErrorIs(t, <-errs, context.Canceled)
	require.False(t, syncer.Ready())
	require.Equal(t, []string{"a", "c"}, apiIDs(reg))
	// the cursor stops before the unapplied event
	require.Equal(t, eventlog.Cursor{CreatedAt: base.Add(time.Second), ID: "event-a-1"}, syncer.Cursor())

	close(deployer.release)
	require.Nil(t, syncer.Sync(context.Background()))
	require.True(t, syncer.Ready())
	require.Equal(t, []string{"a", "b", "c"}, apiIDs(reg))
	require.Equal(t, base.Add(3*time.Second), syncer.Cursor().CreatedAt)
}

func TestRegistryDeployerConcurrentValidation(t *testing.T) {
	reg := registry.New[*definition.Api]("test")

	// rejects an API sharing its context path with another deployed API
	deployer := synchronizer.NewRegistryDeployer(reg, func(api *definition.Api) error {
		for _, other := range reg.All() {
			if other.ID != api.ID && other.ContextPaths[0] == api.ContextPaths[0] {
				return errors.New("conflict")
			}
		}
		return nil
	})

	var (
		wg     sync.WaitGroup
		lock   sync.Mutex
		failed int
	)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			api := testApi(fmt.Sprintf("api-%d", i), 1)
			api.ContextPaths = []string{"/same"}
			if err := deployer.Deploy(context.Background(), api); err != nil {
				lock.Lock()
				failed++
				lock.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, reg.Len())
	require.Equal(t, 7, failed)
}

func apiIDs(reg *registry.Registry[*definition.Api]) []string {
	var ids []string
	for _, api := range reg.All() {
		ids = append(ids, api.ID)
	}
	return ids
}
