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

package synchronizer

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"k8s.io/utils/clock"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/definition"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/eventlog"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/metrics"
)

const (
	// DefaultApplyAttempts is the number of attempts to apply an event before skipping it.
	DefaultApplyAttempts = 3
	// DefaultOverlap is how far before the cursor incremental passes read again,
	// for events committed after newer ones.
	DefaultOverlap = 30 * time.Second

	defaultApplyDelay = 100 * time.Millisecond
)

// Option configures a synchronizer.
type Option func(*options)

type options struct {
	environments  []string
	applyWorkers  int
	applyAttempts uint
	applyDelay    time.Duration
	overlap       time.Duration
	fetchPool     *semaphore.Weighted
	clock         clock.PassiveClock
}

// WithEnvironments restricts synchronization to events of the given environments.
func WithEnvironments(environments ...string) Option {
	return func(o *options) {
		o.environments = environments
	}
}

// WithApplyWorkers sets the number of events applied concurrently.
func WithApplyWorkers(workers int) Option {
	return func(o *options) {
		if workers > 0 {
			o.applyWorkers = workers
		}
	}
}

// WithApplyRetry sets the number of attempts to apply an event, and the initial delay between attempts.
func WithApplyRetry(attempts uint, delay time.Duration) Option {
	return func(o *options) {
		if attempts > 0 {
			o.applyAttempts = attempts
		}
		o.applyDelay = delay
	}
}

// WithOverlap sets how far before the cursor incremental passes read again.
// Events read again are applied again, which deployers ignore.
func WithOverlap(overlap time.Duration) Option {
	return func(o *options) {
		if overlap >= 0 {
			o.overlap = overlap
		}
	}
}

// WithFetchPool bounds concurrent fetches by a semaphore shared between synchronizers.
func WithFetchPool(pool *semaphore.Weighted) Option {
	return func(o *options) {
		o.fetchPool = pool
	}
}

// WithClock sets the clock used to bound passes.
func WithClock(clk clock.PassiveClock) Option {
	return func(o *options) {
		o.clock = clk
	}
}

// Instance is a synchronizer of a single event type.
type Instance interface {
	// Type of the synchronized events.
	Type() eventlog.EventType
	// Sync runs a synchronization pass.
	Sync(ctx context.Context) error
	// Ready returns true once a full pass completed.
	Ready() bool
}

// Synchronizer applies the events of one type to the node:
// events are fetched, mapped and deployed.
type Synchronizer[T definition.Definition] struct {
	eventType eventlog.EventType
	fetcher   *Fetcher
	mapper    Mapper[T]
	deployer  Deployer[T]
	options   options

	// lock serializes passes
	lock   sync.Mutex
	cursor eventlog.Cursor
	ready  atomic.Bool

	logger *logrus.Entry
}

// progress tracks the events of a pass in log order.
type progress struct {
	lock      sync.Mutex
	positions []eventlog.Cursor
	done      []bool
}

func (p *progress) add(position eventlog.Cursor) int {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.positions = append(p.positions, position)
	p.done = append(p.done, false)
	return len(p.positions) - 1
}

func (p *progress) complete(index int) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.done[index] = true
}

// processed returns the position of the last event of the longest processed
// prefix, and whether every event was processed.
func (p *progress) processed() (*eventlog.Cursor, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()

	var last *eventlog.Cursor
	for i := range p.positions {
		if !p.done[i] {
			return last, false
		}
		last = &p.positions[i]
	}
	return last, true
}

// Type of the synchronized events.
func (s *Synchronizer[T]) Type() eventlog.EventType {
	return s.eventType
}

// Ready returns true once a full pass completed.
func (s *Synchronizer[T]) Ready() bool {
	return s.ready.Load()
}

// Cursor returns the position after which the next pass starts.
func (s *Synchronizer[T]) Cursor() eventlog.Cursor {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.cursor
}

// Sync runs a synchronization pass. Without a cursor, the pass deploys the
// latest state of every entity. Otherwise it applies the latest event of every
// entity changed after the cursor, minus the overlap. The cursor is the last
// event of the longest processed prefix, so that events not fetched or not
// applied on a cancelled pass are fetched again on the next one. It never
// moves past an event of the log, whatever the node clock.
func (s *Synchronizer[T]) Sync(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	start := time.Now()
	defer func() {
		metrics.RecordSyncPass(string(s.eventType), time.Since(start))
	}()

	q := eventlog.Query{
		Type:         s.eventType,
		Environments: s.options.environments,
		Until:        s.options.clock.Now(),
		Latest:       true,
	}

	if s.cursor.IsZero() {
		q.Actions = []eventlog.SyncAction{eventlog.ActionDeploy}
		s.logger.Infof("Initial synchronization until %v.", q.Until)
	} else {
		after := s.cursor
		if s.options.overlap > 0 {
			after = eventlog.Cursor{CreatedAt: after.CreatedAt.Add(-s.options.overlap)}
		}
		q.After = &after
		s.logger.Debugf("Synchronizing from %v until %v.", after.CreatedAt, q.Until)
	}

	var (
		prog  progress
		group errgroup.Group
	)
	group.SetLimit(s.options.applyWorkers)

	fetchErr := s.fetch(ctx, q, func(event *eventlog.DistributedEvent) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		index := prog.add(event.Cursor())
		group.Go(func() error {
			if s.apply(ctx, event) {
				prog.complete(index)
			}
			return nil
		})
		return nil
	})

	// applies never fail the group
	_ = group.Wait()

	last, all := prog.processed()
	if last != nil {
		s.cursor = eventlog.Max(s.cursor, *last)
	}

	if fetchErr != nil {
		metrics.RecordFetchError(string(s.eventType))
		return fetchErr
	}

	if err := ctx.Err(); err != nil || !all {
		return fmt.Errorf("%s synchronization interrupted: %w", s.eventType, context.Cause(ctx))
	}

	if !s.ready.Swap(true) {
		s.logger.Infof("Initial synchronization completed (%d events).", len(prog.positions))
	}

	return nil
}

func (s *Synchronizer[T]) fetch(ctx context.Context, q eventlog.Query, emit func(*eventlog.DistributedEvent) error) error {
	if pool := s.options.fetchPool; pool != nil {
		if err := pool.Acquire(ctx, 1); err != nil {
			return err
		}
		defer pool.Release(1)
	}

	return s.fetcher.Fetch(ctx, q, emit)
}

// apply maps and applies an event, and returns true if the event was processed:
// applied, skipped or failed after every attempt.
func (s *Synchronizer[T]) apply(ctx context.Context, event *eventlog.DistributedEvent) bool {
	eventType := string(s.eventType)

	deployable, err := s.mapper.Map(event)
	if err != nil {
		s.logger.Warnf("Skipping malformed event '%s': %v.", event.ID, err)
		metrics.RecordSyncEvent(eventType, metrics.OutcomeSkipped)
		return true
	}
	if deployable == nil {
		s.logger.Debugf("Skipping event '%s'.", event.ID)
		metrics.RecordSyncEvent(eventType, metrics.OutcomeSkipped)
		return true
	}

	err = retry.Do(
		func() error {
			if deployable.Action == eventlog.ActionUndeploy {
				return s.deployer.Undeploy(ctx, deployable.ID)
			}
			return s.deployer.Deploy(ctx, deployable.Definition)
		},
		retry.Context(ctx),
		retry.Attempts(s.options.applyAttempts),
		retry.Delay(s.options.applyDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			s.logger.Warnf("Failed applying event '%s' (attempt %d): %v.", event.ID, attempt+1, err)
		}),
	)

	switch {
	case ctx.Err() != nil:
		return false
	case err != nil:
		s.logger.Errorf("Skipping event '%s' (%s '%s'): %v.",
			event.ID, deployable.Action, deployable.ID, err)
		metrics.RecordSyncEvent(eventType, metrics.OutcomeFailed)
	default:
		metrics.RecordSyncEvent(eventType, metrics.OutcomeApplied)
	}

	return true
}

// New returns a new synchronizer of events of the given type.
func New[T definition.Definition](
	eventType eventlog.EventType,
	fetcher *Fetcher,
	mapper Mapper[T],
	deployer Deployer[T],
	opts ...Option,
) *Synchronizer[T] {
	o := options{
		applyWorkers:  runtime.GOMAXPROCS(0),
		applyAttempts: DefaultApplyAttempts,
		applyDelay:    defaultApplyDelay,
		overlap:       DefaultOverlap,
		clock:         clock.RealClock{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Synchronizer[T]{
		eventType: eventType,
		fetcher:   fetcher,
		mapper:    mapper,
		deployer:  deployer,
		options:   o,
		logger: logrus.WithFields(logrus.Fields{
			"component": "synchronizer",
			"type":      eventType,
		}),
	}
}
