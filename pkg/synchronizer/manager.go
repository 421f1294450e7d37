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
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/eventlog"
)

// DefaultInterval is the delay between two synchronization passes.
const DefaultInterval = 5 * time.Second

// priorities orders synchronization passes, so that definitions are deployed after those they depend on.
var priorities = []eventlog.EventType{
	eventlog.TypeDictionary,
	eventlog.TypeOrganization,
	eventlog.TypeSharedPolicyGroup,
	eventlog.TypeApi,
}

func priority(eventType eventlog.EventType) int {
	if p := slices.Index(priorities, eventType); p >= 0 {
		return p
	}
	return len(priorities)
}

// Manager runs the synchronizers of a node, periodically and in priority order.
type Manager struct {
	instances []Instance
	interval  time.Duration
	clock     clock.WithTicker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// lock orders Start against Stop, a stopped manager never starts
	lock    sync.Mutex
	stopped bool

	logger *logrus.Entry
}

// Name of the manager.
func (m *Manager) Name() string {
	return "synchronizer"
}

// Instances returns the synchronizers, in priority order.
func (m *Manager) Instances() []Instance {
	return m.instances
}

// SyncOnce runs a pass of every synchronizer, in priority order.
// A failed pass does not prevent the following ones.
func (m *Manager) SyncOnce(ctx context.Context) error {
	var errs []error
	for _, instance := range m.instances {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		if err := instance.Sync(ctx); err != nil {
			m.logger.Errorf("%s synchronization failed: %v.", instance.Type(), err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ready returns true once every synchronizer completed a full pass.
func (m *Manager) Ready() bool {
	for _, instance := range m.instances {
		if !instance.Ready() {
			return false
		}
	}
	return true
}

// Start synchronizing, until stopped. Start returns immediately once stopped.
func (m *Manager) Start() error {
	m.lock.Lock()
	if m.stopped {
		m.lock.Unlock()
		return nil
	}
	m.wg.Add(1)
	m.lock.Unlock()
	defer m.wg.Done()

	m.logger.Infof("Synchronizing every %v.", m.interval)

	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		// failures are logged, and retried on the next tick
		_ = m.SyncOnce(m.ctx)

		select {
		case <-m.ctx.Done():
			return nil
		case <-ticker.C():
		}
	}
}

// Stop synchronizing, and wait for the in-flight pass to return.
func (m *Manager) Stop() error {
	m.lock.Lock()
	m.stopped = true
	m.cancel()
	m.lock.Unlock()

	m.wg.Wait()
	return nil
}

// GracefulStop stops synchronizing.
func (m *Manager) GracefulStop() error {
	return m.Stop()
}

// NewManager returns a new manager of the given synchronizers.
func NewManager(interval time.Duration, clk clock.WithTicker, instances ...Instance) *Manager {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	sorted := slices.Clone(instances)
	slices.SortStableFunc(sorted, func(a, b Instance) int {
		return priority(a.Type()) - priority(b.Type())
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		instances: sorted,
		interval:  interval,
		clock:     clk,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logrus.WithField("component", "synchronizer.manager"),
	}
}
