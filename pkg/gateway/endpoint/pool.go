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

package endpoint

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/definition"
)

// Pool serves the endpoints of an endpoint group.
// Primary endpoints are tracked for availability, secondary (backup) endpoints are
// always available and only used when no primary is.
type Pool struct {
	name     string
	strategy Strategy

	lock        sync.Mutex
	primaries   []*Endpoint
	secondaries atomic.Pointer[[]*Endpoint]
	listenerIDs map[*Endpoint]string
	// active primaries, copy-on-write
	active atomic.Pointer[[]*Endpoint]

	secondaryCounter atomic.Uint32
	observers        []AvailabilityListener

	logger *logrus.Entry
}

// Option configures a pool.
type Option func(*Pool)

// WithObserver adds an observer of the availability changes of primary endpoints.
func WithObserver(observer AvailabilityListener) Option {
	return func(p *Pool) {
		p.observers = append(p.observers, observer)
	}
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Register adds an endpoint to the pool.
func (p *Pool) Register(e *Endpoint) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if e.Backup() {
		secondaries := append(append([]*Endpoint(nil), *p.secondaries.Load()...), e)
		p.secondaries.Store(&secondaries)
		p.logger.Debugf("Registered secondary endpoint '%s'.", e.Name())
		return
	}

	p.primaries = append(p.primaries, e)
	p.listenerIDs[e] = e.AddListener(p.onAvailabilityChange)
	p.rebuild()
	p.logger.Debugf("Registered primary endpoint '%s'.", e.Name())
}

// rebuild must be called with the lock held.
func (p *Pool) rebuild() {
	active := make([]*Endpoint, 0, len(p.primaries))
	for _, e := range p.primaries {
		if e.Available() {
			active = append(active, e)
		}
	}
	p.active.Store(&active)
}

func (p *Pool) onAvailabilityChange(e *Endpoint, available bool) {
	p.lock.Lock()
	p.rebuild()
	p.lock.Unlock()

	p.logger.WithFields(logrus.Fields{
		"endpoint":  e.Name(),
		"available": available,
	}).Info("Endpoint availability changed.")

	for _, observer := range p.observers {
		observer(e, available)
	}
}

// Next returns the endpoint to use for the next request, or nil if none is available.
func (p *Pool) Next() *Endpoint {
	if active := *p.active.Load(); len(active) > 0 {
		return p.strategy.Next(active)
	}

	secondaries := *p.secondaries.Load()
	if len(secondaries) == 0 {
		return nil
	}

	n := p.secondaryCounter.Add(1) - 1
	return secondaries[int(n%uint32(len(secondaries)))]
}

// Endpoints returns all endpoints of the pool, primaries first.
func (p *Pool) Endpoints() []*Endpoint {
	p.lock.Lock()
	defer p.lock.Unlock()

	endpoints := append([]*Endpoint(nil), p.primaries...)
	return append(endpoints, *p.secondaries.Load()...)
}

// Close stops tracking the availability of the pool endpoints.
func (p *Pool) Close() {
	p.lock.Lock()
	defer p.lock.Unlock()

	for e, id := range p.listenerIDs {
		e.RemoveListener(id)
	}
	p.listenerIDs = make(map[*Endpoint]string)
}

// NewPool returns a new empty pool.
func NewPool(name string, strategy Strategy, opts ...Option) *Pool {
	p := &Pool{
		name:        name,
		strategy:    strategy,
		listenerIDs: make(map[*Endpoint]string),
		logger:      logrus.WithFields(logrus.Fields{"component": "gateway.endpoint.pool", "pool": name}),
	}
	p.active.Store(&[]*Endpoint{})
	p.secondaries.Store(&[]*Endpoint{})

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewGroupPool returns a pool of the endpoints of a group serving the given tenant.
func NewGroupPool(group *definition.EndpointGroup, tenant string, opts ...Option) (*Pool, error) {
	p := NewPool(group.Name, NewStrategy(group.LoadBalancer), opts...)
	for i := range group.Endpoints {
		e, err := New(&group.Endpoints[i])
		if err != nil {
			p.Close()
			return nil, err
		}

		if !e.ServesTenant(tenant) {
			p.logger.Debugf("Skipping endpoint '%s' of another tenant.", e.Name())
			continue
		}
		p.Register(e)
	}
	return p, nil
}
