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
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/definition"
)

// AvailabilityListener is notified when an endpoint availability changes.
type AvailabilityListener func(e *Endpoint, available bool)

// Endpoint is a backend target of an endpoint pool.
type Endpoint struct {
	name    string
	target  *url.URL
	weight  int
	backup  bool
	tenants []string

	available atomic.Bool

	lock      sync.Mutex
	listeners map[string]AvailabilityListener
}

// Name returns the endpoint name.
func (e *Endpoint) Name() string {
	return e.name
}

// Target returns the endpoint target URL.
func (e *Endpoint) Target() *url.URL {
	return e.target
}

// Weight returns the endpoint weight, at least 1.
func (e *Endpoint) Weight() int {
	return e.weight
}

// Backup returns true for secondary endpoints.
func (e *Endpoint) Backup() bool {
	return e.backup
}

// Available returns the current availability of the endpoint.
func (e *Endpoint) Available() bool {
	return e.available.Load()
}

// SetAvailable changes the endpoint availability.
// Listeners are called synchronously, only if the availability changed.
func (e *Endpoint) SetAvailable(available bool) {
	if !e.available.CompareAndSwap(!available, available) {
		return
	}

	e.lock.Lock()
	listeners := make([]AvailabilityListener, 0, len(e.listeners))
	for _, listener := range e.listeners {
		listeners = append(listeners, listener)
	}
	e.lock.Unlock()

	for _, listener := range listeners {
		listener(e, available)
	}
}

// AddListener registers an availability listener and returns its id.
func (e *Endpoint) AddListener(listener AvailabilityListener) string {
	e.lock.Lock()
	defer e.lock.Unlock()

	id := uuid.NewString()
	e.listeners[id] = listener
	return id
}

// RemoveListener unregisters an availability listener.
func (e *Endpoint) RemoveListener(id string) {
	e.lock.Lock()
	defer e.lock.Unlock()

	delete(e.listeners, id)
}

// ServesTenant returns true if the endpoint should be used by a node of the given tenant.
func (e *Endpoint) ServesTenant(tenant string) bool {
	if tenant == "" || len(e.tenants) == 0 {
		return true
	}
	for _, t := range e.tenants {
		if t == tenant {
			return true
		}
	}
	return false
}

// New returns a new available endpoint.
func New(spec *definition.EndpointSpec) (*Endpoint, error) {
	target, err := url.Parse(spec.Target)
	if err != nil {
		return nil, fmt.Errorf("invalid target for endpoint '%s': %w", spec.Name, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid target for endpoint '%s': '%s' is not absolute", spec.Name, spec.Target)
	}

	weight := spec.Weight
	if weight < 1 {
		weight = 1
	}

	e := &Endpoint{
		name:      spec.Name,
		target:    target,
		weight:    weight,
		backup:    spec.Backup,
		tenants:   spec.Tenants,
		listeners: make(map[string]AvailabilityListener),
	}
	e.available.Store(true)
	return e, nil
}
