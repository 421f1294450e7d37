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

package registry

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/definition"
)

var (
	// ErrNotFound is returned when updating a definition which is not deployed.
	ErrNotFound = errors.New("definition not found")
	// ErrExists is returned when deploying a definition which is already deployed.
	ErrExists = errors.New("definition already deployed")
)

// ChangeKind is the kind of a registry change.
type ChangeKind string

const (
	Deployed   ChangeKind = "deployed"
	Updated    ChangeKind = "updated"
	Undeployed ChangeKind = "undeployed"
)

// Change describes a registry change. Previous is unset for deployments.
type Change[T definition.Definition] struct {
	Kind     ChangeKind
	Current  T
	Previous T
}

// Listener is notified of registry changes.
type Listener[T definition.Definition] func(change Change[T])

// Registry is an in-memory registry of deployed definitions.
// Listeners are called synchronously, in change order, and must not modify the registry.
type Registry[T definition.Definition] struct {
	lock  sync.RWMutex
	cache map[string]T

	notifyLock sync.Mutex
	listeners  map[string]Listener[T]

	logger *logrus.Entry
}

// Deploy a definition.
func (r *Registry[T]) Deploy(def T) error {
	id := def.GetID()
	r.logger.Infof("Deploying: '%s'.", id)

	r.notifyLock.Lock()
	defer r.notifyLock.Unlock()

	r.lock.Lock()
	if _, ok := r.cache[id]; ok {
		r.lock.Unlock()
		return fmt.Errorf("'%s': %w", id, ErrExists)
	}
	r.cache[id] = def
	r.lock.Unlock()

	r.notify(Change[T]{Kind: Deployed, Current: def})
	return nil
}

// Update a deployed definition.
func (r *Registry[T]) Update(def T) error {
	id := def.GetID()
	r.logger.Infof("Updating: '%s'.", id)

	r.notifyLock.Lock()
	defer r.notifyLock.Unlock()

	r.lock.Lock()
	previous, ok := r.cache[id]
	if !ok {
		r.lock.Unlock()
		return fmt.Errorf("'%s': %w", id, ErrNotFound)
	}
	r.cache[id] = def
	r.lock.Unlock()

	r.notify(Change[T]{Kind: Updated, Current: def, Previous: previous})
	return nil
}

// Undeploy a definition. Returns false if it was not deployed.
func (r *Registry[T]) Undeploy(id string) (T, bool) {
	r.logger.Infof("Undeploying: '%s'.", id)

	r.notifyLock.Lock()
	defer r.notifyLock.Unlock()

	r.lock.Lock()
	previous, ok := r.cache[id]
	delete(r.cache, id)
	r.lock.Unlock()

	if ok {
		r.notify(Change[T]{Kind: Undeployed, Previous: previous})
	}
	return previous, ok
}

// Get a deployed definition.
func (r *Registry[T]) Get(id string) (T, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	def, ok := r.cache[id]
	return def, ok
}

// All returns all deployed definitions, ordered by id.
func (r *Registry[T]) All() []T {
	r.lock.RLock()
	defs := make([]T, 0, len(r.cache))
	for _, def := range r.cache {
		defs = append(defs, def)
	}
	r.lock.RUnlock()

	slices.SortFunc(defs, func(a, b T) int {
		return strings.Compare(a.GetID(), b.GetID())
	})
	return defs
}

// Len returns the number of deployed definitions.
func (r *Registry[T]) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.cache)
}

// AddListener registers a change listener and returns its id.
func (r *Registry[T]) AddListener(listener Listener[T]) string {
	r.notifyLock.Lock()
	defer r.notifyLock.Unlock()

	id := uuid.NewString()
	r.listeners[id] = listener
	return id
}

// RemoveListener unregisters a change listener.
func (r *Registry[T]) RemoveListener(id string) {
	r.notifyLock.Lock()
	defer r.notifyLock.Unlock()

	delete(r.listeners, id)
}

// notify must be called with notifyLock held.
func (r *Registry[T]) notify(change Change[T]) {
	for id, listener := range r.listeners {
		r.logger.Debugf("Notifying listener '%s' of %s change.", id, change.Kind)
		listener(change)
	}
}

// New returns a new empty registry.
func New[T definition.Definition](name string) *Registry[T] {
	return &Registry[T]{
		cache:     make(map[string]T),
		listeners: make(map[string]Listener[T]),
		logger:    logrus.WithField("component", "registry."+name),
	}
}
