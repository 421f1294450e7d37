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

package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/gateway/chain"
)

// ErrUnknownPolicy is returned when creating a policy which is not registered.
var ErrUnknownPolicy = errors.New("unknown policy")

// Factory creates a policy from its configuration.
type Factory func(config json.RawMessage) (chain.Policy, error)

// Registry holds the policy factories, keyed by policy name.
type Registry struct {
	lock      sync.RWMutex
	factories map[string]Factory

	logger *logrus.Entry
}

// Register a policy factory.
func (r *Registry) Register(name string, factory Factory) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("policy '%s' already registered", name)
	}

	r.logger.Infof("Registering policy '%s'.", name)
	r.factories[name] = factory
	return nil
}

// Create a policy instance.
func (r *Registry) Create(name string, config json.RawMessage) (chain.Policy, error) {
	r.lock.RLock()
	factory, ok := r.factories[name]
	r.lock.RUnlock()

	if !ok {
		return nil, fmt.Errorf("'%s': %w", name, ErrUnknownPolicy)
	}

	policy, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration of policy '%s': %w", name, err)
	}
	return policy, nil
}

// NewRegistry returns a new registry holding the built-in policies.
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		logger:    logrus.WithField("component", "gateway.policy"),
	}

	r.factories[TransformHeadersName] = NewTransformHeaders
	r.factories[AssignAttributesName] = NewAssignAttributes
	return r
}
