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
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/definition"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/registry"
)

// Deployer applies deployables to the node.
type Deployer[T definition.Definition] interface {
	// Deploy creates or replaces a definition.
	Deploy(ctx context.Context, def T) error
	// Undeploy removes a definition, if deployed.
	Undeploy(ctx context.Context, id string) error
}

// ValidateFunc rejects definitions which cannot be deployed.
type ValidateFunc[T definition.Definition] func(def T) error

// RegistryDeployer deploys definitions to a registry.
type RegistryDeployer[T definition.Definition] struct {
	registry *registry.Registry[T]
	validate ValidateFunc[T]

	// lock makes a validation and the registry change it allows atomic,
	// validations depend on the definitions already deployed
	lock sync.Mutex

	logger *logrus.Entry
}

// Deploy a definition. Deploying a definition which is not newer than
// the registered one is a no-op.
func (d *RegistryDeployer[T]) Deploy(ctx context.Context, def T) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if d.validate != nil {
		d.lock.Lock()
		defer d.lock.Unlock()
	}

	id := def.GetID()
	existing, ok := d.registry.Get(id)
	if ok && !def.GetDeployedAt().After(existing.GetDeployedAt()) {
		d.logger.Debugf("'%s' already deployed at %v.", id, existing.GetDeployedAt())
		return nil
	}

	if d.validate != nil {
		if err := d.validate(def); err != nil {
			return fmt.Errorf("invalid definition '%s': %w", id, err)
		}
	}

	if !ok {
		err := d.registry.Deploy(def)
		if err == nil || !errors.Is(err, registry.ErrExists) {
			return err
		}
	}

	return d.registry.Update(def)
}

// Undeploy a definition.
func (d *RegistryDeployer[T]) Undeploy(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, ok := d.registry.Undeploy(id); !ok {
		d.logger.Debugf("'%s' not deployed.", id)
	}
	return nil
}

// NewRegistryDeployer returns a deployer to a registry.
// validate may be nil.
func NewRegistryDeployer[T definition.Definition](reg *registry.Registry[T], validate ValidateFunc[T]) *RegistryDeployer[T] {
	return &RegistryDeployer[T]{
		registry: reg,
		validate: validate,
		logger:   logrus.WithField("component", "synchronizer.deployer"),
	}
}
