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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/definition"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/definition/properties"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/eventlog"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/sharding"
)

var errNoPayload = errors.New("event has no payload")

// Deployable is an event mapped to an action on a registry.
type Deployable[T definition.Definition] struct {
	// ID of the definition.
	ID string
	// Action to apply.
	Action eventlog.SyncAction
	// Definition to deploy, unset on undeploy.
	Definition T
}

// Mapper maps an event to a deployable. A nil deployable skips the event.
// An error marks a malformed event, which is skipped as well.
type Mapper[T definition.Definition] interface {
	Map(event *eventlog.DistributedEvent) (*Deployable[T], error)
}

// MapperFunc adapts a function to the Mapper interface.
type MapperFunc[T definition.Definition] func(event *eventlog.DistributedEvent) (*Deployable[T], error)

// Map calls f(event).
func (f MapperFunc[T]) Map(event *eventlog.DistributedEvent) (*Deployable[T], error) {
	return f(event)
}

func undeploy[T definition.Definition](id string) *Deployable[T] {
	return &Deployable[T]{ID: id, Action: eventlog.ActionUndeploy}
}

func decode[T definition.Definition](event *eventlog.DistributedEvent, def T) error {
	if len(event.Payload) == 0 {
		return errNoPayload
	}

	if err := json.Unmarshal(event.Payload, def); err != nil {
		return fmt.Errorf("cannot decode %s payload: %w", event.Type, err)
	}

	if def.GetID() != event.EntityID {
		return fmt.Errorf("payload id '%s' does not match entity '%s'", def.GetID(), event.EntityID)
	}

	return nil
}

// NewPayloadMapper returns a mapper decoding definitions from event payloads.
// newDef returns an empty definition to decode into.
func NewPayloadMapper[T definition.Definition](newDef func() T) Mapper[T] {
	return MapperFunc[T](func(event *eventlog.DistributedEvent) (*Deployable[T], error) {
		if event.SyncAction == eventlog.ActionUndeploy {
			return undeploy[T](event.EntityID), nil
		}

		def := newDef()
		if err := decode(event, def); err != nil {
			return nil, err
		}

		return &Deployable[T]{ID: def.GetID(), Action: eventlog.ActionDeploy, Definition: def}, nil
	})
}

// ApiMapper maps API events, applying the sharding tags of the node.
type ApiMapper struct {
	tags      *sharding.Tags
	decrypter *properties.Decrypter
}

// Map an API event. APIs which are disabled or do not match the node tags
// are undeployed. Plans which cannot serve traffic on this node are dropped.
func (m *ApiMapper) Map(event *eventlog.DistributedEvent) (*Deployable[*definition.Api], error) {
	if event.SyncAction == eventlog.ActionUndeploy {
		return undeploy[*definition.Api](event.EntityID), nil
	}

	api := &definition.Api{}
	if err := decode(event, api); err != nil {
		return nil, err
	}

	if !api.Enabled || !m.tags.Matches(api.Tags) {
		return undeploy[*definition.Api](api.ID), nil
	}

	plans := make([]definition.Plan, 0, len(api.Plans))
	for i := range api.Plans {
		plan := &api.Plans[i]
		if plan.Deployable() && (len(plan.Tags) == 0 || m.tags.Matches(plan.Tags)) {
			plans = append(plans, *plan)
		}
	}
	api.Plans = plans

	if m.decrypter != nil {
		props, err := m.decrypter.DecryptAll(api.Properties)
		if err != nil {
			return nil, fmt.Errorf("cannot decrypt properties of api '%s': %w", api.ID, err)
		}
		api.Properties = props
	}

	return &Deployable[*definition.Api]{ID: api.ID, Action: eventlog.ActionDeploy, Definition: api}, nil
}

// NewApiMapper returns a new API mapper. A nil decrypter leaves properties as is.
func NewApiMapper(tags *sharding.Tags, decrypter *properties.Decrypter) *ApiMapper {
	return &ApiMapper{
		tags:      tags,
		decrypter: decrypter,
	}
}

// NewOrganizationMapper returns a mapper of organization events.
func NewOrganizationMapper() Mapper[*definition.Organization] {
	return NewPayloadMapper(func() *definition.Organization { return &definition.Organization{} })
}

// NewSharedPolicyGroupMapper returns a mapper of shared policy group events.
func NewSharedPolicyGroupMapper() Mapper[*definition.SharedPolicyGroup] {
	return NewPayloadMapper(func() *definition.SharedPolicyGroup { return &definition.SharedPolicyGroup{} })
}

// NewDictionaryMapper returns a mapper of dictionary events.
func NewDictionaryMapper() Mapper[*definition.Dictionary] {
	return NewPayloadMapper(func() *definition.Dictionary { return &definition.Dictionary{} })
}
