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
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/definition"
)

// Registries holds the registries of every definition kind deployed on a node.
type Registries struct {
	Apis               *Registry[*definition.Api]
	Organizations      *Registry[*definition.Organization]
	SharedPolicyGroups *Registry[*definition.SharedPolicyGroup]
	Dictionaries       *Registry[*definition.Dictionary]
}

// NewRegistries returns a new set of empty registries.
func NewRegistries() *Registries {
	return &Registries{
		Apis:               New[*definition.Api]("apis"),
		Organizations:      New[*definition.Organization]("organizations"),
		SharedPolicyGroups: New[*definition.SharedPolicyGroup]("shared-policy-groups"),
		Dictionaries:       New[*definition.Dictionary]("dictionaries"),
	}
}
