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

package definition

import (
	"time"
)

// Definition is an object deployed to a gateway node by synchronization.
type Definition interface {
	// GetID returns the definition id.
	GetID() string
	// GetDeployedAt returns the time the definition was last deployed.
	GetDeployedAt() time.Time
}

// Property is a key-value pair attached to an API.
// Encrypted values hold a compact JWE and are decrypted on deploy.
type Property struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	Encrypted bool   `json:"encrypted,omitempty"`
}

// Organization holds the platform flows applied to every API of the organization.
type Organization struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	DeployedAt time.Time `json:"deployedAt"`
	Flows      []Flow    `json:"flows,omitempty"`
}

// GetID returns the organization id.
func (o *Organization) GetID() string {
	return o.ID
}

// GetDeployedAt returns the organization deployment time.
func (o *Organization) GetDeployedAt() time.Time {
	return o.DeployedAt
}

// SharedPolicyGroup is a reusable list of steps referenced from API flows.
type SharedPolicyGroup struct {
	ID            string    `json:"id"`
	EnvironmentID string    `json:"environmentId,omitempty"`
	Name          string    `json:"name"`
	Phase         Phase     `json:"phase"`
	DeployedAt    time.Time `json:"deployedAt"`
	Steps         []Step    `json:"steps,omitempty"`
}

// GetID returns the shared policy group id.
func (g *SharedPolicyGroup) GetID() string {
	return g.ID
}

// GetDeployedAt returns the shared policy group deployment time.
func (g *SharedPolicyGroup) GetDeployedAt() time.Time {
	return g.DeployedAt
}

// Dictionary is a named set of properties available to expressions.
type Dictionary struct {
	ID         string            `json:"id"`
	Key        string            `json:"key"`
	DeployedAt time.Time         `json:"deployedAt"`
	Properties map[string]string `json:"properties,omitempty"`
}

// GetID returns the dictionary id.
func (d *Dictionary) GetID() string {
	return d.ID
}

// GetDeployedAt returns the dictionary deployment time.
func (d *Dictionary) GetDeployedAt() time.Time {
	return d.DeployedAt
}

// Name returns the key under which expressions reach the dictionary.
func (d *Dictionary) Name() string {
	if d.Key != "" {
		return d.Key
	}
	return d.ID
}
