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
	"encoding/json"
	"time"
)

// ApiType is the kind of traffic an API handles.
type ApiType string

const (
	ApiTypeProxy   ApiType = "proxy"
	ApiTypeMessage ApiType = "message"
)

// FlowMode selects how the flows of an API are resolved.
type FlowMode string

const (
	// FlowModeDefault runs every matching flow, in declaration order.
	FlowModeDefault FlowMode = "default"
	// FlowModeBestMatch runs only the most specific matching flow.
	FlowModeBestMatch FlowMode = "best-match"
)

// PlanStatus is the lifecycle status of a plan.
type PlanStatus string

const (
	PlanStaging    PlanStatus = "STAGING"
	PlanPublished  PlanStatus = "PUBLISHED"
	PlanDeprecated PlanStatus = "DEPRECATED"
	PlanClosed     PlanStatus = "CLOSED"
)

// PlanSecurityKeyless is the security type of plans open to anonymous consumers.
const PlanSecurityKeyless = "KEY_LESS"

// LoadBalancerType is the endpoint selection strategy of an endpoint group.
type LoadBalancerType string

const (
	LoadBalancerRoundRobin         LoadBalancerType = "ROUND_ROBIN"
	LoadBalancerRandom             LoadBalancerType = "RANDOM"
	LoadBalancerWeightedRoundRobin LoadBalancerType = "WEIGHTED_ROUND_ROBIN"
	LoadBalancerWeightedRandom     LoadBalancerType = "WEIGHTED_RANDOM"
)

// FlowExecution configures flow resolution of an API.
type FlowExecution struct {
	Mode FlowMode `json:"mode,omitempty"`
	// MatchRequired rejects requests matching no flow.
	MatchRequired bool `json:"matchRequired,omitempty"`
}

// PlanSecurity is the security configuration of a plan.
type PlanSecurity struct {
	Type          string          `json:"type"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

// Plan is a consumption contract of an API.
type Plan struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Status   PlanStatus   `json:"status"`
	Tags     []string     `json:"tags,omitempty"`
	Security PlanSecurity `json:"security"`
	Flows    []Flow       `json:"flows,omitempty"`
}

// Deployable reports whether a plan in this status can serve traffic.
func (p *Plan) Deployable() bool {
	return p.Status == PlanPublished || p.Status == PlanDeprecated
}

// EndpointSpec is the definition of a single backend endpoint.
type EndpointSpec struct {
	Name    string   `json:"name"`
	Target  string   `json:"target"`
	Weight  int      `json:"weight,omitempty"`
	Backup  bool     `json:"backup,omitempty"`
	Tenants []string `json:"tenants,omitempty"`
}

// HealthCheck configures active health checking of the endpoints of a group.
type HealthCheck struct {
	Enabled bool `json:"enabled"`
	// Path is requested on each endpoint target, "/" if unset.
	Path string `json:"path,omitempty"`
	// IntervalMillis between two checks of an endpoint.
	IntervalMillis int64 `json:"intervalMillis,omitempty"`
	// SuccessThreshold is the number of consecutive successes making an endpoint available.
	SuccessThreshold int `json:"successThreshold,omitempty"`
	// FailureThreshold is the number of consecutive failures making an endpoint unavailable.
	FailureThreshold int `json:"failureThreshold,omitempty"`
}

// EndpointGroup is a set of endpoints sharing a load-balancing strategy.
type EndpointGroup struct {
	Name         string           `json:"name"`
	LoadBalancer LoadBalancerType `json:"loadBalancer,omitempty"`
	Endpoints    []EndpointSpec   `json:"endpoints"`
	HealthCheck  *HealthCheck     `json:"healthCheck,omitempty"`
}

// DefaultFailoverMaxRetries is the number of retries of a failover without MaxRetries.
const DefaultFailoverMaxRetries = 2

// Failover retries requests which could not reach an endpoint on the next
// endpoint of the pool.
type Failover struct {
	Enabled bool `json:"enabled"`
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `json:"maxRetries,omitempty"`
}

// Retries returns the number of retries allowed, 0 when failover is disabled.
func (f *Failover) Retries() int {
	switch {
	case f == nil || !f.Enabled:
		return 0
	case f.MaxRetries <= 0:
		return DefaultFailoverMaxRetries
	}
	return f.MaxRetries
}

// Api is a deployable API definition.
type Api struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	ApiVersion     string          `json:"apiVersion,omitempty"`
	Type           ApiType         `json:"type,omitempty"`
	ContextPaths   []string        `json:"contextPaths"`
	Enabled        bool            `json:"enabled"`
	DeployedAt     time.Time       `json:"deployedAt"`
	EnvironmentID  string          `json:"environmentId,omitempty"`
	OrganizationID string          `json:"organizationId,omitempty"`
	Tags           []string        `json:"tags,omitempty"`
	FlowExecution  FlowExecution   `json:"flowExecution"`
	Flows          []Flow          `json:"flows,omitempty"`
	Plans          []Plan          `json:"plans,omitempty"`
	Properties     []Property      `json:"properties,omitempty"`
	EndpointGroups []EndpointGroup `json:"endpointGroups,omitempty"`
	Failover       *Failover       `json:"failover,omitempty"`
}

// UnmarshalJSON decodes an API, defaulting Enabled to true.
func (a *Api) UnmarshalJSON(data []byte) error {
	type alias Api
	decoded := alias{Enabled: true}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	*a = Api(decoded)
	return nil
}

// GetID returns the API id.
func (a *Api) GetID() string {
	return a.ID
}

// GetDeployedAt returns the API deployment time.
func (a *Api) GetDeployedAt() time.Time {
	return a.DeployedAt
}

// PropertyMap returns the API properties keyed by name.
func (a *Api) PropertyMap() map[string]string {
	props := make(map[string]string, len(a.Properties))
	for _, p := range a.Properties {
		props[p.Key] = p.Value
	}
	return props
}
