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
)

// SelectorType is the kind of a flow selector.
type SelectorType string

const (
	// SelectorHTTP matches on the request path and method.
	SelectorHTTP SelectorType = "http"
	// SelectorChannel matches on a message channel and operation.
	SelectorChannel SelectorType = "channel"
	// SelectorCondition matches on an expression.
	SelectorCondition SelectorType = "condition"
)

// Operator is the comparison applied by a path or channel selector.
type Operator string

const (
	// OperatorEquals requires the whole value to match.
	OperatorEquals Operator = "EQUALS"
	// OperatorStartsWith requires the selector value to be a prefix of the request value.
	OperatorStartsWith Operator = "STARTS_WITH"
)

// Operation is a message operation of a channel API.
type Operation string

const (
	OperationSubscribe Operation = "SUBSCRIBE"
	OperationPublish   Operation = "PUBLISH"
)

// Phase identifies the list of steps of a flow.
type Phase string

const (
	PhaseRequest   Phase = "REQUEST"
	PhaseResponse  Phase = "RESPONSE"
	PhaseSubscribe Phase = "SUBSCRIBE"
	PhasePublish   Phase = "PUBLISH"
)

// Selector is a matching rule attached to a flow.
type Selector struct {
	Type SelectorType `json:"type"`

	// http
	Path         string   `json:"path,omitempty"`
	PathOperator Operator `json:"pathOperator,omitempty"`
	Methods      []string `json:"methods,omitempty"`

	// channel
	Channel         string      `json:"channel,omitempty"`
	ChannelOperator Operator    `json:"channelOperator,omitempty"`
	Operations      []Operation `json:"operations,omitempty"`

	// condition
	Condition string `json:"condition,omitempty"`
}

// Step is a single policy invocation within a flow phase.
type Step struct {
	Name          string          `json:"name,omitempty"`
	Policy        string          `json:"policy"`
	Description   string          `json:"description,omitempty"`
	Enabled       bool            `json:"enabled"`
	Condition     string          `json:"condition,omitempty"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
	// SharedPolicyGroupID references a shared policy group, for steps using
	// the shared policy group policy.
	SharedPolicyGroupID string `json:"sharedPolicyGroupId,omitempty"`
}

// UnmarshalJSON decodes a step, defaulting Enabled to true.
func (s *Step) UnmarshalJSON(data []byte) error {
	type alias Step
	decoded := alias{Enabled: true}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	*s = Step(decoded)
	return nil
}

// Flow is a conditionally selected group of policies.
type Flow struct {
	ID        string     `json:"id,omitempty"`
	Name      string     `json:"name,omitempty"`
	Enabled   bool       `json:"enabled"`
	Selectors []Selector `json:"selectors,omitempty"`
	Request   []Step     `json:"request,omitempty"`
	Response  []Step     `json:"response,omitempty"`
	Subscribe []Step     `json:"subscribe,omitempty"`
	Publish   []Step     `json:"publish,omitempty"`
}

// UnmarshalJSON decodes a flow, defaulting Enabled to true.
func (f *Flow) UnmarshalJSON(data []byte) error {
	type alias Flow
	decoded := alias{Enabled: true}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	*f = Flow(decoded)
	return nil
}

// Selector returns the first selector of the given type, or nil.
func (f *Flow) Selector(selectorType SelectorType) *Selector {
	for i := range f.Selectors {
		if f.Selectors[i].Type == selectorType {
			return &f.Selectors[i]
		}
	}
	return nil
}

// Steps returns the steps of the given phase.
func (f *Flow) Steps(phase Phase) []Step {
	switch phase {
	case PhaseRequest:
		return f.Request
	case PhaseResponse:
		return f.Response
	case PhaseSubscribe:
		return f.Subscribe
	case PhasePublish:
		return f.Publish
	}
	return nil
}

// DisplayName returns the flow name, falling back to its id.
func (f *Flow) DisplayName() string {
	if f.Name != "" {
		return f.Name
	}
	return f.ID
}
