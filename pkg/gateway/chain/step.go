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

package chain

import (
	"context"
	"net/http"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/definition"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/expression"
)

// Policy is a processing unit of a chain.
// A policy declares the phases it handles by implementing RequestPolicy and/or ResponsePolicy.
type Policy interface {
	ID() string
}

// RequestPolicy handles the request phase.
type RequestPolicy interface {
	Policy
	OnRequest(ctx context.Context, ec *ExecutionContext) error
}

// ResponsePolicy handles the response phase.
type ResponsePolicy interface {
	Policy
	OnResponse(ctx context.Context, ec *ExecutionContext) error
}

// ExecutionContext is the state shared by the steps of a chain for one request.
type ExecutionContext struct {
	Request  *http.Request
	Response *http.Response
	// Attributes are free-form values exchanged between steps.
	Attributes map[string]any
	// Variables are the values conditions are evaluated against.
	Variables *expression.Variables
}

// NewExecutionContext returns a new execution context for a request.
func NewExecutionContext(req *http.Request, vars *expression.Variables) *ExecutionContext {
	if vars == nil {
		vars = &expression.Variables{}
	}
	ec := &ExecutionContext{
		Request:    req,
		Attributes: make(map[string]any),
		Variables:  vars,
	}
	if vars.Context == nil {
		vars.Context = ec.Attributes
	}
	return ec
}

// Step is a policy bound to a position of a chain.
// Its capabilities are resolved once, at construction.
type Step struct {
	id        string
	policy    Policy
	request   RequestPolicy
	response  ResponsePolicy
	condition string
}

// StepOption configures a step.
type StepOption func(*Step)

// WithCondition runs the step only when the condition evaluates to true.
func WithCondition(condition string) StepOption {
	return func(s *Step) {
		s.condition = condition
	}
}

// WithPhases restricts the step to a subset of the phases its policy handles.
func WithPhases(phases ...definition.Phase) StepOption {
	return func(s *Step) {
		allowed := make(map[definition.Phase]bool, len(phases))
		for _, phase := range phases {
			allowed[phase] = true
		}
		if !allowed[definition.PhaseRequest] {
			s.request = nil
		}
		if !allowed[definition.PhaseResponse] {
			s.response = nil
		}
	}
}

// NewStep returns a new chain step.
func NewStep(id string, policy Policy, opts ...StepOption) *Step {
	s := &Step{
		id:     id,
		policy: policy,
	}
	s.request, _ = policy.(RequestPolicy)
	s.response, _ = policy.(ResponsePolicy)

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the step id.
func (s *Step) ID() string {
	return s.id
}

// Policy returns the step policy.
func (s *Step) Policy() Policy {
	return s.policy
}

// Condition returns the step condition, empty if unconditional.
func (s *Step) Condition() string {
	return s.condition
}

// HandlesRequest returns true if the step runs in the request phase.
func (s *Step) HandlesRequest() bool {
	return s.request != nil
}

// HandlesResponse returns true if the step runs in the response phase.
func (s *Step) HandlesResponse() bool {
	return s.response != nil
}
