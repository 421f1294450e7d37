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
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/definition"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/expression"
)

// ConditionEvaluator evaluates step conditions.
type ConditionEvaluator interface {
	EvalBool(ctx context.Context, expr string, vars *expression.Variables) (bool, error)
}

// Chain executes an ordered list of steps over a request, and in reverse over its response.
// A chain is immutable and may be executed concurrently for different requests.
type Chain struct {
	steps     []*Step
	hooks     []Hook
	evaluator ConditionEvaluator

	logger *logrus.Entry
}

// Option configures a chain.
type Option func(*Chain)

// WithHooks adds hooks wrapping every step.
func WithHooks(hooks ...Hook) Option {
	return func(c *Chain) {
		c.hooks = append(c.hooks, hooks...)
	}
}

// WithEvaluator sets the evaluator of step conditions.
func WithEvaluator(evaluator ConditionEvaluator) Option {
	return func(c *Chain) {
		c.evaluator = evaluator
	}
}

// Steps returns the chain steps in declaration order.
func (c *Chain) Steps() []*Step {
	return c.steps
}

// Len returns the number of steps.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.steps)
}

func (c *Chain) preHooks(ctx context.Context, step *Step, phase definition.Phase) context.Context {
	for _, hook := range c.hooks {
		hookCtx, err := c.safePre(ctx, hook, step, phase)
		if err != nil {
			c.logger.Warnf("Pre hook failed for step '%s': %v.", step.id, err)
			continue
		}
		if hookCtx != nil {
			ctx = hookCtx
		}
	}
	return ctx
}

func (c *Chain) safePre(ctx context.Context, hook Hook, step *Step, phase definition.Phase) (hookCtx context.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			hookCtx, err = nil, fmt.Errorf("hook panicked: %v", r)
		}
	}()
	return hook.Pre(ctx, step.id, phase)
}

func (c *Chain) postHooks(ctx context.Context, step *Step, phase definition.Phase, stepErr error) {
	for _, hook := range c.hooks {
		if err := c.safePost(ctx, hook, step, phase, stepErr); err != nil {
			c.logger.Warnf("Post hook failed for step '%s': %v.", step.id, err)
		}
	}
}

func (c *Chain) safePost(ctx context.Context, hook Hook, step *Step, phase definition.Phase, stepErr error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panicked: %v", r)
		}
	}()
	return hook.Post(ctx, step.id, phase, stepErr)
}

// shouldRun evaluates the step condition.
func (c *Chain) shouldRun(ctx context.Context, step *Step, ec *ExecutionContext) (bool, error) {
	if step.condition == "" {
		return true, nil
	}
	if c.evaluator == nil {
		return false, fmt.Errorf("no evaluator for condition '%s'", step.condition)
	}
	return c.evaluator.EvalBool(ctx, step.condition, ec.Variables)
}

func (c *Chain) invoke(ctx context.Context, step *Step, phase definition.Phase, ec *ExecutionContext) (err error) {
	ctx = c.preHooks(ctx, step, phase)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("policy '%s' panicked: %v", step.policy.ID(), r)
		}
		c.postHooks(ctx, step, phase, err)
	}()

	if phase == definition.PhaseRequest {
		return step.request.OnRequest(ctx, ec)
	}
	return step.response.OnResponse(ctx, ec)
}

// ExecuteRequest runs the request phase of the steps, in order.
// The first failure aborts the chain and is returned as a *StepError.
func (c *Chain) ExecuteRequest(ctx context.Context, ec *ExecutionContext) error {
	if c == nil {
		return nil
	}

	for _, step := range c.steps {
		if !step.HandlesRequest() {
			continue
		}

		run, err := c.shouldRun(ctx, step, ec)
		if err != nil {
			return &StepError{StepID: step.id, Phase: definition.PhaseRequest, Err: err}
		}
		if !run {
			continue
		}

		if err := c.invoke(ctx, step, definition.PhaseRequest, ec); err != nil {
			return &StepError{StepID: step.id, Phase: definition.PhaseRequest, Err: err}
		}
	}
	return nil
}

// ExecuteResponse runs the response phase of the steps, in reverse order.
// Failures are logged and do not stop the remaining steps.
func (c *Chain) ExecuteResponse(ctx context.Context, ec *ExecutionContext) {
	if c == nil {
		return
	}

	for i := len(c.steps) - 1; i >= 0; i-- {
		step := c.steps[i]
		if !step.HandlesResponse() {
			continue
		}

		run, err := c.shouldRun(ctx, step, ec)
		if err != nil {
			c.logger.Errorf("Cannot evaluate condition of step '%s': %v.", step.id, err)
			continue
		}
		if !run {
			continue
		}

		if err := c.invoke(ctx, step, definition.PhaseResponse, ec); err != nil {
			c.logger.Errorf("Step '%s' failed in response phase: %v.", step.id, err)
		}
	}
}

// New returns a new chain of the given steps.
func New(steps []*Step, opts ...Option) *Chain {
	c := &Chain{
		steps:  steps,
		logger: logrus.WithField("component", "gateway.chain"),
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}
