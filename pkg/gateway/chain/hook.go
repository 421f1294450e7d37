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
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/definition"
)

// Hook wraps the execution of every step of a chain.
// Hook failures are logged and never change the step outcome.
type Hook interface {
	// Pre is called before the step, and may return a derived context.
	Pre(ctx context.Context, stepID string, phase definition.Phase) (context.Context, error)
	// Post is called after the step, with the step error.
	Post(ctx context.Context, stepID string, phase definition.Phase, stepErr error) error
}

type stepStartKey struct{}

// TracingHook logs the duration of each step.
type TracingHook struct {
	logger *logrus.Entry
}

// Pre records the step start time.
func (h *TracingHook) Pre(ctx context.Context, _ string, _ definition.Phase) (context.Context, error) {
	return context.WithValue(ctx, stepStartKey{}, time.Now()), nil
}

// Post logs the step duration.
func (h *TracingHook) Post(ctx context.Context, stepID string, phase definition.Phase, stepErr error) error {
	start, ok := ctx.Value(stepStartKey{}).(time.Time)
	if !ok {
		return nil
	}

	h.logger.WithFields(logrus.Fields{
		"step":     stepID,
		"phase":    phase,
		"duration": time.Since(start),
		"failed":   stepErr != nil,
	}).Debug("Step executed.")
	return nil
}

// NewTracingHook returns a new step tracing hook.
func NewTracingHook() *TracingHook {
	return &TracingHook{
		logger: logrus.WithField("component", "gateway.chain.tracing"),
	}
}
