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

// Package health exposes the checks of a gateway node.
package health

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Status of a check.
type Status string

const (
	Healthy  Status = "healthy"
	NotReady Status = "not_ready"
)

// ErrUnknownCheck is returned when selecting a check which is not registered.
var ErrUnknownCheck = errors.New("unknown check")

// Result is the result of a check.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Healthy returns true for a healthy result.
func (r Result) Healthy() bool {
	return r.Status == Healthy
}

// Check checks a part of the node.
type Check interface {
	// ID of the check.
	ID() string
	// Check runs the check.
	Check(ctx context.Context) Result
	// VisibleByDefault returns true if the check runs when no check is selected.
	VisibleByDefault() bool
}

type readinessCheck struct {
	id      string
	visible bool
	ready   func() (bool, string)
}

func (c *readinessCheck) ID() string {
	return c.id
}

func (c *readinessCheck) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Result{Status: NotReady, Message: err.Error()}
	}

	if ok, message := c.ready(); !ok {
		return Result{Status: NotReady, Message: message}
	}
	return Result{Status: Healthy}
}

func (c *readinessCheck) VisibleByDefault() bool {
	return c.visible
}

// Ready is a component reporting its readiness.
type Ready interface {
	Ready() bool
}

// ApiSynchronization is a component reporting whether every deployed API is served.
type ApiSynchronization interface {
	AllSynchronized() bool
}

// NewApiSyncCheck returns the "api-sync" check, healthy once the APIs are
// synchronized and every deployed API is served.
func NewApiSyncCheck(synchronizer Ready, apis ApiSynchronization) Check {
	return &readinessCheck{
		id: "api-sync",
		ready: func() (bool, string) {
			switch {
			case !synchronizer.Ready():
				return false, "apis not synchronized"
			case !apis.AllSynchronized():
				return false, "apis not all deployed"
			}
			return true, ""
		},
	}
}

// NewSyncProcessCheck returns the "sync-process" check, healthy once every
// synchronizer completed a full pass.
func NewSyncProcessCheck(synchronizers Ready) Check {
	return &readinessCheck{
		id: "sync-process",
		ready: func() (bool, string) {
			if !synchronizers.Ready() {
				return false, "synchronization in progress"
			}
			return true, ""
		},
	}
}

// Checker runs a set of checks.
type Checker struct {
	checks []Check
}

// IDs returns the check ids.
func (c *Checker) IDs() []string {
	ids := make([]string, 0, len(c.checks))
	for _, check := range c.checks {
		ids = append(ids, check.ID())
	}
	return ids
}

func (c *Checker) find(id string) (Check, bool) {
	for _, check := range c.checks {
		if check.ID() == id {
			return check, true
		}
	}
	return nil, false
}

// Check the selected checks, or the visible ones if none is selected.
// It returns the results by check id, and whether all checks are healthy.
func (c *Checker) Check(ctx context.Context, ids ...string) (map[string]Result, bool, error) {
	var selected []Check
	if len(ids) == 0 {
		for _, check := range c.checks {
			if check.VisibleByDefault() {
				selected = append(selected, check)
			}
		}
	} else {
		for _, id := range ids {
			check, ok := c.find(id)
			if !ok {
				return nil, false, fmt.Errorf("'%s': %w", id, ErrUnknownCheck)
			}
			selected = append(selected, check)
		}
	}

	results := make(map[string]Result, len(selected))
	healthy := true
	for _, check := range selected {
		result := check.Check(ctx)
		results[check.ID()] = result
		healthy = healthy && result.Healthy()
	}
	return results, healthy, nil
}

// ParseChecks parses a comma-separated list of check ids.
func ParseChecks(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// NewChecker returns a new checker of the given checks.
func NewChecker(checks ...Check) *Checker {
	return &Checker{checks: checks}
}
