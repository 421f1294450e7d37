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

package endpoint

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/definition"
)

const (
	defaultHealthCheckInterval = 5 * time.Second
	defaultSuccessThreshold    = 1
	defaultFailureThreshold    = 3
)

type checkState struct {
	successes int
	failures  int
}

// HealthChecker actively checks the primary endpoints of a pool and
// flips their availability after consecutive successes or failures.
type HealthChecker struct {
	pool             *Pool
	path             string
	interval         time.Duration
	successThreshold int
	failureThreshold int

	client *http.Client
	clock  clock.WithTicker

	lock   sync.Mutex
	states map[*Endpoint]*checkState

	stopCh   chan struct{}
	stopOnce sync.Once

	logger *logrus.Entry
}

// Name of the health checker.
func (c *HealthChecker) Name() string {
	return "health-checker-" + c.pool.Name()
}

func (c *HealthChecker) check(ctx context.Context, e *Endpoint) error {
	ctx, cancel := context.WithTimeout(ctx, c.interval)
	defer cancel()

	target := e.Target().JoinPath(c.path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("unhealthy status %d", resp.StatusCode)
	}
	return nil
}

func (c *HealthChecker) state(e *Endpoint) *checkState {
	c.lock.Lock()
	defer c.lock.Unlock()

	state, ok := c.states[e]
	if !ok {
		state = &checkState{}
		c.states[e] = state
	}
	return state
}

// CheckOnce checks every primary endpoint of the pool once, concurrently.
func (c *HealthChecker) CheckOnce(ctx context.Context) {
	var g errgroup.Group
	for _, e := range c.pool.Endpoints() {
		if e.Backup() {
			continue
		}

		state := c.state(e)
		g.Go(func() error {
			err := c.check(ctx, e)
			if err == nil {
				state.failures = 0
				state.successes++
				if !e.Available() && state.successes >= c.successThreshold {
					e.SetAvailable(true)
				}
				return nil
			}

			c.logger.Debugf("Endpoint '%s' check failed: %v.", e.Name(), err)
			state.successes = 0
			state.failures++
			if e.Available() && state.failures >= c.failureThreshold {
				c.logger.Warnf("Endpoint '%s' is unhealthy: %v.", e.Name(), err)
				e.SetAvailable(false)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Start checking endpoints until stopped.
func (c *HealthChecker) Start() error {
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-c.stopCh
		cancel()
	}()

	for {
		select {
		case <-c.stopCh:
			return nil
		case <-ticker.C():
			c.CheckOnce(ctx)
		}
	}
}

// Stop the health checker.
func (c *HealthChecker) Stop() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	return nil
}

// GracefulStop does a graceful stop of the health checker.
func (c *HealthChecker) GracefulStop() error {
	return c.Stop()
}

// NewHealthChecker returns a new health checker of the pool endpoints.
func NewHealthChecker(pool *Pool, config *definition.HealthCheck, client *http.Client, clk clock.WithTicker) *HealthChecker {
	c := &HealthChecker{
		pool:             pool,
		path:             config.Path,
		interval:         time.Duration(config.IntervalMillis) * time.Millisecond,
		successThreshold: config.SuccessThreshold,
		failureThreshold: config.FailureThreshold,
		client:           client,
		clock:            clk,
		states:           make(map[*Endpoint]*checkState),
		stopCh:           make(chan struct{}),
		logger:           logrus.WithFields(logrus.Fields{"component": "gateway.endpoint.health", "pool": pool.Name()}),
	}

	if c.path == "" {
		c.path = "/"
	}
	if c.interval <= 0 {
		c.interval = defaultHealthCheckInterval
	}
	if c.successThreshold <= 0 {
		c.successThreshold = defaultSuccessThreshold
	}
	if c.failureThreshold <= 0 {
		c.failureThreshold = defaultFailureThreshold
	}
	if c.client == nil {
		c.client = http.DefaultClient
	}
	return c
}
