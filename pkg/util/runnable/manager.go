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

package runnable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Instance represents a runnable instance.
type Instance interface {
	Name() string
	Start() error
	Stop() error
	GracefulStop() error
}

// Server represents a runnable server.
type Server interface {
	Instance
	Listen(address string) error
	Close() error
}

// Manager manages a set of runnables.
type Manager struct {
	runnables     []Instance
	servers       []Server
	serverAddress map[Server]string

	logger *logrus.Entry
}

// AddServer adds a new server.
func (c *Manager) AddServer(listenAddress string, server Server) {
	c.Add(server)
	c.servers = append(c.servers, server)
	c.serverAddress[server] = listenAddress
}

// Add a new runnable.
func (c *Manager) Add(runnable Instance) {
	c.runnables = append(c.runnables, runnable)
}

// Listen creates the listeners of all servers, in registration order.
func (c *Manager) Listen() error {
	for _, server := range c.servers {
		listenAddress := c.serverAddress[server]
		if err := server.Listen(listenAddress); err != nil {
			return fmt.Errorf("unable to create listener for server '%s' on %s: %w",
				server.Name(), listenAddress, err)
		}
	}
	return nil
}

// Run starts all runnables and waits for them to stop.
// If one runnable fails, all others are stopped.
func (c *Manager) Run() error {
	defer func() {
		for _, server := range c.servers {
			if err := server.Close(); err != nil {
				c.logger.Warnf("Error closing server '%s': %v.", server.Name(), err)
			}
		}
	}()

	if err := c.Listen(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(context.Background())
	errs := make([]error, len(c.runnables))
	for i, runnable := range c.runnables {
		g.Go(func() error {
			c.logger.Infof("Starting runnable '%s'.", runnable.Name())
			err := runnable.Start()
			c.logger.Infof("Runnable '%s' stopped: %v.", runnable.Name(), err)

			if err != nil {
				errs[i] = fmt.Errorf("error running '%s': %w", runnable.Name(), err)
			}
			return errs[i]
		})
	}

	// the group context is cancelled with the first error, or with
	// context.Canceled once all runnables returned
	go func() {
		<-ctx.Done()
		if errors.Is(context.Cause(ctx), context.Canceled) {
			return
		}

		if err := c.Stop(); err != nil {
			c.logger.Warnf("Error stopping: %v.", err)
		} else {
			c.logger.Info("Asked all runnables to stop.")
		}
	}()

	_ = g.Wait()
	return errors.Join(errs...)
}

// Stop all runnables, in reverse registration order.
func (c *Manager) Stop() error {
	c.logger.Info("Stopping.")

	var errs []error
	for i := len(c.runnables) - 1; i >= 0; i-- {
		runnable := c.runnables[i]
		if err := runnable.Stop(); err != nil {
			errs = append(errs, fmt.Errorf(
				"unable to stop '%s': %w", runnable.Name(), err))
		}
	}

	return errors.Join(errs...)
}

// GracefulStop gracefully stops all runnables, in reverse registration order.
func (c *Manager) GracefulStop() error {
	c.logger.Info("Gracefully stopping.")

	var errs []error
	for i := len(c.runnables) - 1; i >= 0; i-- {
		runnable := c.runnables[i]
		if err := runnable.GracefulStop(); err != nil {
			errs = append(errs, fmt.Errorf(
				"unable to gracefully stop '%s': %w", runnable.Name(), err))
		}
	}

	return errors.Join(errs...)
}

// GracefulStopWithin gracefully stops all runnables, and stops them
// immediately if the graceful stop did not complete within timeout.
func (c *Manager) GracefulStopWithin(timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- c.GracefulStop()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		c.logger.Warnf("Graceful stop did not complete within %v, stopping.", timeout)
		return c.Stop()
	}
}

// NewManager returns a new empty runnable manager.
func NewManager() *Manager {
	return &Manager{
		serverAddress: make(map[Server]string),
		logger:        logrus.WithField("component", "util.runnable"),
	}
}
