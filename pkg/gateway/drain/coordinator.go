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

// Package drain coordinates graceful connection shedding during node shutdown or rollout.
package drain

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// NotRequested is the drain timestamp before any drain request.
const NotRequested int64 = -1

// Listener is notified with the drain timestamp, in unix milliseconds.
type Listener func(drainRequestedAt int64)

// Coordinator holds the process-wide drain state.
// Listeners are invoked synchronously by RequestDrain and must not block.
type Coordinator struct {
	requestedAt atomic.Int64
	clock       clock.PassiveClock

	lock      sync.Mutex
	listeners map[string]Listener
	closed    bool

	logger *logrus.Entry
}

// DrainRequestedAt returns the drain timestamp in unix milliseconds, or NotRequested.
func (c *Coordinator) DrainRequestedAt() int64 {
	return c.requestedAt.Load()
}

// Draining returns true once a drain was requested.
func (c *Coordinator) Draining() bool {
	return c.DrainRequestedAt() != NotRequested
}

// RequestDrain records the drain timestamp and notifies the registered listeners.
// The first call sets the timestamp; later calls keep it and notify again.
func (c *Coordinator) RequestDrain() int64 {
	now := c.clock.Now().UnixMilli()
	if c.requestedAt.CompareAndSwap(NotRequested, now) {
		c.logger.Infof("Drain requested at %d.", now)
	}
	requestedAt := c.requestedAt.Load()

	c.lock.Lock()
	listeners := make([]Listener, 0, len(c.listeners))
	for _, listener := range c.listeners {
		listeners = append(listeners, listener)
	}
	c.lock.Unlock()

	c.logger.Debugf("Notifying %d drain listeners.", len(listeners))
	for _, listener := range listeners {
		listener(requestedAt)
	}

	return requestedAt
}

// Register a drain listener and returns its id.
// Registrations after Close are ignored.
func (c *Coordinator) Register(listener Listener) string {
	id := uuid.NewString()

	c.lock.Lock()
	defer c.lock.Unlock()

	if !c.closed {
		c.listeners[id] = listener
	}
	return id
}

// Unregister a drain listener.
func (c *Coordinator) Unregister(id string) {
	c.lock.Lock()
	defer c.lock.Unlock()

	delete(c.listeners, id)
}

// Close clears the listeners. No notification is delivered afterwards.
func (c *Coordinator) Close() {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.closed = true
	c.listeners = make(map[string]Listener)
}

// NewCoordinator returns a new idle drain coordinator.
func NewCoordinator(clk clock.PassiveClock) *Coordinator {
	c := &Coordinator{
		clock:     clk,
		listeners: make(map[string]Listener),
		logger:    logrus.WithField("component", "gateway.drain"),
	}
	c.requestedAt.Store(NotRequested)
	return c
}
