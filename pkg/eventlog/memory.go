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

package eventlog

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// MemoryRepository is an in-memory event log.
type MemoryRepository struct {
	lock   sync.RWMutex
	events []DistributedEvent
	closed bool

	logger *logrus.Entry
}

// Append events to the log.
func (r *MemoryRepository) Append(_ context.Context, events ...DistributedEvent) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.closed {
		return ErrClosed
	}

	r.logger.Debugf("Appending %d events.", len(events))
	r.events = append(r.events, events...)
	return nil
}

// FetchPage returns the events matching the query.
func (r *MemoryRepository) FetchPage(ctx context.Context, q Query) ([]DistributedEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.lock.RLock()
	defer r.lock.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}

	return Select(r.events, &q), nil
}

// Len returns the number of events in the log.
func (r *MemoryRepository) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.events)
}

// Close the repository.
func (r *MemoryRepository) Close() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.closed = true
	r.events = nil
	return nil
}

// NewMemoryRepository returns a new empty in-memory event log.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		logger: logrus.WithField("component", "eventlog.memory"),
	}
}
