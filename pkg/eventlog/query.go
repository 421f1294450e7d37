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
	"errors"
	"slices"
	"time"
)

// ErrClosed is returned by a closed repository.
var ErrClosed = errors.New("event log closed")

// Query selects a page of events.
type Query struct {
	// Type of the events, required.
	Type EventType
	// Actions to keep, all if empty.
	Actions []SyncAction
	// Environments to keep, all if empty. Events without environments are always kept.
	Environments []string
	// After excludes events at or before the cursor.
	After *Cursor
	// Until excludes events created after it, unbounded if zero.
	Until time.Time
	// Latest keeps only the newest event of each entity, before actions are filtered.
	Latest bool
	// Offset and Limit select the page. A zero limit returns every event.
	Offset int
	Limit  int
}

// Repository is the read contract of the event log.
type Repository interface {
	// FetchPage returns the events matching the query, ordered by (CreatedAt, ID).
	FetchPage(ctx context.Context, q Query) ([]DistributedEvent, error)
}

// Writer appends events to the event log.
type Writer interface {
	Append(ctx context.Context, events ...DistributedEvent) error
}

// Inside returns true if the event position is within the query time window.
func (q *Query) Inside(event *DistributedEvent) bool {
	if q.After != nil && event.Cursor().Compare(*q.After) <= 0 {
		return false
	}
	return q.Until.IsZero() || !event.CreatedAt.After(q.Until)
}

// MatchesEnvironments returns true if an event of the given environments is kept.
func (q *Query) MatchesEnvironments(environments []string) bool {
	if len(q.Environments) == 0 || len(environments) == 0 {
		return true
	}
	for _, env := range environments {
		if slices.Contains(q.Environments, env) {
			return true
		}
	}
	return false
}

// Select applies the query to a set of candidate events, in any order.
// The candidates are not modified.
func Select(candidates []DistributedEvent, q *Query) []DistributedEvent {
	events := make([]DistributedEvent, 0, len(candidates))
	for i := range candidates {
		event := &candidates[i]
		if event.Type == q.Type && q.Inside(event) && q.MatchesEnvironments(event.Environments) {
			events = append(events, *event)
		}
	}

	slices.SortFunc(events, func(a, b DistributedEvent) int {
		return a.Cursor().Compare(b.Cursor())
	})

	if q.Latest {
		latest := make(map[string]int, len(events))
		for i := range events {
			latest[events[i].EntityID] = i
		}

		kept := events[:0]
		for i := range events {
			if latest[events[i].EntityID] == i {
				kept = append(kept, events[i])
			}
		}
		events = kept
	}

	if len(q.Actions) > 0 {
		events = slices.DeleteFunc(events, func(e DistributedEvent) bool {
			return !slices.Contains(q.Actions, e.SyncAction)
		})
	}

	if q.Offset >= len(events) {
		return []DistributedEvent{}
	}
	events = events[q.Offset:]
	if q.Limit > 0 && q.Limit < len(events) {
		events = events[:q.Limit]
	}

	return events
}
