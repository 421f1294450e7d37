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


package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/eventlog"
)

const (
	rootBucket = "eventlog"

	entriesBucket  = "entries"
	payloadsBucket = "payloads"
	entitiesBucket = "entities"
	latestBucket   = "latest"

	timestampSize = 8

	// openTimeout bounds the wait for the file lock held by another process.
	openTimeout = time.Second
)

// Repository implements an event log backed by Bolt.
//
// Events are stored in a bucket per event type, holding:
//   - entries: the events without their payload, by event key
//   - payloads: the event payloads, by event key
//   - entities: the event keys of each entity, prefixed by the entity id
//   - latest: the key of the newest event of each entity
//
// Event keys are the big-endian creation time in nanoseconds followed by the
// event id, so that the bucket order is the event log order. Payloads are only
// read for the events of the returned page.
type Repository struct {
	db *bbolt.DB

	logger *logrus.Entry
}

// entry is an event without its payload.
type entry struct {
	ID           string              `json:"id"`
	SyncAction   eventlog.SyncAction `json:"syncAction"`
	EntityID     string              `json:"entityId"`
	Environments []string            `json:"environments,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
}

type candidate struct {
	key   []byte
	entry entry
}

func eventKey(c eventlog.Cursor) []byte {
	key := make([]byte, timestampSize, timestampSize+len(c.ID))
	binary.BigEndian.PutUint64(key, uint64(c.CreatedAt.UnixNano()))
	return append(key, c.ID...)
}

// untilBound returns the smallest key of the events created after t.
func untilBound(t time.Time) []byte {
	key := make([]byte, timestampSize)
	binary.BigEndian.PutUint64(key, uint64(t.UnixNano())+1)
	return key
}

func entityKey(entityID string, key []byte) []byte {
	k := make([]byte, 0, len(entityID)+1+len(key))
	k = append(k, entityID...)
	k = append(k, 0)
	return append(k, key...)
}

// buckets are the buckets of an event type.
type buckets struct {
	entries  *bbolt.Bucket
	payloads *bbolt.Bucket
	entities *bbolt.Bucket
	latest   *bbolt.Bucket

	logger *logrus.Entry
}

func (r *Repository) createBuckets(tx *bbolt.Tx, eventType eventlog.EventType) (*buckets, error) {
	parent, err := tx.Bucket([]byte(rootBucket)).CreateBucketIfNotExists([]byte(eventType))
	if err != nil {
		return nil, err
	}

	b := &buckets{logger: r.logger}
	for name, bucket := range map[string]**bbolt.Bucket{
		entriesBucket:  &b.entries,
		payloadsBucket: &b.payloads,
		entitiesBucket: &b.entities,
		latestBucket:   &b.latest,
	} {
		if *bucket, err = parent.CreateBucketIfNotExists([]byte(name)); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// openBuckets returns nil if no event of the type was ever appended.
func (r *Repository) openBuckets(tx *bbolt.Tx, eventType eventlog.EventType) *buckets {
	parent := tx.Bucket([]byte(rootBucket)).Bucket([]byte(eventType))
	if parent == nil {
		return nil
	}

	return &buckets{
		entries:  parent.Bucket([]byte(entriesBucket)),
		payloads: parent.Bucket([]byte(payloadsBucket)),
		entities: parent.Bucket([]byte(entitiesBucket)),
		latest:   parent.Bucket([]byte(latestBucket)),
		logger:   r.logger,
	}
}

func (b *buckets) entry(key []byte) (entry, bool) {
	var e entry
	value := b.entries.Get(key)
	if value == nil {
		return e, false
	}

	if err := json.Unmarshal(value, &e); err != nil {
		b.logger.Warnf("Skipping undecodable event at key %x: %v.", key, err)
		return e, false
	}
	return e, true
}

func (b *buckets) put(event *eventlog.DistributedEvent) error {
	key := eventKey(event.Cursor())

	// a replaced event may have belonged to another entity
	if previous, ok := b.entry(key); ok && previous.EntityID != event.EntityID {
		if err := b.entities.Delete(entityKey(previous.EntityID, key)); err != nil {
			return err
		}
		if err := b.refreshLatest(previous.EntityID); err != nil {
			return err
		}
	}

	value, err := json.Marshal(&entry{
		ID:           event.ID,
		SyncAction:   event.SyncAction,
		EntityID:     event.EntityID,
		Environments: event.Environments,
		CreatedAt:    event.CreatedAt,
	})
	if err != nil {
		return err
	}

	if err := b.entries.Put(key, value); err != nil {
		return err
	}
	if len(event.Payload) > 0 {
		err = b.payloads.Put(key, event.Payload)
	} else {
		err = b.payloads.Delete(key)
	}
	if err != nil {
		return err
	}
	if err := b.entities.Put(entityKey(event.EntityID, key), []byte{}); err != nil {
		return err
	}
	return b.refreshLatest(event.EntityID)
}

// refreshLatest points the latest index of an entity to its newest event.
func (b *buckets) refreshLatest(entityID string) error {
	key := b.newest(entityID, nil, nil)
	if key == nil {
		return b.latest.Delete([]byte(entityID))
	}
	return b.latest.Put([]byte(entityID), key)
}

// newest returns the key of the newest event of an entity before the bound,
// accepted by the filter. A nil bound is the end of the log, a nil filter accepts any event.
func (b *buckets) newest(entityID string, bound []byte, accept func(key []byte) bool) []byte {
	prefix := entityKey(entityID, nil)
	c := b.entities.Cursor()

	var k []byte
	if bound == nil {
		k, _ = c.Seek(append([]byte(entityID), 1))
	} else {
		k, _ = c.Seek(entityKey(entityID, bound))
	}
	if k == nil {
		k, _ = c.Last()
	} else {
		k, _ = c.Prev()
	}

	for ; k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Prev() {
		key := k[len(prefix):]
		if accept == nil || accept(key) {
			return bytes.Clone(key)
		}
	}
	return nil
}

// latestCandidates returns the newest event of every entity within the query,
// walking the latest index rather than the log.
func (b *buckets) latestCandidates(ctx context.Context, q *eventlog.Query) ([]candidate, error) {
	var bound []byte
	if !q.Until.IsZero() {
		bound = untilBound(q.Until)
	}

	var candidates []candidate
	err := b.latest.ForEach(func(entityID, key []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		var e entry
		accept := func(k []byte) bool {
			var ok bool
			e, ok = b.entry(k)
			return ok && q.MatchesEnvironments(e.Environments)
		}

		// the latest event, unless created after the window or in other environments
		found := key
		if (bound != nil && bytes.Compare(key, bound) >= 0) || !accept(key) {
			if found = b.newest(string(entityID), bound, accept); found == nil {
				return nil
			}
		}

		candidates = append(candidates, candidate{key: bytes.Clone(found), entry: e})
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(candidates, func(a, b candidate) int {
		return bytes.Compare(a.key, b.key)
	})
	return candidates, nil
}

// windowCandidates returns the events within the query, scanning the log from the cursor.
func (b *buckets) windowCandidates(ctx context.Context, q *eventlog.Query) ([]candidate, error) {
	var after, bound []byte
	if q.After != nil {
		after = eventKey(*q.After)
	}
	if !q.Until.IsZero() {
		bound = untilBound(q.Until)
	}

	var (
		candidates []candidate
		kept       int
	)
	c := b.entries.Cursor()
	k, _ := c.First()
	if after != nil {
		k, _ = c.Seek(after)
	}

	for ; k != nil; k, _ = c.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if after != nil && bytes.Equal(k, after) {
			continue
		}
		if bound != nil && bytes.Compare(k, bound) >= 0 {
			break
		}

		e, ok := b.entry(k)
		if !ok || !q.MatchesEnvironments(e.Environments) {
			continue
		}
		candidates = append(candidates, candidate{key: bytes.Clone(k), entry: e})

		// without latest filtering, the scan ends with the page
		if !q.Latest && q.Limit > 0 {
			if len(q.Actions) == 0 || slices.Contains(q.Actions, e.SyncAction) {
				kept++
			}
			if kept >= q.Offset+q.Limit {
				break
			}
		}
	}

	if q.Latest {
		latest := make(map[string]int, len(candidates))
		for i := range candidates {
			latest[candidates[i].entry.EntityID] = i
		}

		newest := candidates[:0]
		for i := range candidates {
			if latest[candidates[i].entry.EntityID] == i {
				newest = append(newest, candidates[i])
			}
		}
		candidates = newest
	}

	return candidates, nil
}

// page applies the action filter and the page bounds, and reads the payloads of the page.
func (b *buckets) page(candidates []candidate, q *eventlog.Query) []eventlog.DistributedEvent {
	if len(q.Actions) > 0 {
		candidates = slices.DeleteFunc(candidates, func(c candidate) bool {
			return !slices.Contains(q.Actions, c.entry.SyncAction)
		})
	}

	if q.Offset >= len(candidates) {
		return []eventlog.DistributedEvent{}
	}
	candidates = candidates[q.Offset:]
	if q.Limit > 0 && q.Limit < len(candidates) {
		candidates = candidates[:q.Limit]
	}

	events := make([]eventlog.DistributedEvent, 0, len(candidates))
	for _, c := range candidates {
		events = append(events, eventlog.DistributedEvent{
			ID:           c.entry.ID,
			Type:         q.Type,
			SyncAction:   c.entry.SyncAction,
			EntityID:     c.entry.EntityID,
			Environments: c.entry.Environments,
			Payload:      bytes.Clone(b.payloads.Get(c.key)),
			CreatedAt:    c.entry.CreatedAt,
		})
	}
	return events
}

// Append events to the log. Appending an existing event replaces it.
func (r *Repository) Append(_ context.Context, events ...eventlog.DistributedEvent) error {
	r.logger.Debugf("Appending %d events.", len(events))

	return r.db.Update(func(tx *bbolt.Tx) error {
		for i := range events {
			b, err := r.createBuckets(tx, events[i].Type)
			if err != nil {
				return err
			}

			if err := b.put(&events[i]); err != nil {
				return fmt.Errorf("cannot append event '%s': %w", events[i].ID, err)
			}
		}
		return nil
	})
}

// FetchPage returns the events matching the query.
func (r *Repository) FetchPage(ctx context.Context, q eventlog.Query) ([]eventlog.DistributedEvent, error) {
	r.logger.Debugf("Fetching %s events (offset: %d, limit: %d).", q.Type, q.Offset, q.Limit)

	events := []eventlog.DistributedEvent{}
	err := r.db.View(func(tx *bbolt.Tx) error {
		b := r.openBuckets(tx, q.Type)
		if b == nil {
			return nil
		}

		var (
			candidates []candidate
			err        error
		)
		if q.Latest && q.After == nil {
			candidates, err = b.latestCandidates(ctx, &q)
		} else {
			candidates, err = b.windowCandidates(ctx, &q)
		}
		if err != nil {
			return err
		}

		events = b.page(candidates, &q)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return events, nil
}

// Close frees the database file.
func (r *Repository) Close() error {
	r.logger.Info("Closing event log.")
	return r.db.Close()
}

// Open a bolt event log.
func Open(path string) (*Repository, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("unable to open event log: %w", err)
	}

	// create the root bucket (if does not exist), type buckets are created on append
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(rootBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to create bucket: %w", err)
	}

	return &Repository{
		db:     db,
		logger: logrus.WithField("component", "eventlog.bolt"),
	}, nil
}
