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
	"encoding/json"
	"strings"
	"time"
)

// EventType is the kind of entity an event refers to.
type EventType string

const (
	TypeApi               EventType = "API"
	TypeOrganization      EventType = "ORGANIZATION"
	TypeSharedPolicyGroup EventType = "SHARED_POLICY_GROUP"
	TypeDictionary        EventType = "DICTIONARY"
)

// SyncAction is the action an event requests from gateway nodes.
type SyncAction string

const (
	ActionDeploy   SyncAction = "DEPLOY"
	ActionUndeploy SyncAction = "UNDEPLOY"
)

// DistributedEvent is a single entry of the central event log.
type DistributedEvent struct {
	ID           string          `json:"id"`
	Type         EventType       `json:"type"`
	SyncAction   SyncAction      `json:"syncAction"`
	EntityID     string          `json:"entityId"`
	Environments []string        `json:"environments,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Cursor returns the position of the event in the log.
func (e *DistributedEvent) Cursor() Cursor {
	return Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
}

// Cursor is a position in the event log. Events are totally ordered by (CreatedAt, ID).
type Cursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

// Compare returns -1, 0 or 1 if c is before, equal to or after other.
func (c Cursor) Compare(other Cursor) int {
	if cmp := c.CreatedAt.Compare(other.CreatedAt); cmp != 0 {
		return cmp
	}
	return strings.Compare(c.ID, other.ID)
}

// IsZero returns true for the cursor before every event.
func (c Cursor) IsZero() bool {
	return c.CreatedAt.IsZero() && c.ID == ""
}

// Max returns the later of two cursors.
func Max(a, b Cursor) Cursor {
	if a.Compare(b) >= 0 {
		return a
	}
	return b
}
