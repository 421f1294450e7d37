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

// Package sharding decides which definitions a gateway node deploys, based on
// the sharding tags configured on the node and carried by each definition.
package sharding

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"k8s.io/apimachinery/pkg/util/sets"
)

const exclusionPrefix = "!"

// Tags is the set of sharding tags of a gateway node.
// The zero value (no tags) matches every definition.
type Tags struct {
	inclusions sets.Set[string]
	exclusions sets.Set[string]
}

// Normalize folds a tag for comparison: trimmed, lower-cased, accents removed.
func Normalize(tag string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.TrimSpace(tag))
	if err != nil {
		folded = strings.TrimSpace(tag)
	}
	return strings.ToLower(folded)
}

// Parse parses a comma-separated list of tags, such as "eu, !internal".
func Parse(raw string) (*Tags, error) {
	if strings.TrimSpace(raw) == "" {
		return NewTags(nil)
	}
	return NewTags(strings.Split(raw, ","))
}

// NewTags returns node tags from a list of tags, where tags prefixed with "!" are exclusions.
func NewTags(tags []string) (*Tags, error) {
	t := &Tags{
		inclusions: sets.New[string](),
		exclusions: sets.New[string](),
	}

	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if excluded, ok := strings.CutPrefix(tag, exclusionPrefix); ok {
			if tag = Normalize(excluded); tag != "" {
				t.exclusions.Insert(tag)
			}
			continue
		}

		if tag = Normalize(tag); tag != "" {
			t.inclusions.Insert(tag)
		}
	}

	if both := t.inclusions.Intersection(t.exclusions); both.Len() > 0 {
		return nil, fmt.Errorf("tags %v must not be both included and excluded", sets.List(both))
	}

	return t, nil
}

// Empty returns true if no tag is configured.
func (t *Tags) Empty() bool {
	return t == nil || (t.inclusions.Len() == 0 && t.exclusions.Len() == 0)
}

// Matches returns true if a definition carrying the given tags should be deployed.
func (t *Tags) Matches(tags []string) bool {
	if t.Empty() {
		return true
	}

	carried := sets.New[string]()
	for _, tag := range tags {
		carried.Insert(Normalize(tag))
	}

	if t.inclusions.HasAny(sets.List(carried)...) {
		return true
	}

	return t.exclusions.Len() > 0 && !t.exclusions.HasAny(sets.List(carried)...)
}

// String returns the tags in their configuration form.
func (t *Tags) String() string {
	if t.Empty() {
		return ""
	}

	tags := sets.List(t.inclusions)
	for _, tag := range sets.List(t.exclusions) {
		tags = append(tags, exclusionPrefix+tag)
	}
	return strings.Join(tags, ",")
}
