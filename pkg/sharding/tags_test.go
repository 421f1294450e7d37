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

package sharding_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/sharding"
)

func TestNormalize(t *testing.T) {
	require.Equal(t, "europe", sharding.Normalize(" Éurope "))
	require.Equal(t, "internal", sharding.Normalize("INTERNAL"))
}

func TestParseConflict(t *testing.T) {
	_, err := sharding.Parse("eu, !EU")
	require.NotNil(t, err)
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name    string
		node    string
		def     []string
		matches bool
	}{
		{name: "no node tags", node: "", def: []string{"eu"}, matches: true},
		{name: "no node tags untagged", node: "", def: nil, matches: true},
		{name: "inclusion match", node: "eu,us", def: []string{"US"}, matches: true},
		{name: "accent insensitive", node: "ÉU", def: []string{"eu"}, matches: true},
		{name: "inclusion miss", node: "eu", def: []string{"us"}, matches: false},
		{name: "untagged with inclusions", node: "eu", def: nil, matches: false},
		{name: "exclusion hit", node: "!internal", def: []string{"internal"}, matches: false},
		{name: "exclusion miss", node: "!internal", def: []string{"public"}, matches: true},
		{name: "untagged with exclusions", node: "!internal", def: nil, matches: true},
		{name: "inclusion wins over exclusion", node: "eu, !internal", def: []string{"eu", "internal"}, matches: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tags, err := sharding.Parse(tt.node)
			require.Nil(t, err)
			require.Equal(t, tt.matches, tags.Matches(tt.def))
		})
	}
}

func TestString(t *testing.T) {
	tags, err := sharding.Parse("b, a ,!c")
	require.Nil(t, err)
	require.Equal(t, "a,b,!c", tags.String())

	var empty *sharding.Tags
	require.True(t, empty.Empty())
	require.True(t, empty.Matches([]string{"x"}))
}
