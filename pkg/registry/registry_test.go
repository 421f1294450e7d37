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

package registry_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/definition"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/registry"
)

func TestRegistry(t *testing.T) {
	r := registry.NewRegistries().Apis

	var changes []registry.Change[*definition.Api]
	listenerID := r.AddListener(func(change registry.Change[*definition.Api]) {
		changes = append(changes, change)
	})

	api1 := &definition.Api{ID: "api1", Name: "v1"}
	require.Nil(t, r.Deploy(api1))
	require.ErrorIs(t, r.Deploy(api1), registry.ErrExists)
	require.ErrorIs(t, r.Update(&definition.Api{ID: "missing"}), registry.ErrNotFound)

	api1v2 := &definition.Api{ID: "api1", Name: "v2"}
	require.Nil(t, r.Update(api1v2))
	require.Nil(t, r.Deploy(&definition.Api{ID: "api0"}))

	got, ok := r.Get("api1")
	require.True(t, ok)
	require.Equal(t, "v2", got.Name)

	all := r.All()
	require.Len(t, all, 2)
	require.Equal(t, "api0", all[0].ID)
	require.Equal(t, 2, r.Len())

	previous, ok := r.Undeploy("api1")
	require.True(t, ok)
	require.Equal(t, api1v2, previous)
	_, ok = r.Undeploy("api1")
	require.False(t, ok)

	require.Len(t, changes, 4)
	require.Equal(t, registry.Deployed, changes[0].Kind)
	require.Equal(t, registry.Updated, changes[1].Kind)
	require.Equal(t, api1, changes[1].Previous)
	require.Equal(t, api1v2, changes[1].Current)
	require.Equal(t, registry.Undeployed, changes[3].Kind)
	require.Equal(t, api1v2, changes[3].Previous)

	r.RemoveListener(listenerID)
	require.Nil(t, r.Deploy(api1))
	require.Len(t, changes, 4)
}
