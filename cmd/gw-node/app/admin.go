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

package app

import (
	"encoding/json"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/definition"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/gateway"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/gateway/drain"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/registry"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/util/rest"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/versioninfo"
)

const (
	// NodePath describes the node.
	NodePath = "/_node"
	// NodeApisPath lists the APIs deployed on the node.
	NodeApisPath = "/_node/apis"
	// NodeOrganizationsPath lists the organizations deployed on the node.
	NodeOrganizationsPath = "/_node/organizations"
	// NodeSharedPolicyGroupsPath lists the shared policy groups deployed on the node.
	NodeSharedPolicyGroupsPath = "/_node/sharedpolicygroups"
	// NodeDictionariesPath lists the dictionaries deployed on the node.
	NodeDictionariesPath = "/_node/dictionaries"
)

// nodeInfo is the admin view of the node.
type nodeInfo struct {
	Build        versioninfo.Info `json:"build"`
	Tenant       string           `json:"tenant,omitempty"`
	ShardingTags string           `json:"shardingTags,omitempty"`
	Environments []string         `json:"environments,omitempty"`
	Draining     bool             `json:"draining"`
}

// summary is the admin view of a deployed definition.
// Definition contents may hold decrypted secrets and are not exposed.
type summary struct {
	ID         string    `json:"id"`
	DeployedAt time.Time `json:"deployedAt"`
}

// apiSummary is the admin view of a deployed API.
type apiSummary struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	ApiVersion     string             `json:"apiVersion,omitempty"`
	Type           definition.ApiType `json:"type,omitempty"`
	ContextPaths   []string           `json:"contextPaths"`
	OrganizationID string             `json:"organizationId,omitempty"`
	EnvironmentID  string             `json:"environmentId,omitempty"`
	DeployedAt     time.Time          `json:"deployedAt"`
	// Served is false while the API handler is not compiled from the deployed revision.
	Served bool `json:"served"`
}

func summarize[T definition.Definition](def T) any {
	return &summary{ID: def.GetID(), DeployedAt: def.GetDeployedAt()}
}

func summarizeApi(reactor *gateway.Reactor) func(api *definition.Api) any {
	return func(api *definition.Api) any {
		return &apiSummary{
			ID:             api.ID,
			Name:           api.Name,
			ApiVersion:     api.ApiVersion,
			Type:           api.Type,
			ContextPaths:   api.ContextPaths,
			OrganizationID: api.OrganizationID,
			EnvironmentID:  api.EnvironmentID,
			DeployedAt:     api.DeployedAt,
			Served:         reactor.Served(api),
		}
	}
}

// deployedObjects exposes the definitions of a registry to the admin server.
type deployedObjects[T definition.Definition] struct {
	registry  *registry.Registry[T]
	summarize func(def T) any
}

// Get the summary of a deployed definition.
func (h *deployedObjects[T]) Get(id string) (any, bool) {
	def, ok := h.registry.Get(id)
	if !ok {
		return nil, false
	}
	return h.summarize(def), true
}

// List the summaries of the deployed definitions, ordered by id.
func (h *deployedObjects[T]) List() any {
	defs := h.registry.All()
	summaries := make([]any, 0, len(defs))
	for _, def := range defs {
		summaries = append(summaries, h.summarize(def))
	}
	return summaries
}

// addNodeHandlers registers the read-only views of the deployed definitions.
func addNodeHandlers(server *rest.Server, registries *registry.Registries, reactor *gateway.Reactor) {
	server.AddObjectHandlers(&rest.ServerObjectSpec{
		BasePath: NodeApisPath,
		Handler:  &deployedObjects[*definition.Api]{registries.Apis, summarizeApi(reactor)},
	})
	server.AddObjectHandlers(&rest.ServerObjectSpec{
		BasePath: NodeOrganizationsPath,
		Handler:  &deployedObjects[*definition.Organization]{registries.Organizations, summarize[*definition.Organization]},
	})
	server.AddObjectHandlers(&rest.ServerObjectSpec{
		BasePath: NodeSharedPolicyGroupsPath,
		Handler: &deployedObjects[*definition.SharedPolicyGroup]{
			registries.SharedPolicyGroups, summarize[*definition.SharedPolicyGroup]},
	})
	server.AddObjectHandlers(&rest.ServerObjectSpec{
		BasePath: NodeDictionariesPath,
		Handler:  &deployedObjects[*definition.Dictionary]{registries.Dictionaries, summarize[*definition.Dictionary]},
	})
}

// addNodeInfoHandler registers the node description.
func addNodeInfoHandler(server *rest.Server, o *Options, build versioninfo.Info, coordinator *drain.Coordinator) {
	server.Router().Get(NodePath, func(w http.ResponseWriter, _ *http.Request) {
		info := &nodeInfo{
			Build:        build,
			Tenant:       o.Tenant,
			ShardingTags: o.ShardingTags,
			Environments: o.Environments,
			Draining:     coordinator.Draining(),
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(info); err != nil {
			log.Errorf("Cannot encode node information: %v.", err)
		}
	})
}
