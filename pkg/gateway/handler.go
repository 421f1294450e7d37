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

package gateway

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/clock"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/definition"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/gateway/chain"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/gateway/endpoint"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/gateway/policy"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/metrics"
)

// apiHandler is the compiled form of a deployed API.
type apiHandler struct {
	api          *definition.Api
	org          *definition.Organization
	contextPaths []string

	// plans serving anonymous consumers
	plans []*definition.Plan
	// protected is set when the API only has plans requiring credentials
	protected bool

	steps      map[*definition.Flow][]*chain.Step
	groups     sets.Set[string]
	properties map[string]string

	pools       map[string]*endpoint.Pool
	defaultPool *endpoint.Pool
	checkers    []*endpoint.HealthChecker

	logger *logrus.Entry
}

// normalizeContextPath returns a context path with a leading and without a trailing slash.
func normalizeContextPath(contextPath string) string {
	return "/" + strings.Trim(strings.TrimSpace(contextPath), "/")
}

func (h *apiHandler) compileFlows(builder *policy.Builder, scope string, flows []definition.Flow) error {
	for i := range flows {
		flow := &flows[i]
		if !flow.Enabled {
			continue
		}

		steps, err := builder.FlowSteps(scope, flow)
		if err != nil {
			return fmt.Errorf("flow '%s': %w", flow.DisplayName(), err)
		}
		h.steps[flow] = steps
	}

	h.groups = h.groups.Union(policy.SharedPolicyGroupRefs(flows))
	return nil
}

// start checking the health of the endpoints.
func (h *apiHandler) start() {
	for _, checker := range h.checkers {
		go func() {
			if err := checker.Start(); err != nil {
				h.logger.Errorf("Health checker '%s' failed: %v.", checker.Name(), err)
			}
		}()
	}
}

// close releases the resources of the handler.
func (h *apiHandler) close() {
	for _, checker := range h.checkers {
		_ = checker.Stop()
	}
	for _, pool := range h.pools {
		pool.Close()
	}
}

type compiler struct {
	builder *policy.Builder
	tenant  string
	client  *http.Client
	clock   clock.WithTicker
}

// compile an API, with the flows of its organization.
func (c *compiler) compile(api *definition.Api, org *definition.Organization) (*apiHandler, error) {
	h := &apiHandler{
		api:        api,
		org:        org,
		steps:      make(map[*definition.Flow][]*chain.Step),
		groups:     sets.New[string](),
		properties: api.PropertyMap(),
		pools:      make(map[string]*endpoint.Pool),
		logger:     logrus.WithFields(logrus.Fields{"component": "gateway.handler", "api": api.ID}),
	}

	contextPaths := sets.New[string]()
	for _, contextPath := range api.ContextPaths {
		contextPaths.Insert(normalizeContextPath(contextPath))
	}
	if contextPaths.Len() == 0 {
		return nil, fmt.Errorf("api '%s' has no context path", api.ID)
	}
	h.contextPaths = sets.List(contextPaths)

	if org != nil {
		if err := h.compileFlows(c.builder, "organization/"+org.ID, org.Flows); err != nil {
			return nil, fmt.Errorf("organization '%s': %w", org.ID, err)
		}
	}

	for i := range api.Plans {
		plan := &api.Plans[i]
		if !plan.Deployable() {
			continue
		}
		if !strings.EqualFold(plan.Security.Type, definition.PlanSecurityKeyless) {
			h.protected = true
			continue
		}

		if err := h.compileFlows(c.builder, "plan/"+plan.ID, plan.Flows); err != nil {
			return nil, fmt.Errorf("plan '%s': %w", plan.ID, err)
		}
		h.plans = append(h.plans, plan)
	}
	if len(h.plans) > 0 {
		h.protected = false
	}

	if err := h.compileFlows(c.builder, "api/"+api.ID, api.Flows); err != nil {
		return nil, err
	}

	if err := c.compileEndpoints(h); err != nil {
		h.close()
		return nil, err
	}

	return h, nil
}

func (c *compiler) compileEndpoints(h *apiHandler) error {
	api := h.api
	for i := range api.EndpointGroups {
		group := &api.EndpointGroups[i]
		if _, ok := h.pools[group.Name]; ok {
			return fmt.Errorf("duplicate endpoint group '%s'", group.Name)
		}

		pool, err := endpoint.NewGroupPool(group, c.tenant,
			endpoint.WithObserver(func(e *endpoint.Endpoint, available bool) {
				metrics.RecordEndpointAvailability(api.ID, group.Name, e.Name(), available)
			}))
		if err != nil {
			return fmt.Errorf("endpoint group '%s': %w", group.Name, err)
		}

		h.pools[group.Name] = pool
		if h.defaultPool == nil {
			h.defaultPool = pool
		}

		if group.HealthCheck != nil && group.HealthCheck.Enabled {
			h.checkers = append(h.checkers, endpoint.NewHealthChecker(pool, group.HealthCheck, c.client, c.clock))
		}
	}
	return nil
}
