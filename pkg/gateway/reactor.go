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

// Package gateway routes requests to the deployed APIs of a node: flows are
// resolved, their policies executed, and requests proxied to the endpoints.
package gateway

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/definition"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/expression"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/gateway/chain"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/gateway/flow"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/gateway/policy"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/metrics"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/registry"
)

const (
	// ErrorHeader holds the id of the failed step on a policy error.
	ErrorHeader = "X-Gateway-Error"

	// DefaultOrganizationID is the organization of APIs without one.
	DefaultOrganizationID = "DEFAULT"
)

// Option configures a reactor.
type Option func(*Reactor)

// WithTenant restricts the endpoints to those serving the given tenant.
func WithTenant(tenant string) Option {
	return func(r *Reactor) {
		r.compiler.tenant = tenant
	}
}

// WithTransport sets the transport used to reach the endpoints.
func WithTransport(transport http.RoundTripper) Option {
	return func(r *Reactor) {
		r.proxy.Transport = transport
	}
}

// WithHealthCheckClient sets the client used to check the health of the endpoints.
func WithHealthCheckClient(client *http.Client) Option {
	return func(r *Reactor) {
		r.compiler.client = client
	}
}

// WithClock sets the clock of the endpoint health checks.
func WithClock(clk clock.WithTicker) Option {
	return func(r *Reactor) {
		r.compiler.clock = clk
	}
}

// WithHooks adds hooks to the policy chains.
func WithHooks(hooks ...chain.Hook) Option {
	return func(r *Reactor) {
		r.hooks = append(r.hooks, hooks...)
	}
}

type route struct {
	contextPath string
	handler     *apiHandler
}

// Reactor keeps a compiled handler for every deployed API, and serves requests with them.
type Reactor struct {
	registries *registry.Registries
	compiler   compiler
	evaluator  *expression.Evaluator
	resolver   *flow.Resolver
	hooks      []chain.Hook
	proxy      *httputil.ReverseProxy

	// lock serializes handler changes
	lock        sync.Mutex
	handlers    map[string]*apiHandler
	unsubscribe []func()

	// routes ordered by decreasing context path length, copy-on-write
	routes       atomic.Pointer[[]route]
	dictionaries atomic.Pointer[map[string]map[string]string]

	logger *logrus.Entry
}

func (r *Reactor) organization(api *definition.Api) *definition.Organization {
	id := api.OrganizationID
	if id == "" {
		id = DefaultOrganizationID
	}

	org, _ := r.registries.Organizations.Get(id)
	return org
}

// Validate compiles an API without deploying it.
func (r *Reactor) Validate(api *definition.Api) error {
	h, err := r.compiler.compile(api, r.organization(api))
	if err != nil {
		return err
	}
	defer h.close()

	r.lock.Lock()
	defer r.lock.Unlock()

	return r.checkConflicts(h)
}

// checkConflicts rejects a handler sharing a context path with the handler
// of another API. Must be called with lock held.
func (r *Reactor) checkConflicts(h *apiHandler) error {
	for id, other := range r.handlers {
		if id == h.api.ID {
			continue
		}
		for _, contextPath := range h.contextPaths {
			if slices.Contains(other.contextPaths, contextPath) {
				return fmt.Errorf("context path '%s' already served by api '%s'", contextPath, id)
			}
		}
	}
	return nil
}

// deploy compiles an API and replaces its handler.
// A failure keeps the previous handler, if any. An API whose context path is
// already served by another API is not served.
func (r *Reactor) deploy(api *definition.Api) {
	r.lock.Lock()
	defer r.lock.Unlock()

	h, err := r.compiler.compile(api, r.organization(api))
	if err != nil {
		r.logger.Errorf("Cannot compile api '%s': %v.", api.ID, err)
		return
	}

	if err := r.checkConflicts(h); err != nil {
		h.close()
		r.logger.Errorf("Cannot serve api '%s': %v.", api.ID, err)
		return
	}

	previous := r.handlers[api.ID]
	r.handlers[api.ID] = h
	r.rebuildRoutes()
	h.start()

	if previous != nil {
		previous.close()
	}

	r.logger.Infof("Api '%s' served on %v.", api.ID, h.contextPaths)
}

func (r *Reactor) undeploy(id string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	h, ok := r.handlers[id]
	if !ok {
		return
	}

	delete(r.handlers, id)
	r.rebuildRoutes()
	h.close()
	metrics.DeleteEndpoints(id)

	r.logger.Infof("Api '%s' removed.", id)
}

// recompile the deployed APIs selected by a predicate.
func (r *Reactor) recompile(selected func(api *definition.Api) bool) {
	for _, api := range r.registries.Apis.All() {
		if selected(api) {
			r.deploy(api)
		}
	}
}

// rebuildRoutes must be called with lock held.
func (r *Reactor) rebuildRoutes() {
	routes := make([]route, 0, len(r.handlers))
	for _, h := range r.handlers {
		for _, contextPath := range h.contextPaths {
			routes = append(routes, route{contextPath: contextPath, handler: h})
		}
	}

	slices.SortFunc(routes, func(a, b route) int {
		if diff := len(b.contextPath) - len(a.contextPath); diff != 0 {
			return diff
		}
		return strings.Compare(a.contextPath, b.contextPath)
	})
	r.routes.Store(&routes)
}

// route returns the handler with the longest context path matching a path.
func (r *Reactor) route(path string) (*apiHandler, string) {
	for _, rt := range *r.routes.Load() {
		if rt.contextPath == "/" || path == rt.contextPath || strings.HasPrefix(path, rt.contextPath+"/") {
			return rt.handler, rt.contextPath
		}
	}
	return nil, ""
}

func changedID[T definition.Definition](change registry.Change[T]) string {
	if change.Kind == registry.Undeployed {
		return change.Previous.GetID()
	}
	return change.Current.GetID()
}

func (r *Reactor) onApiChange(change registry.Change[*definition.Api]) {
	switch change.Kind {
	case registry.Deployed, registry.Updated:
		r.deploy(change.Current)
	case registry.Undeployed:
		r.undeploy(change.Previous.ID)
		// a released context path may let a refused API be served
		r.recompile(func(api *definition.Api) bool {
			return !r.Served(api)
		})
	}
}

func (r *Reactor) onOrganizationChange(change registry.Change[*definition.Organization]) {
	id := changedID(change)

	r.recompile(func(api *definition.Api) bool {
		return api.OrganizationID == id || (api.OrganizationID == "" && id == DefaultOrganizationID)
	})
}

func (r *Reactor) onSharedPolicyGroupChange(change registry.Change[*definition.SharedPolicyGroup]) {
	id := changedID(change)

	r.recompile(func(api *definition.Api) bool {
		r.lock.Lock()
		defer r.lock.Unlock()

		h, ok := r.handlers[api.ID]
		// retry APIs which failed to compile
		return !ok || h.api != api || h.groups.Has(id)
	})
}

func (r *Reactor) onDictionaryChange(registry.Change[*definition.Dictionary]) {
	r.snapshotDictionaries()
}

func (r *Reactor) snapshotDictionaries() {
	dictionaries := make(map[string]map[string]string)
	for _, dictionary := range r.registries.Dictionaries.All() {
		dictionaries[dictionary.Name()] = dictionary.Properties
	}
	r.dictionaries.Store(&dictionaries)
}

// Dictionaries returns the properties of the deployed dictionaries, by name.
func (r *Reactor) Dictionaries() map[string]map[string]string {
	return *r.dictionaries.Load()
}

// Served returns true if the API has a handler compiled from the given definition.
func (r *Reactor) Served(api *definition.Api) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	h, ok := r.handlers[api.ID]
	return ok && h.api == api
}

// AllSynchronized returns true if every deployed API is served at its deployed revision.
func (r *Reactor) AllSynchronized() bool {
	for _, api := range r.registries.Apis.All() {
		if !r.Served(api) {
			return false
		}
	}
	return true
}

// Close stops listening to the registries and releases every handler.
func (r *Reactor) Close() {
	r.lock.Lock()
	unsubscribes := r.unsubscribe
	r.unsubscribe = nil
	r.lock.Unlock()

	// listeners run with the registry notification lock held
	for _, unsubscribe := range unsubscribes {
		unsubscribe()
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	for id, h := range r.handlers {
		h.close()
		metrics.DeleteEndpoints(id)
	}
	r.handlers = make(map[string]*apiHandler)
	r.rebuildRoutes()
}

// NewReactor returns a new reactor serving the APIs of the registries.
// APIs already deployed are compiled immediately.
func NewReactor(
	registries *registry.Registries,
	policies *policy.Registry,
	evaluator *expression.Evaluator,
	opts ...Option,
) *Reactor {
	r := &Reactor{
		registries: registries,
		compiler: compiler{
			builder: policy.NewBuilder(policies, registries.SharedPolicyGroups),
			client:  http.DefaultClient,
			clock:   clock.RealClock{},
		},
		evaluator: evaluator,
		resolver:  flow.NewResolver(evaluator),
		handlers:  make(map[string]*apiHandler),
		logger:    logrus.WithField("component", "gateway"),
	}
	r.proxy = &httputil.ReverseProxy{
		Rewrite:        r.rewrite,
		ModifyResponse: r.modifyResponse,
		ErrorHandler:   r.proxyError,
	}
	r.routes.Store(&[]route{})

	for _, opt := range opts {
		opt(r)
	}

	r.snapshotDictionaries()

	apiListener := registries.Apis.AddListener(r.onApiChange)
	orgListener := registries.Organizations.AddListener(r.onOrganizationChange)
	groupListener := registries.SharedPolicyGroups.AddListener(r.onSharedPolicyGroupChange)
	dictionaryListener := registries.Dictionaries.AddListener(r.onDictionaryChange)
	r.unsubscribe = []func(){
		func() { registries.Apis.RemoveListener(apiListener) },
		func() { registries.Organizations.RemoveListener(orgListener) },
		func() { registries.SharedPolicyGroups.RemoveListener(groupListener) },
		func() { registries.Dictionaries.RemoveListener(dictionaryListener) },
	}

	r.recompile(func(*definition.Api) bool { return true })
	return r
}
