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

package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/definition"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/expression"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/gateway"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/gateway/chain"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/gateway/policy"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/registry"
)

var deployedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// callLog records the invocations of the recording policy.
type callLog struct {
	lock  sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) get() []string {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([]string(nil), l.calls...)
}

type recordingPolicy struct {
	name string
	log  *callLog
}

func (p *recordingPolicy) ID() string {
	return "recorder"
}

func (p *recordingPolicy) OnRequest(context.Context, *chain.ExecutionContext) error {
	p.log.add(p.name)
	return nil
}

type failingPolicy struct{}

func (p *failingPolicy) ID() string {
	return "fail"
}

func (p *failingPolicy) OnRequest(context.Context, *chain.ExecutionContext) error {
	return errors.New("failure")
}

type interruptingPolicy struct{}

func (p *interruptingPolicy) ID() string {
	return "interrupt"
}

func (p *interruptingPolicy) OnRequest(context.Context, *chain.ExecutionContext) error {
	return chain.Interrupt(http.StatusForbidden, "denied")
}

type fixture struct {
	registries *registry.Registries
	reactor    *gateway.Reactor
	log        *callLog
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		registries: registry.NewRegistries(),
		log:        &callLog{},
	}

	policies := policy.NewRegistry()
	require.Nil(t, policies.Register("recorder", func(config json.RawMessage) (chain.Policy, error) {
		var c struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(config, &c); err != nil {
			return nil, err
		}
		return &recordingPolicy{name: c.Name, log: f.log}, nil
	}))
	require.Nil(t, policies.Register("fail", func(json.RawMessage) (chain.Policy, error) {
		return &failingPolicy{}, nil
	}))
	require.Nil(t, policies.Register("interrupt", func(json.RawMessage) (chain.Policy, error) {
		return &interruptingPolicy{}, nil
	}))

	evaluator, err := expression.NewEvaluator()
	require.Nil(t, err)

	f.reactor = gateway.NewReactor(f.registries, policies, evaluator, gateway.WithHooks(chain.NewTracingHook()))
	t.Cleanup(f.reactor.Close)
	return f
}

func (f *fixture) do(method, path string) *http.Response {
	w := httptest.NewRecorder()
	f.reactor.ServeHTTP(w, httptest.NewRequest(method, path, http.NoBody))
	return w.Result()
}

func body(t *testing.T, resp *http.Response) string {
	data, err := io.ReadAll(resp.Body)
	require.Nil(t, err)
	return string(data)
}

// newBackend returns a backend replying with its name, the upstream path and the X-Req header.
func newBackend(t *testing.T, name string) *httptest.Server {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream-Path", r.URL.Path)
		w.Header().Set("X-Echo-Req", r.Header.Get("X-Req"))
		_, _ = io.WriteString(w, name)
	}))
	t.Cleanup(backend.Close)
	return backend
}

func recorderStep(name string) definition.Step {
	return definition.Step{
		Policy:        "recorder",
		Enabled:       true,
		Configuration: json.RawMessage(`{"name": "` + name + `"}`),
	}
}

func pathFlow(path string, steps ...definition.Step) definition.Flow {
	return definition.Flow{
		Enabled:   true,
		Selectors: []definition.Selector{{Type: definition.SelectorHTTP, Path: path}},
		Request:   steps,
	}
}

func newApi(id, contextPath, target string) *definition.Api {
	api := &definition.Api{
		ID:           id,
		Name:         id,
		Enabled:      true,
		ContextPaths: []string{contextPath},
		DeployedAt:   deployedAt,
	}
	if target != "" {
		api.EndpointGroups = []definition.EndpointGroup{{
			Name:      "default",
			Endpoints: []definition.EndpointSpec{{Name: "e1", Target: target}},
		}}
	}
	return api
}

func TestRouting(t *testing.T) {
	f := newFixture(t)
	short := newBackend(t, "short")
	long := newBackend(t, "long")

	require.Nil(t, f.registries.Apis.Deploy(newApi("short", "/a", short.URL)))
	require.Nil(t, f.registries.Apis.Deploy(newApi("long", "/a/b/", long.URL+"/base")))
	require.True(t, f.reactor.AllSynchronized())

	resp := f.do(http.MethodGet, "/a/b/c?q=1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "long", body(t, resp))
	require.Equal(t, "/base/c", resp.Header.Get("X-Upstream-Path"))

	resp = f.do(http.MethodGet, "/a/bc")
	require.Equal(t, "short", body(t, resp))
	require.Equal(t, "/bc", resp.Header.Get("X-Upstream-Path"))

	resp = f.do(http.MethodGet, "/a")
	require.Equal(t, "short", body(t, resp))

	resp = f.do(http.MethodGet, "/z")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// undeployed APIs are no longer served
	_, ok := f.registries.Apis.Undeploy("long")
	require.True(t, ok)
	resp = f.do(http.MethodGet, "/a/b/c")
	require.Equal(t, "short", body(t, resp))
	require.Equal(t, "/b/c", resp.Header.Get("X-Upstream-Path"))
}

func TestHeaderTransformation(t *testing.T) {
	f := newFixture(t)
	backend := newBackend(t, "backend")

	api := newApi("api", "/api", backend.URL)
	api.Flows = []definition.Flow{{
		Enabled: true,
		Request: []definition.Step{{
			Policy:        policy.TransformHeadersName,
			Enabled:       true,
			Configuration: json.RawMessage(`{"addHeaders": [{"name": "X-Req", "value": "added"}]}`),
		}},
		Response: []definition.Step{{
			Policy:        policy.TransformHeadersName,
			Enabled:       true,
			Configuration: json.RawMessage(`{"addHeaders": [{"name": "X-Resp", "value": "added"}], "removeHeaders": ["X-Upstream-Path"]}`),
		}},
	}}
	require.Nil(t, f.registries.Apis.Deploy(api))

	resp := f.do(http.MethodGet, "/api/x")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "added", resp.Header.Get("X-Echo-Req"))
	require.Equal(t, "added", resp.Header.Get("X-Resp"))
	require.Empty(t, resp.Header.Get("X-Upstream-Path"))
}

func TestFlowOrder(t *testing.T) {
	f := newFixture(t)
	backend := newBackend(t, "backend")

	require.Nil(t, f.registries.Organizations.Deploy(&definition.Organization{
		ID:         gateway.DefaultOrganizationID,
		DeployedAt: deployedAt,
		Flows:      []definition.Flow{pathFlow("/", recorderStep("org"))},
	}))

	api := newApi("api", "/api", backend.URL)
	api.Plans = []definition.Plan{{
		ID:       "keyless",
		Status:   definition.PlanPublished,
		Security: definition.PlanSecurity{Type: definition.PlanSecurityKeyless},
		Flows:    []definition.Flow{pathFlow("/", recorderStep("plan"))},
	}}
	api.Flows = []definition.Flow{
		pathFlow("/users", recorderStep("users")),
		pathFlow("/", recorderStep("api")),
		pathFlow("/other", recorderStep("other")),
	}
	require.Nil(t, f.registries.Apis.Deploy(api))

	resp := f.do(http.MethodGet, "/api/users/1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"org", "plan", "users", "api"}, f.log.get())

	// organization changes apply to its APIs
	f.log = &callLog{}
	_, ok := f.registries.Organizations.Undeploy(gateway.DefaultOrganizationID)
	require.True(t, ok)
	resp = f.do(http.MethodGet, "/api/users/1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"plan", "users", "api"}, f.log.get())
}

func TestBestMatch(t *testing.T) {
	f := newFixture(t)
	backend := newBackend(t, "backend")

	api := newApi("api", "/api", backend.URL)
	api.FlowExecution = definition.FlowExecution{Mode: definition.FlowModeBestMatch, MatchRequired: true}
	api.Flows = []definition.Flow{
		pathFlow("/a", recorderStep("a")),
		pathFlow("/a/b", recorderStep("ab")),
		pathFlow("/a/b/c", recorderStep("abc")),
	}
	require.Nil(t, f.registries.Apis.Deploy(api))

	resp := f.do(http.MethodGet, "/api/a/b/c/d")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"abc"}, f.log.get())

	// no flow matches
	resp = f.do(http.MethodGet, "/api/z")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPolicyFailures(t *testing.T) {
	f := newFixture(t)
	backend := newBackend(t, "backend")

	failing := newApi("failing", "/failing", backend.URL)
	failing.Flows = []definition.Flow{pathFlow("/", definition.Step{Policy: "fail", Enabled: true})}
	interrupted := newApi("interrupted", "/interrupted", backend.URL)
	interrupted.Flows = []definition.Flow{pathFlow("/", definition.Step{Policy: "interrupt", Enabled: true})}
	require.Nil(t, f.registries.Apis.Deploy(failing))
	require.Nil(t, f.registries.Apis.Deploy(interrupted))

	resp := f.do(http.MethodGet, "/failing")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Contains(t, resp.Header.Get(gateway.ErrorHeader), "0:fail")

	resp = f.do(http.MethodGet, "/interrupted")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Contains(t, body(t, resp), "denied")
}

func TestEndpointFailures(t *testing.T) {
	f := newFixture(t)

	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()

	require.Nil(t, f.registries.Apis.Deploy(newApi("none", "/none", "")))
	require.Nil(t, f.registries.Apis.Deploy(newApi("down", "/down", down.URL)))

	resp := f.do(http.MethodGet, "/none")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = f.do(http.MethodGet, "/down")
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

// newResettingBackend returns the URL of a backend closing every connection
// it accepts, and the count of accepted connections.
func newResettingBackend(t *testing.T) (string, *atomic.Int32) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	var accepted atomic.Int32
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			accepted.Add(1)
			_ = conn.Close()
		}
	}()
	return "http://" + listener.Addr().String(), &accepted
}

func TestFailover(t *testing.T) {
	f := newFixture(t)
	backend := newBackend(t, "backend")
	down, accepted := newResettingBackend(t)

	api := newApi("failover", "/failover", "")
	api.EndpointGroups = []definition.EndpointGroup{{
		Name: "default",
		Endpoints: []definition.EndpointSpec{
			{Name: "down", Target: down},
			{Name: "up", Target: backend.URL},
		},
	}}
	api.Failover = &definition.Failover{Enabled: true}
	require.Nil(t, f.registries.Apis.Deploy(api))

	// round robin picks the failing endpoint first, the retry succeeds
	for i := 0; i < 2; i++ {
		resp := f.do(http.MethodGet, "/failover")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "backend", body(t, resp))
	}
	require.Equal(t, int32(2), accepted.Load())

	// requests which cannot be sent again are not retried
	resp := f.do(http.MethodPost, "/failover")
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Equal(t, int32(3), accepted.Load())
}

func TestFailoverRetriesExhausted(t *testing.T) {
	f := newFixture(t)
	down, accepted := newResettingBackend(t)

	retrying := newApi("retrying", "/retrying", down)
	retrying.Failover = &definition.Failover{Enabled: true, MaxRetries: 2}
	disabled := newApi("disabled", "/disabled", down)
	disabled.Failover = &definition.Failover{Enabled: false, MaxRetries: 2}
	require.Nil(t, f.registries.Apis.Deploy(retrying))
	require.Nil(t, f.registries.Apis.Deploy(disabled))

	// the first attempt and two retries
	resp := f.do(http.MethodGet, "/retrying")
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Equal(t, int32(3), accepted.Load())

	resp = f.do(http.MethodGet, "/disabled")
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Equal(t, int32(4), accepted.Load())
}

func TestPlans(t *testing.T) {
	f := newFixture(t)
	backend := newBackend(t, "backend")

	api := newApi("api", "/api", backend.URL)
	api.Plans = []definition.Plan{{
		ID:       "api-key",
		Status:   definition.PlanPublished,
		Security: definition.PlanSecurity{Type: "API_KEY"},
	}}
	require.Nil(t, f.registries.Apis.Deploy(api))

	resp := f.do(http.MethodGet, "/api")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSharedPolicyGroups(t *testing.T) {
	f := newFixture(t)
	backend := newBackend(t, "backend")

	api := newApi("api", "/api", backend.URL)
	api.Flows = []definition.Flow{pathFlow("/", definition.Step{
		Policy:              policy.SharedPolicyGroupName,
		Enabled:             true,
		SharedPolicyGroupID: "spg",
	})}
	require.Nil(t, f.registries.Apis.Deploy(api))

	// the group is not deployed yet
	resp := f.do(http.MethodGet, "/api")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, f.log.get())

	require.Nil(t, f.registries.SharedPolicyGroups.Deploy(&definition.SharedPolicyGroup{
		ID:         "spg",
		Phase:      definition.PhaseRequest,
		DeployedAt: deployedAt,
		Steps:      []definition.Step{recorderStep("group")},
	}))

	resp = f.do(http.MethodGet, "/api")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"group"}, f.log.get())
	require.True(t, f.reactor.AllSynchronized())
}

func TestConditions(t *testing.T) {
	f := newFixture(t)
	backend := newBackend(t, "backend")

	require.Nil(t, f.registries.Dictionaries.Deploy(&definition.Dictionary{
		ID:         "dict",
		Key:        "countries",
		DeployedAt: deployedAt,
		Properties: map[string]string{"fr": "France"},
	}))
	require.Equal(t, "France", f.reactor.Dictionaries()["countries"]["fr"])

	api := newApi("api", "/api", backend.URL)
	api.Properties = []definition.Property{{Key: "region", Value: "eu"}}
	api.Flows = []definition.Flow{
		{
			Enabled: true,
			Selectors: []definition.Selector{{
				Type:      definition.SelectorCondition,
				Condition: "{#dictionaries['countries']['fr'] == 'France' && properties['region'] == 'eu'}",
			}},
			Request: []definition.Step{recorderStep("matched")},
		},
		{
			Enabled: true,
			Selectors: []definition.Selector{{
				Type:    definition.SelectorHTTP,
				Path:    "/users/:id",
				Methods: []string{http.MethodGet},
			}},
			Request: []definition.Step{{
				Policy:        "recorder",
				Enabled:       true,
				Condition:     "request.pathParams['id'] == '42'",
				Configuration: json.RawMessage(`{"name": "param"}`),
			}},
		},
		{
			Enabled: true,
			Selectors: []definition.Selector{{
				Type:    definition.SelectorHTTP,
				Path:    "/",
				Methods: []string{http.MethodPost},
			}},
			Request: []definition.Step{recorderStep("post")},
		},
	}
	require.Nil(t, f.registries.Apis.Deploy(api))

	resp := f.do(http.MethodGet, "/api/users/42")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"matched", "param"}, f.log.get())
}

func TestValidate(t *testing.T) {
	f := newFixture(t)
	backend := newBackend(t, "backend")

	require.Nil(t, f.registries.Apis.Deploy(newApi("api", "/api", backend.URL)))

	unknown := newApi("unknown", "/unknown", backend.URL)
	unknown.Flows = []definition.Flow{pathFlow("/", definition.Step{Policy: "unknown", Enabled: true})}
	require.ErrorIs(t, f.reactor.Validate(unknown), policy.ErrUnknownPolicy)

	require.NotNil(t, f.reactor.Validate(newApi("conflict", "/api/", backend.URL)))
	require.NotNil(t, f.reactor.Validate(newApi("invalid", "/invalid", "not a url")))
	require.Nil(t, f.reactor.Validate(newApi("api", "/api", backend.URL)))
	require.Nil(t, f.reactor.Validate(newApi("other", "/other", backend.URL)))

	// a deployed API failing to compile is not synchronized
	require.Nil(t, f.registries.Apis.Deploy(unknown))
	require.False(t, f.reactor.AllSynchronized())
}

func TestContextPathConflicts(t *testing.T) {
	f := newFixture(t)
	backend := newBackend(t, "backend")

	first := newApi("first", "/same", backend.URL)
	second := newApi("second", "/same", backend.URL)

	// both validated before either is deployed
	require.Nil(t, f.reactor.Validate(first))
	require.Nil(t, f.reactor.Validate(second))

	require.Nil(t, f.registries.Apis.Deploy(first))
	require.Nil(t, f.registries.Apis.Deploy(second))
	require.True(t, f.reactor.Served(first))
	require.False(t, f.reactor.Served(second))
	require.False(t, f.reactor.AllSynchronized())

	// the released context path is taken by the refused API
	_, ok := f.registries.Apis.Undeploy(first.ID)
	require.True(t, ok)
	require.True(t, f.reactor.Served(second))
	require.True(t, f.reactor.AllSynchronized())

	resp := f.do(http.MethodGet, "/same/hello")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
