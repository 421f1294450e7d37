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
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/definition"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/expression"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/gateway/chain"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/gateway/endpoint"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/gateway/flow"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/metrics"
)

type exchangeKey struct{}

// exchange is the state of a request proxied to an endpoint.
type exchange struct {
	path     string
	endpoint *endpoint.Endpoint
	chain    *chain.Chain
	ec       *chain.ExecutionContext

	// in is the request handed to the proxy, served again on failover
	in      *http.Request
	pool    *endpoint.Pool
	retries int
}

// statusRecorder records the status of a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// operation returns the message operation of a request to a message API.
func operation(r *http.Request) definition.Operation {
	switch r.Method {
	case http.MethodPost, http.MethodPut:
		return definition.OperationPublish
	default:
		return definition.OperationSubscribe
	}
}

func requestVariables(r *http.Request, contextPath, path string) map[string]any {
	headers := make(map[string]any, len(r.Header))
	for name := range r.Header {
		headers[name] = r.Header.Get(name)
	}

	params := make(map[string]any)
	for name, values := range r.URL.Query() {
		if len(values) > 0 {
			params[name] = values[0]
		}
	}

	return map[string]any{
		"path":          path,
		"contextPath":   contextPath,
		"method":        r.Method,
		"host":          r.Host,
		"remoteAddress": r.RemoteAddr,
		"headers":       headers,
		"params":        params,
	}
}

// ServeHTTP serves a request with the handler of the API with the longest matching context path.
func (r *Reactor) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()

	h, contextPath := r.route(req.URL.Path)
	if h == nil {
		http.Error(w, "No context-path matches the request URI.", http.StatusNotFound)
		return
	}

	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	r.serve(recorder, req, h, contextPath)
	metrics.RecordRequest(h.api.ID, recorder.status, time.Since(start))
}

func (r *Reactor) serve(w http.ResponseWriter, req *http.Request, h *apiHandler, contextPath string) {
	ctx := req.Context()
	logger := r.logger.WithFields(logrus.Fields{"api": h.api.ID, "path": req.URL.Path})

	if h.protected {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	path := "/" + strings.TrimPrefix(strings.TrimPrefix(req.URL.Path, contextPath), "/")
	if contextPath == "/" {
		path = req.URL.Path
	}

	ec := chain.NewExecutionContext(req, &expression.Variables{
		Request:      requestVariables(req, contextPath, path),
		Properties:   h.properties,
		Dictionaries: r.Dictionaries(),
	})

	flowReq := &flow.Request{
		Path:      path,
		Method:    req.Method,
		Headers:   req.Header,
		Variables: ec.Variables,
	}
	if h.api.Type == definition.ApiTypeMessage {
		flowReq.Channel = path
		flowReq.Operation = operation(req)
	}

	flows := r.resolve(ctx, h, flowReq)
	if flows == nil {
		http.Error(w, "No flow matches the request.", http.StatusNotFound)
		return
	}

	if params := flow.PathParams(flowReq, flows); len(params) > 0 {
		ec.Variables.Request["pathParams"] = params
	}

	var steps []*chain.Step
	for _, f := range flows {
		steps = append(steps, h.steps[f]...)
	}
	c := chain.New(steps, chain.WithEvaluator(r.evaluator), chain.WithHooks(r.hooks...))

	if err := c.ExecuteRequest(ctx, ec); err != nil {
		if interruption, ok := chain.AsInterruption(err); ok {
			logger.Debugf("Request interrupted: %v.", interruption)
			http.Error(w, interruption.Message, interruption.Status)
			return
		}

		var stepErr *chain.StepError
		if errors.As(err, &stepErr) {
			w.Header().Set(ErrorHeader, stepErr.StepID)
		}
		logger.Errorf("Request failed: %v.", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var target *endpoint.Endpoint
	if h.defaultPool != nil {
		target = h.defaultPool.Next()
	}
	if target == nil {
		logger.Warn("No endpoint available.")
		http.Error(w, "No endpoint available.", http.StatusServiceUnavailable)
		return
	}

	ex := &exchange{
		path:     path,
		endpoint: target,
		chain:    c,
		ec:       ec,
		pool:     h.defaultPool,
		retries:  h.api.Failover.Retries(),
	}
	ex.in = ec.Request.WithContext(context.WithValue(ctx, exchangeKey{}, ex))
	r.proxy.ServeHTTP(w, ex.in)
}

// resolve returns the flows of the organization, the plans and the API applying to a request,
// in execution order. It returns nil if the API requires a matching flow and none matches.
func (r *Reactor) resolve(ctx context.Context, h *apiHandler, req *flow.Request) []*definition.Flow {
	mode := h.api.FlowExecution.Mode

	var matched []*definition.Flow
	for _, plan := range h.plans {
		matched = append(matched, r.resolver.ResolveMode(ctx, mode, req, plan.Flows)...)
	}
	matched = append(matched, r.resolver.ResolveMode(ctx, mode, req, h.api.Flows)...)

	if len(matched) == 0 && h.api.FlowExecution.MatchRequired {
		return nil
	}

	flows := make([]*definition.Flow, 0, len(matched))
	if h.org != nil {
		flows = append(flows, r.resolver.Resolve(ctx, req, h.org.Flows)...)
	}
	return append(flows, matched...)
}

func (r *Reactor) rewrite(pr *httputil.ProxyRequest) {
	ex := pr.In.Context().Value(exchangeKey{}).(*exchange)

	pr.Out.URL.Path = ex.path
	pr.Out.URL.RawPath = ""
	pr.SetURL(ex.endpoint.Target())
	pr.SetXForwarded()
}

func (r *Reactor) modifyResponse(resp *http.Response) error {
	ex, ok := resp.Request.Context().Value(exchangeKey{}).(*exchange)
	if !ok {
		return nil
	}

	ex.ec.Response = resp
	ex.chain.ExecuteResponse(resp.Request.Context(), ex.ec)
	return nil
}

// replayable returns true for idempotent requests without a body, which can be sent again.
func replayable(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace, http.MethodPut, http.MethodDelete:
	default:
		return false
	}
	return req.Body == nil || req.Body == http.NoBody || req.ContentLength == 0
}

func (r *Reactor) proxyError(w http.ResponseWriter, req *http.Request, err error) {
	ex, ok := req.Context().Value(exchangeKey{}).(*exchange)
	if !ok {
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	r.logger.Warnf("Endpoint '%s' failed: %v.", ex.endpoint.Name(), err)

	if ex.retries > 0 && ex.pool != nil && req.Context().Err() == nil && replayable(ex.in) {
		if next := ex.pool.Next(); next != nil {
			ex.retries--
			ex.endpoint = next
			r.logger.Debugf("Failing over to endpoint '%s' (%d retries left).", next.Name(), ex.retries)
			r.proxy.ServeHTTP(w, ex.in)
			return
		}
	}

	w.WriteHeader(http.StatusBadGateway)
}
