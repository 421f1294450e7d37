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

package flow

import (
	"context"
	"maps"
	"net/http"
	"strings"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/definition"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/expression"
)

// Request is the view of a request used to select flows.
type Request struct {
	// Path relative to the API context path.
	Path    string
	Method  string
	Headers http.Header

	// Channel and Operation are set for message APIs.
	Channel   string
	Operation definition.Operation

	// Variables are the base values conditions are evaluated against.
	Variables *expression.Variables
}

// ConditionEvaluator evaluates flow conditions.
type ConditionEvaluator interface {
	EvalBool(ctx context.Context, expr string, vars *expression.Variables) (bool, error)
}

// Filter decides whether a flow applies to a request.
type Filter interface {
	Name() string
	Filter(ctx context.Context, req *Request, flow *definition.Flow) (bool, error)
}

// MethodFilter keeps flows whose HTTP methods or channel operations include the request ones.
type MethodFilter struct{}

// Name of the filter.
func (f *MethodFilter) Name() string {
	return "method"
}

// Filter the flow.
func (f *MethodFilter) Filter(_ context.Context, req *Request, flow *definition.Flow) (bool, error) {
	if sel := flow.Selector(definition.SelectorHTTP); sel != nil && len(sel.Methods) > 0 {
		found := false
		for _, method := range sel.Methods {
			if strings.EqualFold(method, req.Method) {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}

	if sel := flow.Selector(definition.SelectorChannel); sel != nil && len(sel.Operations) > 0 && req.Operation != "" {
		for _, op := range sel.Operations {
			if op == req.Operation {
				return true, nil
			}
		}
		return false, nil
	}

	return true, nil
}

// PathFilter keeps flows whose path selector matches the request path.
type PathFilter struct{}

// Name of the filter.
func (f *PathFilter) Name() string {
	return "path"
}

// Filter the flow.
func (f *PathFilter) Filter(_ context.Context, req *Request, flow *definition.Flow) (bool, error) {
	sel := flow.Selector(definition.SelectorHTTP)
	if sel == nil {
		return true, nil
	}
	_, ok := MatchPath(sel.Path, defaultOperator(sel.PathOperator), req.Path)
	return ok, nil
}

// ChannelFilter keeps flows whose channel selector matches the request channel.
type ChannelFilter struct{}

// Name of the filter.
func (f *ChannelFilter) Name() string {
	return "channel"
}

// Filter the flow.
func (f *ChannelFilter) Filter(_ context.Context, req *Request, flow *definition.Flow) (bool, error) {
	sel := flow.Selector(definition.SelectorChannel)
	if sel == nil || req.Channel == "" {
		return true, nil
	}
	return MatchChannel(sel.Channel, defaultOperator(sel.ChannelOperator), req.Channel), nil
}

// ExpressionFilter keeps flows whose condition selector evaluates to true.
type ExpressionFilter struct {
	evaluator ConditionEvaluator
}

// Name of the filter.
func (f *ExpressionFilter) Name() string {
	return "expression"
}

// Filter the flow.
func (f *ExpressionFilter) Filter(ctx context.Context, req *Request, flow *definition.Flow) (bool, error) {
	sel := flow.Selector(definition.SelectorCondition)
	if sel == nil || sel.Condition == "" {
		return true, nil
	}
	return f.evaluator.EvalBool(ctx, sel.Condition, flowVariables(req, flow))
}

// flowVariables returns the request variables with the path parameters bound by the flow.
func flowVariables(req *Request, flow *definition.Flow) *expression.Variables {
	vars := expression.Variables{}
	if req.Variables != nil {
		vars = *req.Variables
	}

	params := PathParams(req, []*definition.Flow{flow})
	if len(params) == 0 {
		return &vars
	}

	request := make(map[string]any, len(vars.Request)+1)
	maps.Copy(request, vars.Request)
	request["pathParams"] = params
	vars.Request = request
	return &vars
}

// NewExpressionFilter returns a new expression filter.
func NewExpressionFilter(evaluator ConditionEvaluator) *ExpressionFilter {
	return &ExpressionFilter{evaluator: evaluator}
}
