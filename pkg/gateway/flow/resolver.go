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

// Package flow selects the flows applying to a request.
package flow

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/definition"
)

// Resolver filters flows through an ordered pipeline of filters.
// Structural filters run first, so that conditions are only evaluated for flows
// which already matched the request method and path.
type Resolver struct {
	filters []Filter

	logger *logrus.Entry
}

// applies runs the filter pipeline over a flow, stopping at the first exclusion.
func (r *Resolver) applies(ctx context.Context, req *Request, flow *definition.Flow, filters []Filter) bool {
	for _, filter := range filters {
		ok, err := filter.Filter(ctx, req, flow)
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"flow":   flow.DisplayName(),
				"filter": filter.Name(),
			}).Warnf("Excluding flow: %v.", err)
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

// Resolve returns the enabled flows applying to the request, in declaration order.
func (r *Resolver) Resolve(ctx context.Context, req *Request, flows []definition.Flow) []*definition.Flow {
	resolved := make([]*definition.Flow, 0, len(flows))
	for i := range flows {
		flow := &flows[i]
		if flow.Enabled && r.applies(ctx, req, flow, r.filters) {
			resolved = append(resolved, flow)
		}
	}
	return resolved
}

// ResolveBestMatch returns the best matching flow if it passes the method and
// expression filters, or nil.
func (r *Resolver) ResolveBestMatch(ctx context.Context, req *Request, flows []definition.Flow) *definition.Flow {
	best := BestMatch(req, flows)
	if best == nil {
		return nil
	}

	filters := make([]Filter, 0, len(r.filters))
	for _, filter := range r.filters {
		switch filter.(type) {
		case *PathFilter, *ChannelFilter:
			// already matched
		default:
			filters = append(filters, filter)
		}
	}

	if !r.applies(ctx, req, best, filters) {
		return nil
	}
	return best
}

// ResolveMode resolves flows according to the flow mode of an API.
func (r *Resolver) ResolveMode(ctx context.Context, mode definition.FlowMode, req *Request, flows []definition.Flow) []*definition.Flow {
	if mode != definition.FlowModeBestMatch {
		return r.Resolve(ctx, req, flows)
	}

	if best := r.ResolveBestMatch(ctx, req, flows); best != nil {
		return []*definition.Flow{best}
	}
	return nil
}

// NewResolver returns a new flow resolver evaluating conditions with the given evaluator.
func NewResolver(evaluator ConditionEvaluator) *Resolver {
	return &Resolver{
		filters: []Filter{
			&MethodFilter{},
			&PathFilter{},
			&ChannelFilter{},
			NewExpressionFilter(evaluator),
		},
		logger: logrus.WithField("component", "gateway.flow"),
	}
}
