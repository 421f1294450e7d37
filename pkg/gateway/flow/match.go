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
	"strings"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/definition"
)

const paramPrefix = ":"

func segments(path string) []string {
	parts := strings.Split(path, "/")
	segs := parts[:0]
	for _, part := range parts {
		if part != "" {
			segs = append(segs, part)
		}
	}
	return segs
}

// MatchPath matches a request path against a selector path.
// Selector segments of the form ":name" match any segment and bind a path parameter.
func MatchPath(selectorPath string, operator definition.Operator, path string) (map[string]string, bool) {
	want := segments(selectorPath)
	got := segments(path)

	if len(got) < len(want) || (operator != definition.OperatorStartsWith && len(got) != len(want)) {
		return nil, false
	}

	var params map[string]string
	for i, seg := range want {
		if name, ok := strings.CutPrefix(seg, paramPrefix); ok && name != "" {
			if params == nil {
				params = make(map[string]string)
			}
			params[name] = got[i]
			continue
		}
		if seg != got[i] {
			return nil, false
		}
	}

	return params, true
}

// MatchChannel matches a channel against a selector channel.
func MatchChannel(selectorChannel string, operator definition.Operator, channel string) bool {
	if operator == definition.OperatorStartsWith {
		return strings.HasPrefix(channel, selectorChannel)
	}
	return channel == selectorChannel
}

// defaultOperator is STARTS_WITH, for selectors without an operator.
func defaultOperator(operator definition.Operator) definition.Operator {
	if operator == "" {
		return definition.OperatorStartsWith
	}
	return operator
}

// selectorValue returns the path or channel value of the flow selector used for best-match.
func selectorValue(flow *definition.Flow, req *Request) (string, bool) {
	if req.Channel != "" {
		if sel := flow.Selector(definition.SelectorChannel); sel != nil {
			return sel.Channel, MatchChannel(sel.Channel, defaultOperator(sel.ChannelOperator), req.Channel)
		}
		return "", false
	}

	sel := flow.Selector(definition.SelectorHTTP)
	if sel == nil {
		return "", false
	}
	_, ok := MatchPath(sel.Path, defaultOperator(sel.PathOperator), req.Path)
	return sel.Path, ok
}

// BestMatch returns the enabled flow whose path (or channel) selector matches the request and is
// the longest. Ties resolve to declaration order. Returns nil if no flow matches.
func BestMatch(req *Request, flows []definition.Flow) *definition.Flow {
	var best *definition.Flow
	bestLen := -1
	for i := range flows {
		flow := &flows[i]
		if !flow.Enabled {
			continue
		}

		value, ok := selectorValue(flow, req)
		if ok && len(value) > bestLen {
			best = flow
			bestLen = len(value)
		}
	}
	return best
}

// PathParams returns the path parameters bound by the path selectors of flows.
func PathParams(req *Request, flows []*definition.Flow) map[string]string {
	params := make(map[string]string)
	for _, flow := range flows {
		sel := flow.Selector(definition.SelectorHTTP)
		if sel == nil {
			continue
		}
		bound, ok := MatchPath(sel.Path, defaultOperator(sel.PathOperator), req.Path)
		if !ok {
			continue
		}
		for name, value := range bound {
			params[name] = value
		}
	}
	return params
}
