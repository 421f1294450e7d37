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

package policy

import (
	"context"
	"encoding/json"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/gateway/chain"
)

// AssignAttributesName is the name of the attribute assignment policy.
const AssignAttributesName = "policy-assign-attributes"

// AssignAttributes sets execution context attributes, for use by later conditions.
type AssignAttributes struct {
	attributes map[string]string
}

// ID of the policy.
func (p *AssignAttributes) ID() string {
	return AssignAttributesName
}

// OnRequest assigns the attributes.
func (p *AssignAttributes) OnRequest(_ context.Context, ec *chain.ExecutionContext) error {
	for name, value := range p.attributes {
		ec.Attributes[name] = value
	}
	return nil
}

// NewAssignAttributes returns a new attribute assignment policy.
func NewAssignAttributes(config json.RawMessage) (chain.Policy, error) {
	var decoded struct {
		Attributes []Header `json:"attributes"`
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &decoded); err != nil {
			return nil, err
		}
	}

	p := &AssignAttributes{attributes: make(map[string]string, len(decoded.Attributes))}
	for _, attr := range decoded.Attributes {
		p.attributes[attr.Name] = attr.Value
	}
	return p, nil
}
