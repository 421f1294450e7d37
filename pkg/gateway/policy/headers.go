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
	"fmt"
	"net/http"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/gateway/chain"
)

// TransformHeadersName is the name of the header transformation policy.
const TransformHeadersName = "transform-headers"

// Header is a header name and value.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// TransformHeadersConfig is the configuration of the header transformation policy.
type TransformHeadersConfig struct {
	AddHeaders    []Header `json:"addHeaders,omitempty"`
	RemoveHeaders []string `json:"removeHeaders,omitempty"`
}

// TransformHeaders sets and removes request or response headers.
type TransformHeaders struct {
	config TransformHeadersConfig
}

// ID of the policy.
func (p *TransformHeaders) ID() string {
	return TransformHeadersName
}

func (p *TransformHeaders) transform(headers http.Header) {
	for _, name := range p.config.RemoveHeaders {
		headers.Del(name)
	}
	for _, header := range p.config.AddHeaders {
		headers.Set(header.Name, header.Value)
	}
}

// OnRequest transforms the request headers.
func (p *TransformHeaders) OnRequest(_ context.Context, ec *chain.ExecutionContext) error {
	p.transform(ec.Request.Header)
	return nil
}

// OnResponse transforms the response headers.
func (p *TransformHeaders) OnResponse(_ context.Context, ec *chain.ExecutionContext) error {
	if ec.Response == nil {
		return fmt.Errorf("no response")
	}
	p.transform(ec.Response.Header)
	return nil
}

// NewTransformHeaders returns a new header transformation policy.
func NewTransformHeaders(config json.RawMessage) (chain.Policy, error) {
	p := &TransformHeaders{}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &p.config); err != nil {
			return nil, err
		}
	}

	for _, header := range p.config.AddHeaders {
		if header.Name == "" {
			return nil, fmt.Errorf("header name is required")
		}
	}
	return p, nil
}
