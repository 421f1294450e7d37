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

package endpoint

import (
	"math/rand"
	"sync/atomic"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/definition"
)

// Strategy picks one of a non-empty list of endpoints.
type Strategy interface {
	Next(endpoints []*Endpoint) *Endpoint
}

// RoundRobin cycles over the endpoints.
type RoundRobin struct {
	counter atomic.Uint32
}

// Next endpoint.
func (s *RoundRobin) Next(endpoints []*Endpoint) *Endpoint {
	n := s.counter.Add(1) - 1
	return endpoints[int(n%uint32(len(endpoints)))]
}

// Random picks a uniformly random endpoint.
type Random struct{}

// Next endpoint.
func (s *Random) Next(endpoints []*Endpoint) *Endpoint {
	return endpoints[rand.Intn(len(endpoints))] //nolint:gosec // G404: use of weak random is fine for load balancing
}

func totalWeight(endpoints []*Endpoint) int {
	total := 0
	for _, e := range endpoints {
		total += e.Weight()
	}
	return total
}

func pickWeighted(endpoints []*Endpoint, position int) *Endpoint {
	for _, e := range endpoints {
		if position < e.Weight() {
			return e
		}
		position -= e.Weight()
	}
	return endpoints[len(endpoints)-1]
}

// WeightedRoundRobin cycles over the endpoints, picking each as many times as its weight.
type WeightedRoundRobin struct {
	counter atomic.Uint32
}

// Next endpoint.
func (s *WeightedRoundRobin) Next(endpoints []*Endpoint) *Endpoint {
	n := s.counter.Add(1) - 1
	return pickWeighted(endpoints, int(n%uint32(totalWeight(endpoints))))
}

// WeightedRandom picks a random endpoint with a probability proportional to its weight.
type WeightedRandom struct{}

// Next endpoint.
func (s *WeightedRandom) Next(endpoints []*Endpoint) *Endpoint {
	return pickWeighted(endpoints, rand.Intn(totalWeight(endpoints))) //nolint:gosec // G404: use of weak random is fine for load balancing
}

// NewStrategy returns the strategy of a load-balancer type, round-robin by default.
func NewStrategy(lbType definition.LoadBalancerType) Strategy {
	switch lbType {
	case definition.LoadBalancerRandom:
		return &Random{}
	case definition.LoadBalancerWeightedRoundRobin:
		return &WeightedRoundRobin{}
	case definition.LoadBalancerWeightedRandom:
		return &WeightedRandom{}
	default:
		return &RoundRobin{}
	}
}
