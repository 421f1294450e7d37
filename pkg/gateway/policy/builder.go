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
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/definition"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/gateway/chain"
)

// SharedPolicyGroupName is the name of the policy expanding into the steps of a shared policy group.
const SharedPolicyGroupName = "shared-policy-group-policy"

// SharedPolicyGroups looks up deployed shared policy groups.
type SharedPolicyGroups interface {
	Get(id string) (*definition.SharedPolicyGroup, bool)
}

// Builder compiles flow steps into chain steps.
type Builder struct {
	policies *Registry
	groups   SharedPolicyGroups

	logger *logrus.Entry
}

// chainPhase returns the chain phase running the steps of a flow phase.
// Published messages run as requests, subscribed messages as responses.
func chainPhase(phase definition.Phase) definition.Phase {
	switch phase {
	case definition.PhaseResponse, definition.PhaseSubscribe:
		return definition.PhaseResponse
	default:
		return definition.PhaseRequest
	}
}

func groupID(step *definition.Step) string {
	if step.SharedPolicyGroupID != "" {
		return step.SharedPolicyGroupID
	}

	var config struct {
		SharedPolicyGroupID string `json:"sharedPolicyGroupId"`
	}
	if len(step.Configuration) > 0 && json.Unmarshal(step.Configuration, &config) == nil {
		return config.SharedPolicyGroupID
	}
	return ""
}

func joinConditions(outer, inner string) string {
	switch {
	case outer == "":
		return inner
	case inner == "":
		return outer
	default:
		return fmt.Sprintf("(%s) && (%s)", outer, inner)
	}
}

// FlowSteps compiles the steps of every phase of a flow, request phases first.
func (b *Builder) FlowSteps(scope string, flow *definition.Flow) ([]*chain.Step, error) {
	var steps []*chain.Step
	for _, phase := range []definition.Phase{
		definition.PhaseRequest, definition.PhasePublish, definition.PhaseResponse, definition.PhaseSubscribe,
	} {
		prefix := fmt.Sprintf("%s/%s/%s", scope, flow.DisplayName(), phase)
		phaseSteps, err := b.Steps(prefix, phase, flow.Steps(phase), "")
		if err != nil {
			return nil, err
		}
		steps = append(steps, phaseSteps...)
	}
	return steps, nil
}

// Steps compiles the steps of a flow phase. Disabled steps are left out.
func (b *Builder) Steps(prefix string, phase definition.Phase, defs []definition.Step, condition string) ([]*chain.Step, error) {
	steps := make([]*chain.Step, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		if !def.Enabled {
			continue
		}

		id := fmt.Sprintf("%s/%d:%s", prefix, i, def.Policy)
		stepCondition := joinConditions(condition, def.Condition)

		if def.Policy == SharedPolicyGroupName {
			expanded, err := b.expand(id, phase, def, stepCondition)
			if err != nil {
				return nil, err
			}
			steps = append(steps, expanded...)
			continue
		}

		policy, err := b.policies.Create(def.Policy, def.Configuration)
		if err != nil {
			return nil, fmt.Errorf("step '%s': %w", id, err)
		}

		step := chain.NewStep(id, policy, chain.WithPhases(chainPhase(phase)), chain.WithCondition(stepCondition))
		if !step.HandlesRequest() && !step.HandlesResponse() {
			return nil, fmt.Errorf("step '%s': policy '%s' does not support the %s phase", id, def.Policy, phase)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func (b *Builder) expand(id string, phase definition.Phase, def *definition.Step, condition string) ([]*chain.Step, error) {
	gid := groupID(def)
	group, ok := b.groups.Get(gid)
	if !ok {
		b.logger.Warnf("Shared policy group '%s' of step '%s' is not deployed, skipping.", gid, id)
		return nil, nil
	}

	if group.Phase != "" && group.Phase != phase {
		b.logger.Warnf("Shared policy group '%s' is for the %s phase, skipping in %s phase.", gid, group.Phase, phase)
		return nil, nil
	}

	// nested groups are not expanded
	nested := make([]definition.Step, 0, len(group.Steps))
	for _, step := range group.Steps {
		if step.Policy == SharedPolicyGroupName {
			b.logger.Warnf("Ignoring nested shared policy group in group '%s'.", gid)
			continue
		}
		nested = append(nested, step)
	}

	return b.Steps(id+"/"+gid, phase, nested, condition)
}

// SharedPolicyGroupRefs returns the ids of the shared policy groups referenced by flows.
func SharedPolicyGroupRefs(flows []definition.Flow) sets.Set[string] {
	refs := sets.New[string]()
	for i := range flows {
		for _, phase := range []definition.Phase{
			definition.PhaseRequest, definition.PhaseResponse, definition.PhaseSubscribe, definition.PhasePublish,
		} {
			for _, step := range flows[i].Steps(phase) {
				if step.Policy == SharedPolicyGroupName {
					refs.Insert(groupID(&step))
				}
			}
		}
	}
	return refs
}

// NewBuilder returns a new step builder.
func NewBuilder(policies *Registry, groups SharedPolicyGroups) *Builder {
	return &Builder{
		policies: policies,
		groups:   groups,
		logger:   logrus.WithField("component", "gateway.policy.builder"),
	}
}
