/*
Copyright 2022 The Koordinator Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package servergroup

import (
	"context"
	"fmt"

	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/framework"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/hoststate"
)

const (
	AffinityFilterName          = "ServerGroupAffinityFilter"
	AntiAffinityFilterName      = "ServerGroupAntiAffinityFilter"
	SoftAffinityWeigherName     = "ServerGroupSoftAffinityWeigher"
	SoftAntiAffinityWeigherName = "ServerGroupSoftAntiAffinityWeigher"
)

var (
	_ framework.FilterPlugin  = &AffinityFilter{}
	_ framework.FilterPlugin  = &AntiAffinityFilter{}
	_ framework.WeigherPlugin = &SoftAffinityWeigher{}
	_ framework.WeigherPlugin = &SoftAntiAffinityWeigher{}
)

// membersOn counts the group members already running on host.
func membersOn(group *v1alpha1.InstanceGroup, host string) int {
	var n int
	for _, h := range group.Hosts {
		if h == host {
			n++
		}
	}
	return n
}

func hasPolicy(spec *v1alpha1.RequestSpec, policy v1alpha1.InstanceGroupPolicy) bool {
	return spec.InstanceGroup != nil && spec.InstanceGroup.Policy == policy
}

// AffinityFilter keeps the members of an affinity group on the hosts the group already uses.
// The first member may go anywhere.
type AffinityFilter struct{}

func NewAffinityFilter(_ framework.Handle) (framework.FilterPlugin, error) {
	return &AffinityFilter{}, nil
}

func (pl *AffinityFilter) Name() string { return AffinityFilterName }

func (pl *AffinityFilter) MissingDataPolicy() framework.MissingDataPolicy {
	return framework.ExcludeOnMissingData
}

func (pl *AffinityFilter) Filter(ctx context.Context, _ *framework.CycleState, spec *v1alpha1.RequestSpec, host *hoststate.HostState) *framework.Status {
	if !hasPolicy(spec, v1alpha1.InstanceGroupPolicyAffinity) || len(spec.InstanceGroup.Hosts) == 0 {
		return nil
	}
	if membersOn(spec.InstanceGroup, host.Host) > 0 {
		return nil
	}
	return framework.NewStatus(framework.Unschedulable,
		fmt.Sprintf("host runs no member of affinity group %s", spec.InstanceGroup.UUID))
}

// AntiAffinityFilter bounds the members of an anti-affinity group per host.
type AntiAffinityFilter struct{}

func NewAntiAffinityFilter(_ framework.Handle) (framework.FilterPlugin, error) {
	return &AntiAffinityFilter{}, nil
}

func (pl *AntiAffinityFilter) Name() string { return AntiAffinityFilterName }

func (pl *AntiAffinityFilter) MissingDataPolicy() framework.MissingDataPolicy {
	return framework.ExcludeOnMissingData
}

func (pl *AntiAffinityFilter) Filter(ctx context.Context, _ *framework.CycleState, spec *v1alpha1.RequestSpec, host *hoststate.HostState) *framework.Status {
	if !hasPolicy(spec, v1alpha1.InstanceGroupPolicyAntiAffinity) {
		return nil
	}
	maxPerHost := spec.InstanceGroup.MaxServerPerHost
	if maxPerHost <= 0 {
		maxPerHost = 1
	}
	if n := membersOn(spec.InstanceGroup, host.Host); n >= maxPerHost {
		return framework.NewStatus(framework.Unschedulable,
			fmt.Sprintf("host runs %d members of anti-affinity group %s, limit is %d", n, spec.InstanceGroup.UUID, maxPerHost))
	}
	return nil
}

// SoftAffinityWeigher prefers hosts running many members of a soft-affinity group.
type SoftAffinityWeigher struct{}

func NewSoftAffinityWeigher(_ framework.Handle) (framework.WeigherPlugin, error) {
	return &SoftAffinityWeigher{}, nil
}

func (w *SoftAffinityWeigher) Name() string { return SoftAffinityWeigherName }

func (w *SoftAffinityWeigher) Weigh(ctx context.Context, _ *framework.CycleState, spec *v1alpha1.RequestSpec, host *hoststate.HostState) float64 {
	if !hasPolicy(spec, v1alpha1.InstanceGroupPolicySoftAffinity) {
		return 0
	}
	return float64(membersOn(spec.InstanceGroup, host.Host))
}

// SoftAntiAffinityWeigher prefers hosts running few members of a soft-anti-affinity group.
type SoftAntiAffinityWeigher struct{}

func NewSoftAntiAffinityWeigher(_ framework.Handle) (framework.WeigherPlugin, error) {
	return &SoftAntiAffinityWeigher{}, nil
}

func (w *SoftAntiAffinityWeigher) Name() string { return SoftAntiAffinityWeigherName }

func (w *SoftAntiAffinityWeigher) Weigh(ctx context.Context, _ *framework.CycleState, spec *v1alpha1.RequestSpec, host *hoststate.HostState) float64 {
	if !hasPolicy(spec, v1alpha1.InstanceGroupPolicySoftAntiAffinity) {
		return 0
	}
	return -float64(membersOn(spec.InstanceGroup, host.Host))
}
