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

package capacity

import (
	"context"
	"fmt"

	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/framework"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/hoststate"
)

const (
	CoreFilterName = "CoreFilter"
	CPUWeigherName = "CPUWeigher"
)

var (
	_ framework.FilterPlugin  = &CoreFilter{}
	_ framework.WeigherPlugin = &CPUWeigher{}
)

// CoreFilter admits the flavor vCPUs against the physical CPUs times the CPU allocation
// ratio. One instance never gets more vCPUs than the host has physical CPUs.
type CoreFilter struct{}

func NewCoreFilter(_ framework.Handle) (framework.FilterPlugin, error) {
	return &CoreFilter{}, nil
}

func (pl *CoreFilter) Name() string { return CoreFilterName }

// MissingDataPolicy excludes hosts that report no CPU count, nothing else checks vCPUs.
func (pl *CoreFilter) MissingDataPolicy() framework.MissingDataPolicy {
	return framework.ExcludeOnMissingData
}

func (pl *CoreFilter) Filter(ctx context.Context, _ *framework.CycleState, spec *v1alpha1.RequestSpec, host *hoststate.HostState) *framework.Status {
	if host.VCPUsTotal == 0 {
		return framework.NewStatus(framework.MissingData, "host reports no vcpus")
	}
	requested := spec.Flavor.VCPUs
	limit := float64(host.VCPUsTotal) * host.CPUAllocationRatio
	if limit > 0 {
		host.Limits.VCPUs = limit
	}
	if requested > host.VCPUsTotal {
		return framework.NewStatus(framework.Unschedulable,
			fmt.Sprintf("requested %d vcpus, host has %d physical cpus", requested, host.VCPUsTotal))
	}
	if free := limit - host.VCPUsUsed; free < float64(requested) {
		return framework.NewStatus(framework.Unschedulable,
			fmt.Sprintf("insufficient vcpus: requested %d, free %.1f", requested, free))
	}
	return nil
}

// CPUWeigher scores hosts by free vCPUs under the allocation ratio.
type CPUWeigher struct{}

func NewCPUWeigher(_ framework.Handle) (framework.WeigherPlugin, error) {
	return &CPUWeigher{}, nil
}

func (w *CPUWeigher) Name() string { return CPUWeigherName }

func (w *CPUWeigher) Weigh(ctx context.Context, _ *framework.CycleState, _ *v1alpha1.RequestSpec, host *hoststate.HostState) float64 {
	return float64(host.VCPUsTotal)*host.CPUAllocationRatio - host.VCPUsUsed
}
