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
	RAMFilterName  = "RamFilter"
	RAMWeigherName = "RAMWeigher"
)

var (
	_ framework.FilterPlugin  = &RAMFilter{}
	_ framework.WeigherPlugin = &RAMWeigher{}
)

// RAMFilter admits the flavor memory against total memory times the RAM allocation
// ratio, minus what is already used. The oversubscribed total becomes the memory limit.
type RAMFilter struct{}

func NewRAMFilter(_ framework.Handle) (framework.FilterPlugin, error) {
	return &RAMFilter{}, nil
}

func (pl *RAMFilter) Name() string { return RAMFilterName }

func (pl *RAMFilter) MissingDataPolicy() framework.MissingDataPolicy {
	return framework.ExcludeOnMissingData
}

func (pl *RAMFilter) Filter(ctx context.Context, _ *framework.CycleState, spec *v1alpha1.RequestSpec, host *hoststate.HostState) *framework.Status {
	requested := spec.Flavor.MemoryMB
	limit := float64(host.TotalUsableRAMMB) * host.RAMAllocationRatio
	used := float64(host.TotalUsableRAMMB - host.FreeRAMMB)
	usable := limit - used
	if usable < float64(requested) {
		return framework.NewStatus(framework.Unschedulable,
			fmt.Sprintf("insufficient RAM: requested %dMB, usable %.0fMB", requested, usable))
	}
	host.Limits.MemoryMB = limit
	return nil
}

// RAMWeigher scores hosts by free memory, spreading instances by default.
type RAMWeigher struct{}

func NewRAMWeigher(_ framework.Handle) (framework.WeigherPlugin, error) {
	return &RAMWeigher{}, nil
}

func (w *RAMWeigher) Name() string { return RAMWeigherName }

func (w *RAMWeigher) Weigh(ctx context.Context, _ *framework.CycleState, _ *v1alpha1.RequestSpec, host *hoststate.HostState) float64 {
	return float64(host.FreeRAMMB)
}
