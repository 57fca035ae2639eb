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

package numatopology

import (
	"context"

	"k8s.io/klog/v2"

	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/framework"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/hoststate"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/numa"
)

const (
	Name = "NUMATopologyFilter"
)

var _ framework.FilterPlugin = &Plugin{}

// Plugin fits the guest NUMA topology of the request onto the host cells. The fit
// found for a host is kept in the cycle state and claimed if the host is selected.
type Plugin struct{}

func New(_ framework.Handle) (framework.FilterPlugin, error) {
	return &Plugin{}, nil
}

func (pl *Plugin) Name() string { return Name }

// MissingDataPolicy excludes hosts without a NUMA topology when the request needs one.
func (pl *Plugin) MissingDataPolicy() framework.MissingDataPolicy {
	return framework.ExcludeOnMissingData
}

func (pl *Plugin) Filter(ctx context.Context, cycleState *framework.CycleState, spec *v1alpha1.RequestSpec, host *hoststate.HostState) *framework.Status {
	if spec.NUMATopology == nil {
		return nil
	}
	if host.NUMATopology == nil {
		return framework.NewStatus(framework.MissingData, "host has no NUMA topology")
	}

	limits := &v1alpha1.NUMALimits{
		CPUAllocationRatio: host.CPUAllocationRatio,
		RAMAllocationRatio: host.RAMAllocationRatio,
	}
	opts := numa.FitOptions{Limits: limits}
	if len(spec.PCIRequests) > 0 && host.PCIStats != nil {
		opts.CellsAllowed = func(cellIDs []int) bool {
			return host.PCIStats.SupportRequestsOnCells(spec.PCIRequests, cellIDs)
		}
	}

	fit, err := numa.FitInstanceToHost(host.NUMATopology, spec.NUMATopology, &spec.Flavor, opts)
	if err != nil {
		klog.V(4).InfoS("Instance does not fit host NUMA topology", "requestID", cycleState.RequestID, "host", host.Key(), "err", err)
		return framework.NewStatus(framework.Unschedulable, err.Error())
	}
	host.Limits.NUMA = limits
	cycleState.SetNUMAFit(host.Key(), fit)
	return nil
}
