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

package pcipassthrough

import (
	"context"

	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/framework"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/hoststate"
)

const (
	Name        = "PciPassthroughFilter"
	WeigherName = "PCIWeigher"
)

var (
	_ framework.FilterPlugin  = &Plugin{}
	_ framework.WeigherPlugin = &Weigher{}
)

// Plugin keeps the hosts whose free device pools satisfy all PCI requests together.
type Plugin struct{}

func New(_ framework.Handle) (framework.FilterPlugin, error) {
	return &Plugin{}, nil
}

func (pl *Plugin) Name() string { return Name }

// MissingDataPolicy excludes hosts that report no PCI accounting while devices are requested.
func (pl *Plugin) MissingDataPolicy() framework.MissingDataPolicy {
	return framework.ExcludeOnMissingData
}

func (pl *Plugin) Filter(ctx context.Context, _ *framework.CycleState, spec *v1alpha1.RequestSpec, host *hoststate.HostState) *framework.Status {
	if len(spec.PCIRequests) == 0 {
		return nil
	}
	if host.PCIStats == nil {
		return framework.NewStatus(framework.MissingData, "host reports no PCI devices")
	}
	if !host.PCIStats.SupportRequests(spec.PCIRequests) {
		return framework.NewStatus(framework.Unschedulable, "insufficient free PCI devices")
	}
	return nil
}

// Weigher prefers hosts with many free devices for requests that need devices, and
// keeps requests without devices away from hosts that have them.
type Weigher struct{}

func NewWeigher(_ framework.Handle) (framework.WeigherPlugin, error) {
	return &Weigher{}, nil
}

func (w *Weigher) Name() string { return WeigherName }

func (w *Weigher) Weigh(ctx context.Context, _ *framework.CycleState, spec *v1alpha1.RequestSpec, host *hoststate.HostState) float64 {
	free := float64(host.PCIStats.FreeCount())
	if len(spec.PCIRequests) > 0 {
		return free
	}
	return -free
}
