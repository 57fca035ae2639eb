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
	DiskFilterName  = "DiskFilter"
	DiskWeigherName = "DiskWeigher"
)

var (
	_ framework.FilterPlugin  = &DiskFilter{}
	_ framework.WeigherPlugin = &DiskWeigher{}
)

// DiskFilter admits root, ephemeral and swap disk against total local disk times the
// disk allocation ratio, minus what is already used.
type DiskFilter struct{}

func NewDiskFilter(_ framework.Handle) (framework.FilterPlugin, error) {
	return &DiskFilter{}, nil
}

func (pl *DiskFilter) Name() string { return DiskFilterName }

func (pl *DiskFilter) MissingDataPolicy() framework.MissingDataPolicy {
	return framework.ExcludeOnMissingData
}

func (pl *DiskFilter) Filter(ctx context.Context, _ *framework.CycleState, spec *v1alpha1.RequestSpec, host *hoststate.HostState) *framework.Status {
	requested := spec.Flavor.DiskMB()
	totalMB := host.TotalUsableDiskGB * 1024
	limitMB := float64(totalMB) * host.DiskAllocationRatio
	usable := limitMB - float64(totalMB-host.FreeDiskMB)
	if usable < float64(requested) {
		return framework.NewStatus(framework.Unschedulable,
			fmt.Sprintf("insufficient disk: requested %dMB, usable %.0fMB", requested, usable))
	}
	host.Limits.DiskGB = limitMB / 1024
	return nil
}

// DiskWeigher scores hosts by free local disk.
type DiskWeigher struct{}

func NewDiskWeigher(_ framework.Handle) (framework.WeigherPlugin, error) {
	return &DiskWeigher{}, nil
}

func (w *DiskWeigher) Name() string { return DiskWeigherName }

func (w *DiskWeigher) Weigh(ctx context.Context, _ *framework.CycleState, _ *v1alpha1.RequestSpec, host *hoststate.HostState) float64 {
	return float64(host.FreeDiskMB)
}
