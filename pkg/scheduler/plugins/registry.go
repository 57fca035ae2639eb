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

package plugins

import (
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/framework"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/plugins/availabilityzone"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/plugins/capacity"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/plugins/ioops"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/plugins/numatopology"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/plugins/numinstances"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/plugins/pcipassthrough"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/plugins/retry"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/plugins/servergroup"
)

// NewInTreeRegistry builds the registry with all in-tree filters and weighers.
func NewInTreeRegistry() *framework.Registry {
	return &framework.Registry{
		Filters: map[string]framework.FilterFactory{
			retry.Name:                         retry.New,
			availabilityzone.Name:              availabilityzone.New,
			capacity.RAMFilterName:             capacity.NewRAMFilter,
			capacity.CoreFilterName:            capacity.NewCoreFilter,
			capacity.DiskFilterName:            capacity.NewDiskFilter,
			numinstances.Name:                  numinstances.New,
			numinstances.AggregateName:         numinstances.NewAggregate,
			ioops.Name:                         ioops.New,
			ioops.AggregateName:                ioops.NewAggregate,
			pcipassthrough.Name:                pcipassthrough.New,
			numatopology.Name:                  numatopology.New,
			servergroup.AffinityFilterName:     servergroup.NewAffinityFilter,
			servergroup.AntiAffinityFilterName: servergroup.NewAntiAffinityFilter,
		},
		Weighers: map[string]framework.WeigherFactory{
			capacity.RAMWeigherName:                 capacity.NewRAMWeigher,
			capacity.CPUWeigherName:                 capacity.NewCPUWeigher,
			capacity.DiskWeigherName:                capacity.NewDiskWeigher,
			ioops.WeigherName:                       ioops.NewWeigher,
			pcipassthrough.WeigherName:              pcipassthrough.NewWeigher,
			servergroup.SoftAffinityWeigherName:     servergroup.NewSoftAffinityWeigher,
			servergroup.SoftAntiAffinityWeigherName: servergroup.NewSoftAntiAffinityWeigher,
		},
	}
}
