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

package hoststate

import (
	"fmt"
	"sort"
	"strconv"

	"k8s.io/klog/v2"
	"k8s.io/utils/cpuset"

	"github.com/koordinator-sh/fleet-scheduler/apis/extension"
	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/numa"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/pci"
	"github.com/koordinator-sh/fleet-scheduler/pkg/util/validator"
)

// Defaults fill in what a capability report leaves unset.
type Defaults struct {
	CPUAllocationRatio   float64
	RAMAllocationRatio   float64
	DiskAllocationRatio  float64
	ReservedHostMemoryMB int64
	ReservedHostDiskMB   int64
}

// NewHostStateFromReport translates a capability report into a HostState. Only devices
// admitted by the whitelist and available for assignment enter the PCI pools.
func NewHostStateFromReport(report *v1alpha1.HostCapabilityReport, whitelist *pci.Whitelist, defaults Defaults) (*HostState, error) {
	if err := validator.GetValidatorInstance().Validate(report); err != nil {
		return nil, fmt.Errorf("invalid capability report of host %q: %w", report.Host, err)
	}

	h := &HostState{
		Host:              report.Host,
		Node:              report.Node,
		VCPUsTotal:        report.VCPUs,
		VCPUsUsed:         report.VCPUsUsed,
		TotalUsableRAMMB:  report.MemoryMB,
		FreeRAMMB:         report.MemoryMB - report.MemoryMBUsed - defaults.ReservedHostMemoryMB,
		TotalUsableDiskGB: report.LocalGB,
		FreeDiskMB:        (report.LocalGB-report.LocalGBUsed)*1024 - defaults.ReservedHostDiskMB,
		NumInstances:      report.NumInstances,
		NumIOOps:          report.NumIOOps,
		UpdatedAt:         report.UpdatedAt.Time,
	}
	if h.Node == "" {
		h.Node = h.Host
	}

	var metadatas []map[string]string
	for _, agg := range report.Aggregates {
		h.Aggregates = append(h.Aggregates, agg.Name)
		metadatas = append(metadatas, agg.Metadata)
	}
	sort.Strings(h.Aggregates)
	h.Metadata = extension.MergeMetadata(metadatas...)
	if len(report.Stats) > 0 {
		h.Stats = make(map[string]string, len(report.Stats))
		for k, v := range report.Stats {
			h.Stats[k] = v
		}
	}

	if h.NumIOOps == 0 {
		h.NumIOOps = statInt(h, extension.StatNumIOOps)
	}
	if h.NumInstances == 0 {
		h.NumInstances = statInt(h, extension.StatNumInstances)
	}

	h.CPUAllocationRatio = allocationRatio(h, extension.AggregateCPUAllocationRatio, report.CPUAllocationRatio, defaults.CPUAllocationRatio)
	h.RAMAllocationRatio = allocationRatio(h, extension.AggregateRAMAllocationRatio, report.RAMAllocationRatio, defaults.RAMAllocationRatio)
	h.DiskAllocationRatio = allocationRatio(h, extension.AggregateDiskAllocationRatio, report.DiskAllocationRatio, defaults.DiskAllocationRatio)

	if report.NUMATopology != nil {
		topology, err := NUMATopologyFromReport(report.NUMATopology)
		if err != nil {
			return nil, fmt.Errorf("invalid NUMA topology of host %q: %w", report.Host, err)
		}
		h.NUMATopology = topology
	}

	if report.PCIDevices != nil {
		h.PCIStats = DeviceStatsFromReport(report.PCIDevices, whitelist)
	}
	return h, nil
}

// allocationRatio prefers aggregate metadata, then the host report, then the scheduler default.
func allocationRatio(h *HostState, key string, reported, def float64) float64 {
	v, found, err := extension.GetMetadataFloat(h.Metadata, key)
	if err != nil {
		klog.V(4).InfoS("Ignoring invalid aggregate allocation ratio", "host", h.Host, "key", key, "err", err)
	} else if found && v > 0 {
		return v
	}
	if reported > 0 {
		return reported
	}
	return def
}

// statInt reads a counter from the free-form stats of older reporters.
func statInt(h *HostState, key string) int {
	raw, ok := h.Stats[key]
	if !ok {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		klog.V(4).InfoS("Ignoring invalid host stat", "host", h.Host, "key", key, "value", raw)
		return 0
	}
	return v
}

// NUMATopologyFromReport parses the CPU lists of a reported topology.
func NUMATopologyFromReport(report *v1alpha1.NUMATopologyReport) (*numa.NUMATopology, error) {
	topology := &numa.NUMATopology{}
	seen := map[int]bool{}
	for _, rc := range report.Cells {
		if seen[rc.ID] {
			return nil, fmt.Errorf("duplicated cell %d", rc.ID)
		}
		seen[rc.ID] = true

		cpus, err := cpuset.Parse(rc.CPUSet)
		if err != nil {
			return nil, fmt.Errorf("cell %d: invalid cpuset %q: %w", rc.ID, rc.CPUSet, err)
		}
		pinned, err := cpuset.Parse(rc.PinnedCPUs)
		if err != nil {
			return nil, fmt.Errorf("cell %d: invalid pinned cpus %q: %w", rc.ID, rc.PinnedCPUs, err)
		}
		if !pinned.IsSubsetOf(cpus) {
			return nil, fmt.Errorf("cell %d: pinned cpus %s are not a subset of %s", rc.ID, pinned, cpus)
		}

		covered := cpuset.New()
		siblings := make([]cpuset.CPUSet, 0, len(rc.Siblings))
		for _, s := range rc.Siblings {
			sib, err := cpuset.Parse(s)
			if err != nil {
				return nil, fmt.Errorf("cell %d: invalid siblings %q: %w", rc.ID, s, err)
			}
			if !covered.Intersection(sib).IsEmpty() {
				return nil, fmt.Errorf("cell %d: sibling sets overlap on %s", rc.ID, covered.Intersection(sib))
			}
			covered = covered.Union(sib)
			siblings = append(siblings, sib)
		}

		pages := make([]numa.MemPage, 0, len(rc.MemPages))
		for _, p := range rc.MemPages {
			pages = append(pages, numa.MemPage{SizeKB: p.SizeKB, Total: p.Total, Used: p.Used})
		}

		cell := numa.NewNUMACell(rc.ID, cpus, rc.MemoryMB, siblings, pages)
		cell.PinnedCPUs = pinned
		cell.CPUUsage = rc.CPUUsage
		cell.MemoryUsageMB = rc.MemoryUsageMB
		topology.Cells = append(topology.Cells, cell)
	}
	sort.Slice(topology.Cells, func(i, j int) bool { return topology.Cells[i].ID < topology.Cells[j].ID })
	return topology, nil
}

// DeviceStatsFromReport pools the assignable free devices of a host.
func DeviceStatsFromReport(devices []v1alpha1.PCIDevice, whitelist *pci.Whitelist) *pci.DeviceStats {
	stats := pci.NewDeviceStats()
	for i := range devices {
		dev := &devices[i]
		if dev.Status != "" && dev.Status != v1alpha1.PCIDeviceAvailable {
			continue
		}
		spec := whitelist.MatchingSpec(dev)
		if spec == nil {
			continue
		}
		stats.AddDevice(dev, spec.Tags)
	}
	return stats
}
