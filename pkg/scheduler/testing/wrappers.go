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

package testing

import (
	"sort"

	"github.com/koordinator-sh/fleet-scheduler/apis/extension"
	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/hoststate"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/numa"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/pci"
)

// HostWrapper wraps a HostState inside.
type HostWrapper struct {
	hoststate.HostState
	aggregates map[string]map[string]string
}

// MakeHost creates a HostWrapper with plenty of free capacity and unit allocation ratios.
func MakeHost(name string) *HostWrapper {
	return &HostWrapper{
		HostState: hoststate.HostState{
			Host:                name,
			Node:                name,
			VCPUsTotal:          64,
			TotalUsableRAMMB:    256 * 1024,
			FreeRAMMB:           256 * 1024,
			TotalUsableDiskGB:   2048,
			FreeDiskMB:          2048 * 1024,
			CPUAllocationRatio:  1,
			RAMAllocationRatio:  1,
			DiskAllocationRatio: 1,
		},
		aggregates: map[string]map[string]string{},
	}
}

// Obj returns the inner HostState.
func (w *HostWrapper) Obj() *hoststate.HostState {
	h := w.HostState.DeepCopy()
	if len(w.aggregates) > 0 {
		names := make([]string, 0, len(w.aggregates))
		for name := range w.aggregates {
			names = append(names, name)
		}
		sort.Strings(names)
		metadatas := make([]map[string]string, 0, len(names))
		for _, name := range names {
			metadatas = append(metadatas, w.aggregates[name])
		}
		h.Aggregates = names
		h.Metadata = extension.MergeMetadata(metadatas...)
	}
	return h
}

func (w *HostWrapper) Node(node string) *HostWrapper {
	w.HostState.Node = node
	return w
}

func (w *HostWrapper) VCPUs(total int, used float64) *HostWrapper {
	w.VCPUsTotal = total
	w.VCPUsUsed = used
	return w
}

func (w *HostWrapper) RAM(totalMB, freeMB int64) *HostWrapper {
	w.TotalUsableRAMMB = totalMB
	w.FreeRAMMB = freeMB
	return w
}

func (w *HostWrapper) Disk(totalGB, freeMB int64) *HostWrapper {
	w.TotalUsableDiskGB = totalGB
	w.FreeDiskMB = freeMB
	return w
}

func (w *HostWrapper) Ratios(cpu, ram, disk float64) *HostWrapper {
	w.CPUAllocationRatio = cpu
	w.RAMAllocationRatio = ram
	w.DiskAllocationRatio = disk
	return w
}

func (w *HostWrapper) Instances(n int) *HostWrapper {
	w.NumInstances = n
	return w
}

func (w *HostWrapper) IOOps(n int) *HostWrapper {
	w.NumIOOps = n
	return w
}

// Aggregate adds the host to an aggregate carrying metadata.
func (w *HostWrapper) Aggregate(name string, metadata map[string]string) *HostWrapper {
	w.aggregates[name] = metadata
	return w
}

func (w *HostWrapper) NUMA(topology *numa.NUMATopology) *HostWrapper {
	w.NUMATopology = topology
	return w
}

func (w *HostWrapper) PCI(stats *pci.DeviceStats) *HostWrapper {
	w.PCIStats = stats
	return w
}

// MakeDeviceStats builds free device pools: count devices of vendor:product per entry.
func MakeDeviceStats(numaNode *int, devices ...v1alpha1.PCIDevice) *pci.DeviceStats {
	s := pci.NewDeviceStats()
	for i := range devices {
		dev := devices[i]
		if dev.NUMANode == nil {
			dev.NUMANode = numaNode
		}
		s.AddDevice(&dev, nil)
	}
	return s
}

// RequestWrapper wraps a RequestSpec inside.
type RequestWrapper struct {
	v1alpha1.RequestSpec
}

// MakeRequest creates a single instance request of a small flavor.
func MakeRequest() *RequestWrapper {
	return &RequestWrapper{RequestSpec: v1alpha1.RequestSpec{
		RequestID:    "req-test",
		InstanceUUID: "00000000-0000-0000-0000-000000000001",
		Flavor: v1alpha1.Flavor{
			Name:     "m1.small",
			VCPUs:    1,
			MemoryMB: 512,
			RootGB:   1,
		},
		NumInstances: 1,
	}}
}

func (w *RequestWrapper) Obj() *v1alpha1.RequestSpec {
	out := w.RequestSpec
	return &out
}

func (w *RequestWrapper) Flavor(vcpus int, memoryMB, rootGB int64) *RequestWrapper {
	w.RequestSpec.Flavor.VCPUs = vcpus
	w.RequestSpec.Flavor.MemoryMB = memoryMB
	w.RequestSpec.Flavor.RootGB = rootGB
	return w
}

func (w *RequestWrapper) NumInstances(n int) *RequestWrapper {
	w.RequestSpec.NumInstances = n
	return w
}

func (w *RequestWrapper) AvailabilityZone(zone string) *RequestWrapper {
	w.RequestSpec.AvailabilityZone = zone
	return w
}

func (w *RequestWrapper) PCIRequest(count int, specs ...map[string]string) *RequestWrapper {
	w.PCIRequests = append(w.PCIRequests, v1alpha1.InstancePCIRequest{Count: count, Spec: specs})
	return w
}

func (w *RequestWrapper) NUMATopology(req *v1alpha1.NUMATopologyRequest) *RequestWrapper {
	w.RequestSpec.NUMATopology = req
	return w
}

func (w *RequestWrapper) InstanceGroup(group *v1alpha1.InstanceGroup) *RequestWrapper {
	w.RequestSpec.InstanceGroup = group
	return w
}

func (w *RequestWrapper) ForceHosts(hosts ...string) *RequestWrapper {
	w.RequestSpec.ForceHosts = hosts
	return w
}

func (w *RequestWrapper) IgnoreHosts(hosts ...string) *RequestWrapper {
	w.RequestSpec.IgnoreHosts = hosts
	return w
}

func (w *RequestWrapper) Hint(key string, values ...string) *RequestWrapper {
	if w.SchedulerHints == nil {
		w.SchedulerHints = map[string][]string{}
	}
	w.SchedulerHints[key] = values
	return w
}
