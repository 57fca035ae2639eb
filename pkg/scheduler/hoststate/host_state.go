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
	"time"

	"github.com/mohae/deepcopy"

	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/numa"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/pci"
)

// HostState is the resource view of one compute node used for one scheduling pass.
// Scheduling passes only ever see deep copies, so a pass may mutate its HostStates freely.
type HostState struct {
	Host string
	Node string

	VCPUsTotal        int
	VCPUsUsed         float64
	TotalUsableRAMMB  int64
	FreeRAMMB         int64
	TotalUsableDiskGB int64
	FreeDiskMB        int64

	CPUAllocationRatio  float64
	RAMAllocationRatio  float64
	DiskAllocationRatio float64

	NumInstances int
	NumIOOps     int

	// NUMATopology is nil when the host did not report one.
	NUMATopology *numa.NUMATopology
	// PCIStats is nil when the host did not report PCI accounting data.
	PCIStats *pci.DeviceStats

	// Aggregates are the names of the aggregates the host belongs to.
	Aggregates []string
	// Metadata is the merged aggregate metadata; values may be comma separated lists.
	Metadata map[string]string
	Stats    map[string]string

	UpdatedAt time.Time

	// Limits are recorded by the resource filters during a pass.
	Limits v1alpha1.Limits
}

func (h *HostState) String() string {
	return fmt.Sprintf("(%s, %s) ram: %dMB disk: %dMB io_ops: %d instances: %d",
		h.Host, h.Node, h.FreeRAMMB, h.FreeDiskMB, h.NumIOOps, h.NumInstances)
}

// HostNode returns the identity of the host.
func (h *HostState) HostNode() v1alpha1.HostNode {
	return v1alpha1.HostNode{Host: h.Host, Node: h.Node}
}

// Key returns the snapshot key of the host.
func (h *HostState) Key() string {
	return hostKey(h.Host, h.Node)
}

func hostKey(host, node string) string {
	if node == "" || node == host {
		return host
	}
	return host + "/" + node
}

// DeepCopy returns a HostState sharing no mutable state with h.
func (h *HostState) DeepCopy() *HostState {
	if h == nil {
		return nil
	}
	out := *h
	out.NUMATopology = h.NUMATopology.Clone()
	out.PCIStats = h.PCIStats.Clone()
	if h.Aggregates != nil {
		out.Aggregates = deepcopy.Copy(h.Aggregates).([]string)
	}
	if h.Metadata != nil {
		out.Metadata = deepcopy.Copy(h.Metadata).(map[string]string)
	}
	if h.Stats != nil {
		out.Stats = deepcopy.Copy(h.Stats).(map[string]string)
	}
	if h.Limits.NUMA != nil {
		l := *h.Limits.NUMA
		out.Limits.NUMA = &l
	}
	return &out
}

// Consume tentatively applies the claim of one instance of spec, so that later instances
// of the same batch see the reduced capacity. fit is the NUMA fit chosen for this host and
// may be nil. The host is unchanged when the NUMA or PCI claim fails.
func (h *HostState) Consume(spec *v1alpha1.RequestSpec, fit *numa.InstanceFit) error {
	var topology *numa.NUMATopology
	var cells []int
	if fit != nil {
		if h.NUMATopology == nil {
			return fmt.Errorf("host %s has no NUMA topology to claim on", h.Host)
		}
		topology = h.NUMATopology.Clone()
		if err := topology.ApplyInstance(fit); err != nil {
			return fmt.Errorf("failed to claim NUMA resources on host %s: %w", h.Host, err)
		}
		cells = fit.CellIDs()
	}

	var stats *pci.DeviceStats
	if len(spec.PCIRequests) > 0 {
		stats = h.PCIStats.Clone()
		if err := stats.ApplyRequests(spec.PCIRequests, cells); err != nil {
			return fmt.Errorf("failed to claim PCI devices on host %s: %w", h.Host, err)
		}
	}

	if topology != nil {
		h.NUMATopology = topology
	}
	if stats != nil {
		h.PCIStats = stats
	}
	h.FreeRAMMB -= spec.Flavor.MemoryMB
	h.FreeDiskMB -= spec.Flavor.DiskMB()
	h.VCPUsUsed += float64(spec.Flavor.VCPUs)
	h.NumInstances++
	h.NumIOOps++
	h.UpdatedAt = nowFunc()
	return nil
}

var nowFunc = time.Now
