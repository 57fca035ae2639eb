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

package v1alpha1

// Limits are the oversubscription limits the destination host enforces in its own claim.
// A zero value means unlimited.
type Limits struct {
	VCPUs    float64     `json:"vcpus,omitempty"`
	MemoryMB float64     `json:"memoryMB,omitempty"`
	DiskGB   float64     `json:"diskGB,omitempty"`
	NUMA     *NUMALimits `json:"numa,omitempty"`
}

// NUMALimits are the per-cell oversubscription ratios used while fitting.
type NUMALimits struct {
	CPUAllocationRatio float64 `json:"cpuAllocationRatio"`
	RAMAllocationRatio float64 `json:"ramAllocationRatio"`
}

// InstanceNUMATopology is the guest topology fitted onto host cells.
type InstanceNUMATopology struct {
	Cells []InstanceNUMACell `json:"cells"`
}

// InstanceNUMACell is one guest cell placed on host cell ID.
type InstanceNUMACell struct {
	ID         int   `json:"id"`
	VCPUs      int   `json:"vcpus"`
	MemoryMB   int64 `json:"memoryMB"`
	PageSizeKB int64 `json:"pageSizeKB,omitempty"`
	// PinnedCPUs is a Linux CPU list, e.g. "2-3,10-11". Empty for shared policy.
	PinnedCPUs string `json:"pinnedCPUs,omitempty"`
	// IsolatedCPUs are sibling CPUs reserved but not used by the guest (isolate policy).
	IsolatedCPUs string `json:"isolatedCPUs,omitempty"`
}

// Selection is one placement decision.
type Selection struct {
	Host         string                `json:"host"`
	Node         string                `json:"node"`
	Limits       Limits                `json:"limits"`
	NUMATopology *InstanceNUMATopology `json:"numaTopology,omitempty"`
	// Alternates are other hosts that passed the filters, ordered by weight.
	Alternates []HostNode `json:"alternates,omitempty"`
}
