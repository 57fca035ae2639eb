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

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// HostCapabilityReport is the periodic capability report of one compute host.
// The scheduler treats the latest report of a host as ground truth.
type HostCapabilityReport struct {
	Host string `json:"host" validate:"required"`
	// Node is the hypervisor node name. Defaults to Host.
	Node string `json:"node,omitempty"`

	VCPUs        int     `json:"vcpus" validate:"gte=0"`
	VCPUsUsed    float64 `json:"vcpusUsed,omitempty" validate:"gte=0"`
	MemoryMB     int64   `json:"memoryMB" validate:"gte=0"`
	MemoryMBUsed int64   `json:"memoryMBUsed,omitempty" validate:"gte=0"`
	LocalGB      int64   `json:"localGB" validate:"gte=0"`
	LocalGBUsed  int64   `json:"localGBUsed,omitempty" validate:"gte=0"`

	// Allocation ratios reported by the host. Zero means the scheduler default.
	CPUAllocationRatio  float64 `json:"cpuAllocationRatio,omitempty" validate:"gte=0"`
	RAMAllocationRatio  float64 `json:"ramAllocationRatio,omitempty" validate:"gte=0"`
	DiskAllocationRatio float64 `json:"diskAllocationRatio,omitempty" validate:"gte=0"`

	NumInstances int `json:"numInstances" validate:"gte=0"`
	NumIOOps     int `json:"numIOOps,omitempty" validate:"gte=0"`

	NUMATopology *NUMATopologyReport `json:"numaTopology,omitempty"`
	PCIDevices   []PCIDevice         `json:"pciDevices,omitempty" validate:"dive"`
	Aggregates   []Aggregate         `json:"aggregates,omitempty" validate:"dive"`
	Stats        map[string]string   `json:"stats,omitempty"`

	UpdatedAt metav1.Time `json:"updatedAt,omitempty"`
}

// NUMATopologyReport is the host NUMA layout.
type NUMATopologyReport struct {
	Cells []NUMACellReport `json:"cells" validate:"dive"`
}

// NUMACellReport is one host NUMA cell. CPU sets use the Linux CPU list format.
type NUMACellReport struct {
	ID            int    `json:"id" validate:"gte=0"`
	CPUSet        string `json:"cpuset" validate:"required"`
	MemoryMB      int64  `json:"memoryMB" validate:"gte=0"`
	CPUUsage      int    `json:"cpuUsage,omitempty" validate:"gte=0"`
	MemoryUsageMB int64  `json:"memoryUsageMB,omitempty" validate:"gte=0"`
	PinnedCPUs    string `json:"pinnedCPUs,omitempty"`
	// Siblings are the hyperthread groups of the cell, one CPU list per core.
	Siblings []string        `json:"siblings,omitempty"`
	MemPages []MemPageReport `json:"mempages,omitempty" validate:"dive"`
}

// MemPageReport counts the pages of one size in a cell.
type MemPageReport struct {
	SizeKB int64 `json:"sizeKB" validate:"gt=0"`
	Total  int64 `json:"total" validate:"gte=0"`
	Used   int64 `json:"used" validate:"gte=0,ltefield=Total"`
}

// PCIDeviceStatus is the assignment state of a PCI device on its host.
type PCIDeviceStatus string

const (
	PCIDeviceAvailable   PCIDeviceStatus = "available"
	PCIDeviceClaimed     PCIDeviceStatus = "claimed"
	PCIDeviceAllocated   PCIDeviceStatus = "allocated"
	PCIDeviceUnavailable PCIDeviceStatus = "unavailable"
)

// PCIDeviceType distinguishes plain devices from SR-IOV physical and virtual functions.
type PCIDeviceType string

const (
	PCIDeviceTypePCI PCIDeviceType = "type-PCI"
	PCIDeviceTypePF  PCIDeviceType = "type-PF"
	PCIDeviceTypeVF  PCIDeviceType = "type-VF"
)

// PCIDevice is one PCI device found on a host.
type PCIDevice struct {
	// Address is the domain:bus:slot.function address, e.g. "0000:81:00.1".
	Address   string `json:"address" validate:"required"`
	VendorID  string `json:"vendorID" validate:"required"`
	ProductID string `json:"productID" validate:"required"`
	// DevName is the kernel network interface name, if any.
	DevName       string          `json:"devName,omitempty"`
	DevType       PCIDeviceType   `json:"devType,omitempty"`
	NUMANode      *int            `json:"numaNode,omitempty"`
	ParentAddress string          `json:"parentAddress,omitempty"`
	Status        PCIDeviceStatus `json:"status,omitempty"`
}

// Aggregate is a named group of hosts carrying shared metadata.
type Aggregate struct {
	Name     string            `json:"name" validate:"required"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
