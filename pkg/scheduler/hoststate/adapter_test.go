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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/pci"
)

var testDefaults = Defaults{
	CPUAllocationRatio:   16,
	RAMAllocationRatio:   1.5,
	DiskAllocationRatio:  1,
	ReservedHostMemoryMB: 512,
	ReservedHostDiskMB:   1024,
}

func newReportForTest() *v1alpha1.HostCapabilityReport {
	return &v1alpha1.HostCapabilityReport{
		Host:         "host1",
		VCPUs:        8,
		VCPUsUsed:    2,
		MemoryMB:     16384,
		MemoryMBUsed: 2048,
		LocalGB:      100,
		LocalGBUsed:  20,
		NumInstances: 2,
		NUMATopology: &v1alpha1.NUMATopologyReport{Cells: []v1alpha1.NUMACellReport{
			{ID: 1, CPUSet: "4-7", MemoryMB: 8192, Siblings: []string{"4,6", "5,7"}},
			{ID: 0, CPUSet: "0-3", MemoryMB: 8192, PinnedCPUs: "0-1", Siblings: []string{"0,2", "1,3"},
				MemPages: []v1alpha1.MemPageReport{{SizeKB: 4, Total: 1024}, {SizeKB: 2048, Total: 512, Used: 12}}},
		}},
		PCIDevices: []v1alpha1.PCIDevice{
			{Address: "0000:81:00.0", VendorID: "10de", ProductID: "1db4", NUMANode: ptr.To(0)},
			{Address: "0000:82:00.0", VendorID: "10de", ProductID: "1db4", NUMANode: ptr.To(0), Status: v1alpha1.PCIDeviceAllocated},
			{Address: "0000:0a:00.0", VendorID: "8086", ProductID: "1520", Status: v1alpha1.PCIDeviceAvailable},
			{Address: "0000:0b:00.0", VendorID: "1af4", ProductID: "1000"},
		},
		Aggregates: []v1alpha1.Aggregate{
			{Name: "zone-b", Metadata: map[string]string{"availability_zone": "az-b"}},
			{Name: "zone-a", Metadata: map[string]string{"availability_zone": "az-a", "cpu_allocation_ratio": "4.0"}},
		},
	}
}

func TestNewHostStateFromReport(t *testing.T) {
	whitelist, err := pci.ParseWhitelist([]string{
		`{"vendor_id": "10de"}`,
		`{"vendor_id": "8086", "physical_network": "physnet1"}`,
	})
	require.NoError(t, err)

	h, err := NewHostStateFromReport(newReportForTest(), whitelist, testDefaults)
	require.NoError(t, err)

	assert.Equal(t, "host1", h.Node)
	assert.Equal(t, int64(16384-2048-512), h.FreeRAMMB)
	assert.Equal(t, int64(80*1024-1024), h.FreeDiskMB)
	assert.Equal(t, float64(2), h.VCPUsUsed)
	assert.Equal(t, []string{"zone-a", "zone-b"}, h.Aggregates)
	assert.Equal(t, "az-a,az-b", h.Metadata["availability_zone"])
	assert.Equal(t, float64(4), h.CPUAllocationRatio, "aggregate overrides default")
	assert.Equal(t, 1.5, h.RAMAllocationRatio)
	assert.Equal(t, float64(1), h.DiskAllocationRatio)

	require.NotNil(t, h.NUMATopology)
	require.Len(t, h.NUMATopology.Cells, 2)
	cell0 := h.NUMATopology.Cells[0]
	assert.Equal(t, 0, cell0.ID)
	assert.Equal(t, "0-1", cell0.PinnedCPUs.String())
	assert.Equal(t, "2-3", cell0.FreeCPUs().String())
	require.Len(t, cell0.MemPages, 2)
	assert.Equal(t, int64(12), cell0.MemPages[1].Used)

	// the allocated GPU and the unlisted virtio device are not pooled
	assert.Equal(t, 2, h.PCIStats.FreeCount())
	pools := h.PCIStats.Pools()
	require.Len(t, pools, 2)
	assert.Equal(t, map[string]string{"physical_network": "physnet1"}, pools[0].Tags)
	assert.Equal(t, "10de", pools[1].VendorID)
}

func TestNewHostStateFromReportRatios(t *testing.T) {
	report := newReportForTest()
	report.Aggregates = nil
	report.CPUAllocationRatio = 2
	h, err := NewHostStateFromReport(report, nil, testDefaults)
	require.NoError(t, err)
	assert.Equal(t, float64(2), h.CPUAllocationRatio, "report overrides default")
	assert.Equal(t, 0, h.PCIStats.FreeCount(), "nothing is assignable without a whitelist")

	report.Aggregates = []v1alpha1.Aggregate{{Name: "bad", Metadata: map[string]string{"cpu_allocation_ratio": "lots"}}}
	h, err = NewHostStateFromReport(report, nil, testDefaults)
	require.NoError(t, err)
	assert.Equal(t, float64(2), h.CPUAllocationRatio, "invalid aggregate value is ignored")

	report.Aggregates = []v1alpha1.Aggregate{{Name: "unbounded", Metadata: map[string]string{
		"cpu_allocation_ratio": "Inf",
		"ram_allocation_ratio": "NaN",
	}}}
	h, err = NewHostStateFromReport(report, nil, testDefaults)
	require.NoError(t, err)
	assert.Equal(t, float64(2), h.CPUAllocationRatio, "infinite ratio is ignored")
	assert.Equal(t, 1.5, h.RAMAllocationRatio, "NaN ratio is ignored")
}

func TestNewHostStateFromReportOptionalData(t *testing.T) {
	report := newReportForTest()
	report.NUMATopology = nil
	report.PCIDevices = nil
	h, err := NewHostStateFromReport(report, nil, testDefaults)
	require.NoError(t, err)
	assert.Nil(t, h.NUMATopology)
	assert.Nil(t, h.PCIStats)

	report.PCIDevices = []v1alpha1.PCIDevice{}
	h, err = NewHostStateFromReport(report, nil, testDefaults)
	require.NoError(t, err)
	assert.NotNil(t, h.PCIStats, "an empty device list is known to have no devices")
}

func TestNewHostStateFromReportStats(t *testing.T) {
	report := newReportForTest()
	report.NumInstances = 0
	report.NumIOOps = 0
	report.Stats = map[string]string{"io_workload": "3", "num_instances": "x"}
	h, err := NewHostStateFromReport(report, nil, testDefaults)
	require.NoError(t, err)
	assert.Equal(t, 3, h.NumIOOps)
	assert.Equal(t, 0, h.NumInstances, "invalid stat is ignored")

	report.NumIOOps = 1
	h, err = NewHostStateFromReport(report, nil, testDefaults)
	require.NoError(t, err)
	assert.Equal(t, 1, h.NumIOOps, "reported counter wins over stats")
}

func TestNewHostStateFromReportInvalid(t *testing.T) {
	tests := []struct {
		name   string
		modify func(r *v1alpha1.HostCapabilityReport)
	}{
		{name: "missing host", modify: func(r *v1alpha1.HostCapabilityReport) { r.Host = "" }},
		{name: "negative memory", modify: func(r *v1alpha1.HostCapabilityReport) { r.MemoryMB = -1 }},
		{name: "bad cpuset", modify: func(r *v1alpha1.HostCapabilityReport) { r.NUMATopology.Cells[0].CPUSet = "4-x" }},
		{name: "pinned outside cell", modify: func(r *v1alpha1.HostCapabilityReport) { r.NUMATopology.Cells[1].PinnedCPUs = "0-4" }},
		{name: "overlapping siblings", modify: func(r *v1alpha1.HostCapabilityReport) {
			r.NUMATopology.Cells[0].Siblings = []string{"4,6", "6,7"}
		}},
		{name: "duplicated cell", modify: func(r *v1alpha1.HostCapabilityReport) { r.NUMATopology.Cells[0].ID = 0 }},
		{name: "used pages above total", modify: func(r *v1alpha1.HostCapabilityReport) {
			r.NUMATopology.Cells[1].MemPages[1].Used = 1000
		}},
		{name: "device without vendor", modify: func(r *v1alpha1.HostCapabilityReport) { r.PCIDevices[0].VendorID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := newReportForTest()
			tt.modify(report)
			h, err := NewHostStateFromReport(report, nil, testDefaults)
			assert.Error(t, err)
			assert.Nil(t, h)
		})
	}
}
