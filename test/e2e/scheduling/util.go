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

package scheduling

import (
	"fmt"

	"k8s.io/utils/ptr"

	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
)

func simpleHost(name string, vcpus int, memoryMB int64) *v1alpha1.HostCapabilityReport {
	return &v1alpha1.HostCapabilityReport{
		Host:     name,
		VCPUs:    vcpus,
		MemoryMB: memoryMB,
		LocalGB:  200,
	}
}

// numaHost has two cells of four dedicated-capable CPUs and 4GB each.
func numaHost(name string) *v1alpha1.HostCapabilityReport {
	report := simpleHost(name, 8, 8192)
	report.NUMATopology = &v1alpha1.NUMATopologyReport{}
	for i := 0; i < 2; i++ {
		report.NUMATopology.Cells = append(report.NUMATopology.Cells, v1alpha1.NUMACellReport{
			ID:       i,
			CPUSet:   fmt.Sprintf("%d-%d", i*4, i*4+3),
			MemoryMB: 4096,
			MemPages: []v1alpha1.MemPageReport{
				{SizeKB: 4, Total: 3072 * 256},
				{SizeKB: 2048, Total: 512},
			},
		})
	}
	return report
}

func gpuHost(name string, gpus int) *v1alpha1.HostCapabilityReport {
	report := simpleHost(name, 16, 16384)
	report.PCIDevices = []v1alpha1.PCIDevice{}
	for i := 0; i < gpus; i++ {
		report.PCIDevices = append(report.PCIDevices, v1alpha1.PCIDevice{
			Address:   fmt.Sprintf("0000:8%d:00.0", i),
			VendorID:  "10de",
			ProductID: "1db4",
			NUMANode:  ptr.To(0),
			Status:    v1alpha1.PCIDeviceAvailable,
		})
	}
	return report
}

func request(vcpus int, memoryMB int64, numInstances int) v1alpha1.RequestSpec {
	return v1alpha1.RequestSpec{
		Flavor:       v1alpha1.Flavor{Name: "e2e", VCPUs: vcpus, MemoryMB: memoryMB, RootGB: 10},
		NumInstances: numInstances,
	}
}

func selectedHosts(selections []v1alpha1.Selection) []string {
	hosts := make([]string, 0, len(selections))
	for _, s := range selections {
		hosts = append(hosts, s.Host)
	}
	return hosts
}
