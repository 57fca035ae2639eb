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

package hwdiscovery

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jaypipes/ghw"
	ghwpci "github.com/jaypipes/ghw/pkg/pci"
	"github.com/jaypipes/ghw/pkg/topology"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"
	"k8s.io/utils/cpuset"

	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
)

const (
	smallPageSizeKB = 4
	// PCI base class of bridges, which are never assignable.
	pciClassBridge = "06"
)

var (
	topologyFunc = func(root string) (*topology.Info, error) {
		return ghw.Topology(ghw.WithChroot(root))
	}
	pciFunc = func(root string) (*ghwpci.Info, error) {
		return ghw.PCI(ghw.WithChroot(root))
	}
	nowFunc = time.Now
)

// Options describe the host being discovered.
type Options struct {
	Host string
	Node string
	// Root is the root of the host filesystem, "/" unless running in a container.
	Root string

	// LocalGB is the instance disk capacity, which discovery cannot know.
	LocalGB    int64
	Aggregates []v1alpha1.Aggregate
	Usage      *Usage
}

// Usage is the consumption of the instances running on the host, provided by the
// hypervisor driver.
type Usage struct {
	VCPUsUsed    float64     `json:"vcpusUsed,omitempty"`
	MemoryMBUsed int64       `json:"memoryMBUsed,omitempty"`
	LocalGBUsed  int64       `json:"localGBUsed,omitempty"`
	NumInstances int         `json:"numInstances,omitempty"`
	NumIOOps     int         `json:"numIOOps,omitempty"`
	Cells        []CellUsage `json:"cells,omitempty"`

	// AllocatedPCI are the addresses of devices passed through to instances.
	AllocatedPCI []string `json:"allocatedPCI,omitempty"`
}

type CellUsage struct {
	ID            int    `json:"id"`
	PinnedCPUs    string `json:"pinnedCPUs,omitempty"`
	CPUUsage      int    `json:"cpuUsage,omitempty"`
	MemoryUsageMB int64  `json:"memoryUsageMB,omitempty"`

	// PagesUsed maps a page size in KB to the pages used by instances.
	PagesUsed map[int64]int64 `json:"pagesUsed,omitempty"`
}

// Discover builds the capability report of the local host.
func Discover(opts Options) (*v1alpha1.HostCapabilityReport, error) {
	if opts.Root == "" {
		opts.Root = "/"
	}
	if opts.Host == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to get hostname: %w", err)
		}
		opts.Host = hostname
	}
	usage := opts.Usage
	if usage == nil {
		usage = &Usage{}
	}

	report := &v1alpha1.HostCapabilityReport{
		Host:         opts.Host,
		Node:         opts.Node,
		LocalGB:      opts.LocalGB,
		VCPUsUsed:    usage.VCPUsUsed,
		MemoryMBUsed: usage.MemoryMBUsed,
		LocalGBUsed:  usage.LocalGBUsed,
		NumInstances: usage.NumInstances,
		NumIOOps:     usage.NumIOOps,
		Aggregates:   opts.Aggregates,
		UpdatedAt:    metav1.NewTime(nowFunc()),
	}

	topo, err := topologyFunc(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to discover NUMA topology: %w", err)
	}
	cells, err := discoverCells(opts.Root, topo, usage)
	if err != nil {
		return nil, err
	}
	for _, cell := range cells {
		cpus, err := cpuset.Parse(cell.CPUSet)
		if err != nil {
			return nil, err
		}
		report.VCPUs += cpus.Size()
		report.MemoryMB += cell.MemoryMB
	}
	report.NUMATopology = &v1alpha1.NUMATopologyReport{Cells: cells}

	devices, err := discoverPCIDevices(opts.Root, usage)
	if err != nil {
		// without PCI data the host simply cannot take passthrough requests
		klog.ErrorS(err, "Failed to discover PCI devices", "host", opts.Host)
	} else {
		report.PCIDevices = devices
	}

	klog.V(4).InfoS("Discovered host capabilities", "host", report.Host, "vcpus", report.VCPUs,
		"memoryMB", report.MemoryMB, "cells", len(cells), "pciDevices", len(report.PCIDevices))
	return report, nil
}

func discoverCells(root string, topo *topology.Info, usage *Usage) ([]v1alpha1.NUMACellReport, error) {
	cellUsage := map[int]CellUsage{}
	for _, u := range usage.Cells {
		cellUsage[u.ID] = u
	}

	cells := make([]v1alpha1.NUMACellReport, 0, len(topo.Nodes))
	for _, node := range topo.Nodes {
		var cpus []int
		var siblings []string
		for _, core := range node.Cores {
			cpus = append(cpus, core.LogicalProcessors...)
			if len(core.LogicalProcessors) > 1 {
				siblings = append(siblings, cpuset.New(core.LogicalProcessors...).String())
			}
		}
		sort.Strings(siblings)

		var memoryKB int64
		if node.Memory != nil && node.Memory.TotalUsableBytes > 0 {
			memoryKB = node.Memory.TotalUsableBytes / 1024
		} else {
			kb, err := readNodeMemTotalKB(root, node.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to read memory of NUMA node %d: %w", node.ID, err)
			}
			memoryKB = kb
		}

		u := cellUsage[node.ID]
		pages, err := readHugePages(root, node.ID, u.PagesUsed)
		if err != nil {
			return nil, fmt.Errorf("failed to read hugepages of NUMA node %d: %w", node.ID, err)
		}
		var hugeKB int64
		for _, p := range pages {
			hugeKB += p.SizeKB * p.Total
		}
		small := v1alpha1.MemPageReport{SizeKB: smallPageSizeKB, Total: (memoryKB - hugeKB) / smallPageSizeKB}
		small.Used = u.PagesUsed[smallPageSizeKB]
		pages = append([]v1alpha1.MemPageReport{small}, pages...)

		cells = append(cells, v1alpha1.NUMACellReport{
			ID:            node.ID,
			CPUSet:        cpuset.New(cpus...).String(),
			MemoryMB:      memoryKB / 1024,
			CPUUsage:      u.CPUUsage,
			MemoryUsageMB: u.MemoryUsageMB,
			PinnedCPUs:    u.PinnedCPUs,
			Siblings:      siblings,
			MemPages:      pages,
		})
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].ID < cells[j].ID })
	return cells, nil
}

func nodeDir(root string, id int) string {
	return filepath.Join(root, "sys", "devices", "system", "node", fmt.Sprintf("node%d", id))
}

// readNodeMemTotalKB parses "Node 0 MemTotal:  32768 kB" from the node meminfo.
func readNodeMemTotalKB(root string, id int) (int64, error) {
	f, err := os.Open(filepath.Join(nodeDir(root, id), "meminfo"))
	if err != nil {
		return 0, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 4 && fields[2] == "MemTotal:" {
			return strconv.ParseInt(fields[3], 10, 64)
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("no MemTotal in meminfo of node %d", id)
}

// readHugePages lists the hugepage pools of a node, smallest page size first.
func readHugePages(root string, id int, used map[int64]int64) ([]v1alpha1.MemPageReport, error) {
	dir := filepath.Join(nodeDir(root, id), "hugepages")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var pages []v1alpha1.MemPageReport
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "hugepages-") || !strings.HasSuffix(name, "kB") {
			continue
		}
		sizeKB, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, "hugepages-"), "kB"), 10, 64)
		if err != nil {
			klog.V(4).InfoS("Ignoring unknown hugepage directory", "dir", name)
			continue
		}
		total, err := readInt(filepath.Join(dir, name, "nr_hugepages"))
		if err != nil {
			return nil, err
		}
		page := v1alpha1.MemPageReport{SizeKB: sizeKB, Total: total, Used: used[sizeKB]}
		if page.Used > page.Total {
			page.Used = page.Total
		}
		pages = append(pages, page)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].SizeKB < pages[j].SizeKB })
	return pages, nil
}

func discoverPCIDevices(root string, usage *Usage) ([]v1alpha1.PCIDevice, error) {
	info, err := pciFunc(root)
	if err != nil {
		return nil, err
	}
	allocated := sets.New[string](usage.AllocatedPCI...)

	devices := make([]v1alpha1.PCIDevice, 0, len(info.Devices))
	for _, d := range info.Devices {
		if d == nil || d.Vendor == nil || d.Product == nil {
			continue
		}
		if d.Class != nil && d.Class.ID == pciClassBridge {
			continue
		}
		dev := v1alpha1.PCIDevice{
			Address:   d.Address,
			VendorID:  d.Vendor.ID,
			ProductID: d.Product.ID,
			DevType:   v1alpha1.PCIDeviceTypePCI,
			Status:    v1alpha1.PCIDeviceAvailable,
		}
		if allocated.Has(d.Address) {
			dev.Status = v1alpha1.PCIDeviceAllocated
		}

		devDir := filepath.Join(root, "sys", "bus", "pci", "devices", d.Address)
		if n, err := readInt(filepath.Join(devDir, "numa_node")); err == nil && n >= 0 {
			node := int(n)
			dev.NUMANode = &node
		}
		if parent, err := os.Readlink(filepath.Join(devDir, "physfn")); err == nil {
			dev.DevType = v1alpha1.PCIDeviceTypeVF
			dev.ParentAddress = filepath.Base(parent)
		} else if vfs, err := readInt(filepath.Join(devDir, "sriov_totalvfs")); err == nil && vfs > 0 {
			dev.DevType = v1alpha1.PCIDeviceTypePF
		}
		if nets, err := os.ReadDir(filepath.Join(devDir, "net")); err == nil && len(nets) > 0 {
			dev.DevName = nets[0].Name()
		}
		devices = append(devices, dev)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Address < devices[j].Address })
	return devices, nil
}

func readInt(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}
