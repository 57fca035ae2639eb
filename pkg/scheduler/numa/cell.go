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

package numa

import (
	"k8s.io/utils/cpuset"
)

// MemPage counts the memory pages of one size in a cell.
type MemPage struct {
	SizeKB int64
	Total  int64
	Used   int64
}

// FreeKB returns the free memory backed by this page size.
func (p MemPage) FreeKB() int64 {
	return (p.Total - p.Used) * p.SizeKB
}

// NUMACell is the CPU, memory and hugepage accounting of one host NUMA node.
// PinnedCPUs is always a subset of CPUSet.
type NUMACell struct {
	ID            int
	CPUSet        cpuset.CPUSet
	MemoryMB      int64
	CPUUsage      int
	MemoryUsageMB int64
	PinnedCPUs    cpuset.CPUSet
	// Siblings are disjoint hyperthread groups. CPUs without a group are single-thread cores.
	Siblings []cpuset.CPUSet
	MemPages []MemPage
}

// NewNUMACell returns a cell with no usage and nothing pinned.
func NewNUMACell(id int, cpus cpuset.CPUSet, memoryMB int64, siblings []cpuset.CPUSet, pages []MemPage) *NUMACell {
	return &NUMACell{
		ID:         id,
		CPUSet:     cpus,
		MemoryMB:   memoryMB,
		PinnedCPUs: cpuset.New(),
		Siblings:   siblings,
		MemPages:   pages,
	}
}

// FreeCPUs returns CPUSet minus PinnedCPUs.
func (c *NUMACell) FreeCPUs() cpuset.CPUSet {
	return c.CPUSet.Difference(c.PinnedCPUs)
}

func (c *NUMACell) AvailCPUs() int {
	return c.FreeCPUs().Size()
}

func (c *NUMACell) AvailMemoryMB() int64 {
	return c.MemoryMB - c.MemoryUsageMB
}

// HasThreads reports whether any core of the cell exposes more than one hardware thread.
func (c *NUMACell) HasThreads() bool {
	for _, s := range c.Siblings {
		if s.Size() > 1 {
			return true
		}
	}
	return false
}

// Cores returns the cores of the cell ordered by their lowest CPU id. Without sibling
// information every CPU is its own core.
func (c *NUMACell) Cores() []cpuset.CPUSet {
	covered := cpuset.New()
	var cores []cpuset.CPUSet
	for _, s := range c.Siblings {
		s = s.Intersection(c.CPUSet)
		if s.IsEmpty() {
			continue
		}
		cores = append(cores, s)
		covered = covered.Union(s)
	}
	for _, cpu := range c.CPUSet.Difference(covered).List() {
		cores = append(cores, cpuset.New(cpu))
	}
	sortCPUSets(cores)
	return cores
}

// FreeCores returns the cores none of whose threads are pinned.
func (c *NUMACell) FreeCores() []cpuset.CPUSet {
	free := c.FreeCPUs()
	var cores []cpuset.CPUSet
	for _, core := range c.Cores() {
		if core.IsSubsetOf(free) {
			cores = append(cores, core)
		}
	}
	return cores
}

// PinCPUs marks cpus as pinned. It fails without side effects when any CPU is unknown
// to the cell or already pinned.
func (c *NUMACell) PinCPUs(cpus cpuset.CPUSet) error {
	if unknown := cpus.Difference(c.CPUSet); !unknown.IsEmpty() {
		return &CPUPinningUnknownError{CellID: c.ID, Requested: cpus, Unknown: unknown, CPUSet: c.CPUSet}
	}
	if invalid := cpus.Intersection(c.PinnedCPUs); !invalid.IsEmpty() {
		return &CPUPinningInvalidError{CellID: c.ID, Requested: cpus, Invalid: invalid, Pinned: c.PinnedCPUs}
	}
	c.PinnedCPUs = c.PinnedCPUs.Union(cpus)
	return nil
}

// UnpinCPUs releases pinned cpus. It fails without side effects when any CPU is unknown
// to the cell or not pinned.
func (c *NUMACell) UnpinCPUs(cpus cpuset.CPUSet) error {
	if unknown := cpus.Difference(c.CPUSet); !unknown.IsEmpty() {
		return &CPUPinningUnknownError{CellID: c.ID, Requested: cpus, Unknown: unknown, CPUSet: c.CPUSet}
	}
	if invalid := cpus.Difference(c.PinnedCPUs); !invalid.IsEmpty() {
		return &CPUPinningInvalidError{CellID: c.ID, Requested: cpus, Invalid: invalid, Pinned: c.PinnedCPUs, Unpin: true}
	}
	c.PinnedCPUs = c.PinnedCPUs.Difference(cpus)
	return nil
}

// PinCPUsWithSiblings pins cpus together with every hyperthread sibling of them.
// Either the whole expanded set is pinned or nothing is.
func (c *NUMACell) PinCPUsWithSiblings(cpus cpuset.CPUSet) error {
	if unknown := cpus.Difference(c.CPUSet); !unknown.IsEmpty() {
		return &CPUPinningUnknownError{CellID: c.ID, Requested: cpus, Unknown: unknown, CPUSet: c.CPUSet}
	}
	return c.PinCPUs(c.withSiblings(cpus))
}

// UnpinCPUsWithSiblings is the inverse of PinCPUsWithSiblings.
func (c *NUMACell) UnpinCPUsWithSiblings(cpus cpuset.CPUSet) error {
	if unknown := cpus.Difference(c.CPUSet); !unknown.IsEmpty() {
		return &CPUPinningUnknownError{CellID: c.ID, Requested: cpus, Unknown: unknown, CPUSet: c.CPUSet}
	}
	return c.UnpinCPUs(c.withSiblings(cpus))
}

func (c *NUMACell) withSiblings(cpus cpuset.CPUSet) cpuset.CPUSet {
	expanded := cpus
	for _, s := range c.Siblings {
		if !s.Intersection(cpus).IsEmpty() {
			expanded = expanded.Union(s.Intersection(c.CPUSet))
		}
	}
	return expanded
}

// CanFitHugepages reports whether amountKB of memory fits into the free pages of sizeKB.
func (c *NUMACell) CanFitHugepages(sizeKB, amountKB int64) (bool, error) {
	page := c.memPage(sizeKB)
	if page == nil {
		return false, &MemoryPageSizeNotSupportedError{CellID: c.ID, PageSizeKB: sizeKB}
	}
	return page.FreeKB() >= amountKB, nil
}

func (c *NUMACell) memPage(sizeKB int64) *MemPage {
	for i := range c.MemPages {
		if c.MemPages[i].SizeKB == sizeKB {
			return &c.MemPages[i]
		}
	}
	return nil
}

// Clone returns a copy sharing no mutable state with c.
func (c *NUMACell) Clone() *NUMACell {
	out := *c
	if c.Siblings != nil {
		out.Siblings = make([]cpuset.CPUSet, len(c.Siblings))
		copy(out.Siblings, c.Siblings)
	}
	if c.MemPages != nil {
		out.MemPages = make([]MemPage, len(c.MemPages))
		copy(out.MemPages, c.MemPages)
	}
	return &out
}
