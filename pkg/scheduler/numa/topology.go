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
	"fmt"
	"sort"

	"k8s.io/utils/cpuset"
)

// NUMATopology is the ordered list of NUMA cells of one host. It is a value type:
// updates produce a new topology or mutate a private Clone.
type NUMATopology struct {
	Cells []*NUMACell
}

func (t *NUMATopology) Clone() *NUMATopology {
	if t == nil {
		return nil
	}
	out := &NUMATopology{Cells: make([]*NUMACell, 0, len(t.Cells))}
	for _, c := range t.Cells {
		out.Cells = append(out.Cells, c.Clone())
	}
	return out
}

// Cell returns the cell with the given id, or nil.
func (t *NUMATopology) Cell(id int) *NUMACell {
	for _, c := range t.Cells {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// CPUSet returns the union of the CPU sets of all cells.
func (t *NUMATopology) CPUSet() cpuset.CPUSet {
	result := cpuset.New()
	for _, c := range t.Cells {
		result = result.Union(c.CPUSet)
	}
	return result
}

// PinnedCPUs returns the union of the pinned CPUs of all cells.
func (t *NUMATopology) PinnedCPUs() cpuset.CPUSet {
	result := cpuset.New()
	for _, c := range t.Cells {
		result = result.Union(c.PinnedCPUs)
	}
	return result
}

// ApplyInstance records the usage of a fitted instance. The topology is left unchanged
// when any cell rejects the claim.
func (t *NUMATopology) ApplyInstance(fit *InstanceFit) error {
	return t.updateUsage(fit, false)
}

// ReleaseInstance reverses ApplyInstance.
func (t *NUMATopology) ReleaseInstance(fit *InstanceFit) error {
	return t.updateUsage(fit, true)
}

func (t *NUMATopology) updateUsage(fit *InstanceFit, free bool) error {
	if fit == nil {
		return nil
	}
	sign := int64(1)
	if free {
		sign = -1
	}
	staged := t.Clone()
	for _, cf := range fit.Cells {
		cell := staged.Cell(cf.CellID)
		if cell == nil {
			return fmt.Errorf("instance cell references unknown host cell %d", cf.CellID)
		}
		if cf.PageSizeKB > 0 {
			page := cell.memPage(cf.PageSizeKB)
			if page == nil {
				return &MemoryPageSizeNotSupportedError{CellID: cell.ID, PageSizeKB: cf.PageSizeKB}
			}
			pages := (cf.MemoryMB*1024 + cf.PageSizeKB - 1) / cf.PageSizeKB
			page.Used += sign * pages
			if page.Used < 0 || page.Used > page.Total {
				return fmt.Errorf("cell %d: %d pages of %dKB out of range after update, total %d",
					cell.ID, page.Used, page.SizeKB, page.Total)
			}
		}
		cell.MemoryUsageMB += sign * cf.MemoryMB
		if cell.MemoryUsageMB < 0 {
			cell.MemoryUsageMB = 0
		}
		// CPUUsage only accounts floating vCPUs; dedicated ones are tracked by PinnedCPUs.
		if cf.PinnedCPUs.IsEmpty() {
			cell.CPUUsage += int(sign) * cf.VCPUs
			if cell.CPUUsage < 0 {
				cell.CPUUsage = 0
			}
			continue
		}
		var err error
		switch {
		case !cf.IsolatedCPUs.IsEmpty() && free:
			err = cell.UnpinCPUsWithSiblings(cf.PinnedCPUs)
		case !cf.IsolatedCPUs.IsEmpty():
			err = cell.PinCPUsWithSiblings(cf.PinnedCPUs)
		case free:
			err = cell.UnpinCPUs(cf.PinnedCPUs)
		default:
			err = cell.PinCPUs(cf.PinnedCPUs)
		}
		if err != nil {
			return err
		}
	}
	t.Cells = staged.Cells
	return nil
}

func sortCPUSets(sets []cpuset.CPUSet) {
	sort.SliceStable(sets, func(i, j int) bool {
		return lowestCPU(sets[i]) < lowestCPU(sets[j])
	})
}

func lowestCPU(s cpuset.CPUSet) int {
	list := s.List()
	if len(list) == 0 {
		return -1
	}
	return list[0]
}
