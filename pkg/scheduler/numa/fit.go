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
	"strings"

	"k8s.io/utils/cpuset"

	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
)

// CellFit is one guest cell placed on a host cell.
type CellFit struct {
	CellID     int
	VCPUs      int
	MemoryMB   int64
	PageSizeKB int64
	// PinnedCPUs are the host CPUs the guest vCPUs run on. Empty for shared policy.
	PinnedCPUs cpuset.CPUSet
	// IsolatedCPUs are siblings of PinnedCPUs kept idle by the isolate thread policy.
	IsolatedCPUs cpuset.CPUSet
}

// InstanceFit is a guest topology fitted onto a host topology.
type InstanceFit struct {
	Cells []CellFit
}

// CellIDs returns the host cells used by the fit, in guest cell order.
func (f *InstanceFit) CellIDs() []int {
	ids := make([]int, 0, len(f.Cells))
	for _, c := range f.Cells {
		ids = append(ids, c.CellID)
	}
	return ids
}

// ToAPI converts the fit into its serializable form.
func (f *InstanceFit) ToAPI() *v1alpha1.InstanceNUMATopology {
	if f == nil {
		return nil
	}
	out := &v1alpha1.InstanceNUMATopology{Cells: make([]v1alpha1.InstanceNUMACell, 0, len(f.Cells))}
	for _, c := range f.Cells {
		out.Cells = append(out.Cells, v1alpha1.InstanceNUMACell{
			ID:           c.CellID,
			VCPUs:        c.VCPUs,
			MemoryMB:     c.MemoryMB,
			PageSizeKB:   c.PageSizeKB,
			PinnedCPUs:   c.PinnedCPUs.String(),
			IsolatedCPUs: c.IsolatedCPUs.String(),
		})
	}
	return out
}

// FitOptions tune FitInstanceToHost.
type FitOptions struct {
	// Limits enable oversubscription of shared CPUs and small-page memory. Nil means no oversubscription.
	Limits *v1alpha1.NUMALimits
	// CellsAllowed vetoes a candidate set of host cells, e.g. for PCI device locality.
	CellsAllowed func(cellIDs []int) bool
}

// GuestCells returns the guest NUMA cells of a request. Without explicit cells the whole
// flavor forms a single cell.
func GuestCells(req *v1alpha1.NUMATopologyRequest, flavor *v1alpha1.Flavor) ([]v1alpha1.NUMACellRequest, error) {
	if req == nil {
		return nil, nil
	}
	if len(req.Cells) == 0 {
		if flavor.VCPUs <= 0 || flavor.MemoryMB <= 0 {
			return nil, fmt.Errorf("flavor %q has no vcpus or memory to place on a NUMA cell", flavor.Name)
		}
		return []v1alpha1.NUMACellRequest{{VCPUs: flavor.VCPUs, MemoryMB: flavor.MemoryMB}}, nil
	}
	var vcpus int
	var mem int64
	for i, c := range req.Cells {
		if c.VCPUs <= 0 || c.MemoryMB <= 0 {
			return nil, fmt.Errorf("guest NUMA cell %d must have positive vcpus and memory", i)
		}
		vcpus += c.VCPUs
		mem += c.MemoryMB
	}
	if vcpus != flavor.VCPUs || mem != flavor.MemoryMB {
		return nil, fmt.Errorf("guest NUMA cells sum to %d vcpus and %dMB, flavor %q has %d vcpus and %dMB",
			vcpus, mem, flavor.Name, flavor.VCPUs, flavor.MemoryMB)
	}
	return req.Cells, nil
}

// FitInstanceToHost places every guest cell on a distinct host cell. Host cell permutations
// are tried in order, so the result is deterministic for identical inputs. The returned error
// wraps ErrInstanceDoesNotFit when no permutation fits.
func FitInstanceToHost(host *NUMATopology, req *v1alpha1.NUMATopologyRequest, flavor *v1alpha1.Flavor, opts FitOptions) (*InstanceFit, error) {
	guest, err := GuestCells(req, flavor)
	if err != nil {
		return nil, err
	}
	if len(guest) == 0 {
		return nil, nil
	}
	if host == nil || len(host.Cells) == 0 {
		return nil, fmt.Errorf("%w: host has no NUMA cells", ErrInstanceDoesNotFit)
	}
	if len(guest) > len(host.Cells) {
		return nil, fmt.Errorf("%w: %d guest cells requested, host has %d", ErrInstanceDoesNotFit, len(guest), len(host.Cells))
	}

	f := &fitter{host: host, req: req, guest: guest, opts: opts, used: make([]bool, len(host.Cells))}
	if fit := f.search(nil); fit != nil {
		return fit, nil
	}
	reasons := f.reasons
	sort.Strings(reasons)
	return nil, fmt.Errorf("%w: %s", ErrInstanceDoesNotFit, strings.Join(dedupe(reasons), "; "))
}

type fitter struct {
	host    *NUMATopology
	req     *v1alpha1.NUMATopologyRequest
	guest   []v1alpha1.NUMACellRequest
	opts    FitOptions
	used    []bool
	reasons []string
}

func (f *fitter) search(placed []CellFit) *InstanceFit {
	if len(placed) == len(f.guest) {
		fit := &InstanceFit{Cells: append([]CellFit(nil), placed...)}
		if f.opts.CellsAllowed != nil && !f.opts.CellsAllowed(fit.CellIDs()) {
			f.reasons = append(f.reasons, "cells do not satisfy device locality")
			return nil
		}
		return fit
	}
	guest := f.guest[len(placed)]
	for i, cell := range f.host.Cells {
		if f.used[i] {
			continue
		}
		cf, reason := fitCell(cell, guest, f.req, f.opts.Limits)
		if cf == nil {
			f.reasons = append(f.reasons, reason)
			continue
		}
		f.used[i] = true
		if fit := f.search(append(placed, *cf)); fit != nil {
			return fit
		}
		f.used[i] = false
	}
	return nil
}

func fitCell(cell *NUMACell, guest v1alpha1.NUMACellRequest, req *v1alpha1.NUMATopologyRequest, limits *v1alpha1.NUMALimits) (*CellFit, string) {
	cf := &CellFit{CellID: cell.ID, VCPUs: guest.VCPUs, MemoryMB: guest.MemoryMB, PageSizeKB: req.PageSizeKB}

	if req.PageSizeKB > 0 {
		ok, err := cell.CanFitHugepages(req.PageSizeKB, guest.MemoryMB*1024)
		if err != nil {
			return nil, err.Error()
		}
		if !ok {
			return nil, fmt.Sprintf("cell %d has not enough free %dKB pages", cell.ID, req.PageSizeKB)
		}
	} else {
		if guest.MemoryMB > cell.MemoryMB {
			return nil, fmt.Sprintf("cell %d has less memory than requested", cell.ID)
		}
		limit := float64(cell.MemoryMB)
		if limits != nil && limits.RAMAllocationRatio > 0 {
			limit *= limits.RAMAllocationRatio
		}
		if float64(cell.MemoryUsageMB+guest.MemoryMB) > limit {
			return nil, fmt.Sprintf("cell %d has insufficient memory", cell.ID)
		}
	}

	if req.CPUPolicy == v1alpha1.CPUPolicyDedicated {
		pinned, isolated, reason := pinCPUs(cell, guest.VCPUs, req.CPUThreadPolicy)
		if reason != "" {
			return nil, reason
		}
		cf.PinnedCPUs, cf.IsolatedCPUs = pinned, isolated
		return cf, ""
	}

	shared := cell.FreeCPUs().Size()
	if guest.VCPUs > shared {
		return nil, fmt.Sprintf("cell %d has %d unpinned CPUs, %d vcpus requested", cell.ID, shared, guest.VCPUs)
	}
	limit := float64(shared)
	if limits != nil && limits.CPUAllocationRatio > 0 {
		limit *= limits.CPUAllocationRatio
	}
	if float64(cell.CPUUsage+guest.VCPUs) > limit {
		return nil, fmt.Sprintf("cell %d has insufficient shared CPU capacity", cell.ID)
	}
	return cf, ""
}

// pinCPUs chooses n free host CPUs of cell for dedicated vCPUs according to the thread policy.
func pinCPUs(cell *NUMACell, n int, policy v1alpha1.CPUThreadPolicy) (pinned, isolated cpuset.CPUSet, reason string) {
	switch policy {
	case v1alpha1.CPUThreadPolicyIsolate:
		cores := cell.FreeCores()
		if len(cores) < n {
			return cpuset.New(), cpuset.New(), fmt.Sprintf("cell %d has %d free cores, isolate needs %d", cell.ID, len(cores), n)
		}
		var chosen, reserved []int
		for _, core := range cores[:n] {
			list := core.List()
			chosen = append(chosen, list[0])
			reserved = append(reserved, list[1:]...)
		}
		return cpuset.New(chosen...), cpuset.New(reserved...), ""

	case v1alpha1.CPUThreadPolicyRequire:
		if !cell.HasThreads() {
			return cpuset.New(), cpuset.New(), fmt.Sprintf("cell %d has no hyperthread siblings", cell.ID)
		}
		var chosen []int
		for _, core := range cell.FreeCores() {
			if core.Size() < 2 {
				continue
			}
			for _, cpu := range core.List() {
				if len(chosen) == n {
					break
				}
				chosen = append(chosen, cpu)
			}
		}
		if len(chosen) < n {
			return cpuset.New(), cpuset.New(), fmt.Sprintf("cell %d has not enough free sibling CPUs", cell.ID)
		}
		return cpuset.New(chosen...), cpuset.New(), ""
	}

	// prefer: fill the cores with the most free threads first
	free := cell.FreeCPUs()
	if free.Size() < n {
		return cpuset.New(), cpuset.New(), fmt.Sprintf("cell %d has %d free CPUs, %d requested", cell.ID, free.Size(), n)
	}
	var groups []cpuset.CPUSet
	for _, core := range cell.Cores() {
		if g := core.Intersection(free); !g.IsEmpty() {
			groups = append(groups, g)
		}
	}
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Size() != groups[j].Size() {
			return groups[i].Size() > groups[j].Size()
		}
		return lowestCPU(groups[i]) < lowestCPU(groups[j])
	})
	chosen := make([]int, 0, n)
	for _, g := range groups {
		for _, cpu := range g.List() {
			if len(chosen) == n {
				break
			}
			chosen = append(chosen, cpu)
		}
	}
	return cpuset.New(chosen...), cpuset.New(), ""
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
