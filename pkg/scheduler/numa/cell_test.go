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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/cpuset"
)

// buildCellForTest builds a cell with cores*threads CPUs starting at firstCPU.
// Threads of one core are numbered cores apart, like Linux does on most x86 hosts.
func buildCellForTest(id, firstCPU, cores, threads int, memoryMB int64) *NUMACell {
	var all []int
	var siblings []cpuset.CPUSet
	for c := 0; c < cores; c++ {
		var core []int
		for t := 0; t < threads; t++ {
			core = append(core, firstCPU+c+t*cores)
		}
		all = append(all, core...)
		if threads > 1 {
			siblings = append(siblings, cpuset.New(core...))
		}
	}
	return NewNUMACell(id, cpuset.New(all...), memoryMB, siblings, []MemPage{
		{SizeKB: 4, Total: memoryMB * 256},
		{SizeKB: 2048, Total: 0},
	})
}

func TestPinCPUs(t *testing.T) {
	cell := NewNUMACell(0, cpuset.New(1, 2, 3, 4), 1024, nil, nil)
	cell.PinnedCPUs = cpuset.New(1)

	assert.NoError(t, cell.PinCPUs(cpuset.New(2, 3)))
	assert.Equal(t, []int{4}, cell.FreeCPUs().List())

	err := cell.PinCPUs(cpuset.New(1, 55))
	assert.True(t, IsCPUPinningUnknown(err), err)
	var unknown *CPUPinningUnknownError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, []int{55}, unknown.Unknown.List())

	err = cell.PinCPUs(cpuset.New(1, 4))
	assert.True(t, IsCPUPinningInvalid(err), err)
	var invalid *CPUPinningInvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, []int{1}, invalid.Invalid.List())

	// failed calls leave the cell untouched
	assert.Equal(t, []int{1, 2, 3}, cell.PinnedCPUs.List())
	assert.Equal(t, []int{4}, cell.FreeCPUs().List())
}

func TestUnpinCPUs(t *testing.T) {
	cell := NewNUMACell(0, cpuset.New(1, 2, 3, 4), 1024, nil, nil)
	cell.PinnedCPUs = cpuset.New(1, 2)

	err := cell.UnpinCPUs(cpuset.New(2, 9))
	assert.True(t, IsCPUPinningUnknown(err))

	err = cell.UnpinCPUs(cpuset.New(2, 3))
	assert.True(t, IsCPUPinningInvalid(err))
	assert.Contains(t, err.Error(), "unpin")
	assert.Equal(t, []int{1, 2}, cell.PinnedCPUs.List())

	assert.NoError(t, cell.UnpinCPUs(cpuset.New(1, 2)))
	assert.Equal(t, 0, cell.PinnedCPUs.Size())
	assert.Equal(t, 4, cell.AvailCPUs())
}

func TestPinCPUsWithSiblings(t *testing.T) {
	// cores {0,4} {1,5} {2,6} {3,7}
	tests := []struct {
		name       string
		pinned     []int
		pin        []int
		wantErr    func(error) bool
		wantPinned []int
	}{
		{
			name:       "expand to whole cores",
			pin:        []int{0, 1},
			wantPinned: []int{0, 1, 4, 5},
		},
		{
			name:       "already complete core",
			pin:        []int{2, 6},
			wantPinned: []int{2, 6},
		},
		{
			name:       "sibling of requested CPU already pinned",
			pinned:     []int{5},
			pin:        []int{0, 1},
			wantErr:    IsCPUPinningInvalid,
			wantPinned: []int{5},
		},
		{
			name:       "unknown CPU",
			pin:        []int{0, 42},
			wantErr:    IsCPUPinningUnknown,
			wantPinned: []int{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cell := buildCellForTest(0, 0, 4, 2, 4096)
			cell.PinnedCPUs = cpuset.New(tt.pinned...)
			err := cell.PinCPUsWithSiblings(cpuset.New(tt.pin...))
			if tt.wantErr != nil {
				assert.True(t, tt.wantErr(err), err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantPinned, cell.PinnedCPUs.List())
		})
	}
}

func TestUnpinCPUsWithSiblings(t *testing.T) {
	cell := buildCellForTest(0, 0, 4, 2, 4096)
	cell.PinnedCPUs = cpuset.New(0, 4, 1)

	// 5 is a sibling of 1 and is not pinned, the whole call fails
	err := cell.UnpinCPUsWithSiblings(cpuset.New(0, 1))
	assert.True(t, IsCPUPinningInvalid(err))
	assert.Equal(t, []int{0, 1, 4}, cell.PinnedCPUs.List())

	assert.NoError(t, cell.UnpinCPUsWithSiblings(cpuset.New(4)))
	assert.Equal(t, []int{1}, cell.PinnedCPUs.List())
}

func TestPinUnpinKeepsFreeCPUsConsistent(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	cell := buildCellForTest(0, 0, 8, 2, 4096)
	for i := 0; i < 500; i++ {
		var cpus []int
		for j := 0; j < 1+r.Intn(3); j++ {
			cpus = append(cpus, r.Intn(18))
		}
		req := cpuset.New(cpus...)
		before := cell.PinnedCPUs
		var err error
		switch r.Intn(4) {
		case 0:
			err = cell.PinCPUs(req)
		case 1:
			err = cell.UnpinCPUs(req)
		case 2:
			err = cell.PinCPUsWithSiblings(req)
		case 3:
			err = cell.UnpinCPUsWithSiblings(req)
		}
		if err != nil {
			assert.Equal(t, before.List(), cell.PinnedCPUs.List(), "failed call must not change pinned CPUs")
		}
		assert.True(t, cell.PinnedCPUs.IsSubsetOf(cell.CPUSet))
		assert.Equal(t, cell.CPUSet.Difference(cell.PinnedCPUs).List(), cell.FreeCPUs().List())
	}
}

func TestCanFitHugepages(t *testing.T) {
	cell := NewNUMACell(0, cpuset.New(0, 1), 6*1024, nil, []MemPage{
		{SizeKB: 4, Total: 1548736, Used: 0},
		{SizeKB: 2048, Total: 513, Used: 0},
	})

	ok, err := cell.CanFitHugepages(2048, 1<<20)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = cell.CanFitHugepages(2048, 1<<21)
	assert.NoError(t, err)
	assert.False(t, ok)

	_, err = cell.CanFitHugepages(12345, 1<<20)
	assert.True(t, IsMemoryPageSizeNotSupported(err))

	cell.MemPages[1].Used = 2
	ok, err = cell.CanFitHugepages(2048, 1<<20)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestCores(t *testing.T) {
	cell := NewNUMACell(0, cpuset.New(0, 1, 2, 3, 8), 1024, []cpuset.CPUSet{cpuset.New(2, 3), cpuset.New(0, 1)}, nil)
	cores := cell.Cores()
	var got []string
	for _, c := range cores {
		got = append(got, c.String())
	}
	assert.Equal(t, []string{"0-1", "2-3", "8"}, got)
	assert.True(t, cell.HasThreads())

	cell.PinnedCPUs = cpuset.New(3)
	assert.Len(t, cell.FreeCores(), 2)
}

func TestNUMACellClone(t *testing.T) {
	cell := buildCellForTest(0, 0, 2, 2, 1024)
	cloned := cell.Clone()
	assert.NoError(t, cloned.PinCPUs(cpuset.New(0)))
	cloned.MemPages[0].Used = 10
	cloned.Siblings[0] = cpuset.New(99)

	assert.Equal(t, 0, cell.PinnedCPUs.Size())
	assert.Equal(t, int64(0), cell.MemPages[0].Used)
	assert.Equal(t, "0,2", cell.Siblings[0].String())
}
