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
	"errors"
	"fmt"

	"k8s.io/utils/cpuset"
)

// ErrInstanceDoesNotFit is wrapped by FitInstanceToHost when no host cell combination fits.
var ErrInstanceDoesNotFit = errors.New("instance NUMA topology does not fit host")

// CPUPinningUnknownError is returned when CPUs outside the cell are pinned or unpinned.
type CPUPinningUnknownError struct {
	CellID    int
	Requested cpuset.CPUSet
	// Unknown are the requested CPUs that do not belong to the cell.
	Unknown cpuset.CPUSet
	CPUSet  cpuset.CPUSet
}

func (e *CPUPinningUnknownError) Error() string {
	return fmt.Sprintf("CPU set to pin or unpin %s must be a subset of known CPU set %s of cell %d, unknown CPUs %s",
		e.Requested, e.CPUSet, e.CellID, e.Unknown)
}

// CPUPinningInvalidError is returned when pinning already pinned CPUs or unpinning free ones.
type CPUPinningInvalidError struct {
	CellID    int
	Requested cpuset.CPUSet
	// Invalid are the requested CPUs in the wrong state.
	Invalid cpuset.CPUSet
	Pinned  cpuset.CPUSet
	Unpin   bool
}

func (e *CPUPinningInvalidError) Error() string {
	if e.Unpin {
		return fmt.Sprintf("CPU set to unpin %s must be a subset of pinned CPU set %s of cell %d, not pinned CPUs %s",
			e.Requested, e.Pinned, e.CellID, e.Invalid)
	}
	return fmt.Sprintf("CPU set to pin %s must be a subset of free CPU set of cell %d, already pinned CPUs %s",
		e.Requested, e.CellID, e.Invalid)
}

// MemoryPageSizeNotSupportedError is returned when a cell has no pages of the requested size.
type MemoryPageSizeNotSupportedError struct {
	CellID     int
	PageSizeKB int64
}

func (e *MemoryPageSizeNotSupportedError) Error() string {
	return fmt.Sprintf("page size %dKB is not supported by cell %d", e.PageSizeKB, e.CellID)
}

func IsCPUPinningUnknown(err error) bool {
	var e *CPUPinningUnknownError
	return errors.As(err, &e)
}

func IsCPUPinningInvalid(err error) bool {
	var e *CPUPinningInvalidError
	return errors.As(err, &e)
}

func IsMemoryPageSizeNotSupported(err error) bool {
	var e *MemoryPageSizeNotSupportedError
	return errors.As(err, &e)
}
