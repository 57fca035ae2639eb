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

package config

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// SchedulerConfiguration configures the filter scheduler.
type SchedulerConfiguration struct {
	metav1.TypeMeta `json:",inline"`

	// EnabledFilters are the filters run for every request, in order.
	EnabledFilters []string `json:"enabledFilters,omitempty"`
	// EnabledWeighers are the weighers summed into the host weight.
	EnabledWeighers []WeigherConfig `json:"enabledWeighers,omitempty"`

	// MaxInstancesPerHost bounds the instances of a host. Zero admits no new instance.
	MaxInstancesPerHost *int `json:"maxInstancesPerHost,omitempty"`
	// MaxIOOpsPerHost bounds the concurrent I/O intensive operations (builds, resizes, snapshots) on a host.
	MaxIOOpsPerHost *int `json:"maxIOOpsPerHost,omitempty"`

	// PCIWhitelist holds one JSON device spec (an object or a list of objects) per entry.
	PCIWhitelist []string `json:"pciWhitelist,omitempty"`

	// Allocation ratios used when neither the host nor its aggregates set one.
	CPUAllocationRatio  float64 `json:"cpuAllocationRatio,omitempty"`
	RAMAllocationRatio  float64 `json:"ramAllocationRatio,omitempty"`
	DiskAllocationRatio float64 `json:"diskAllocationRatio,omitempty"`

	ReservedHostMemoryMB *int64 `json:"reservedHostMemoryMB,omitempty"`
	ReservedHostDiskMB   *int64 `json:"reservedHostDiskMB,omitempty"`

	// DefaultAvailabilityZone is the zone of hosts whose aggregates set none.
	DefaultAvailabilityZone string `json:"defaultAvailabilityZone,omitempty"`

	// MaxAttempts bounds the scheduling attempts of one request across orchestrator retries.
	MaxAttempts *int `json:"maxAttempts,omitempty"`
	// NumAlternates is the number of alternate hosts returned with each selection.
	NumAlternates int `json:"numAlternates,omitempty"`

	// ReportTTL is how long a host report stays valid. Zero keeps reports forever.
	ReportTTL          *metav1.Duration `json:"reportTTL,omitempty"`
	ReportDir          string           `json:"reportDir,omitempty"`
	ReportResyncPeriod *metav1.Duration `json:"reportResyncPeriod,omitempty"`

	// DebugAddress serves the debug endpoints and metrics when set.
	DebugAddress string `json:"debugAddress,omitempty"`
}

// WeigherConfig enables one weigher with its multiplier.
type WeigherConfig struct {
	Name       string  `json:"name"`
	Multiplier float64 `json:"multiplier"`
}
