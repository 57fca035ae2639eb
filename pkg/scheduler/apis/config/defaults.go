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
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
)

var (
	defaultEnabledFilters = []string{
		"RetryFilter",
		"AvailabilityZoneFilter",
		"RamFilter",
		"CoreFilter",
		"DiskFilter",
		"NumInstancesFilter",
		"IoOpsFilter",
		"PciPassthroughFilter",
		"NUMATopologyFilter",
		"ServerGroupAntiAffinityFilter",
		"ServerGroupAffinityFilter",
	}

	defaultEnabledWeighers = []WeigherConfig{
		{Name: "RAMWeigher", Multiplier: 1.0},
		{Name: "CPUWeigher", Multiplier: 1.0},
		{Name: "DiskWeigher", Multiplier: 1.0},
		{Name: "IoOpsWeigher", Multiplier: -1.0},
		{Name: "PCIWeigher", Multiplier: 1.0},
		{Name: "ServerGroupSoftAffinityWeigher", Multiplier: 1.0},
		{Name: "ServerGroupSoftAntiAffinityWeigher", Multiplier: 1.0},
	}

	defaultMaxInstancesPerHost  = 50
	defaultMaxIOOpsPerHost      = 8
	defaultCPUAllocationRatio   = 16.0
	defaultRAMAllocationRatio   = 1.5
	defaultDiskAllocationRatio  = 1.0
	defaultReservedHostMemoryMB = int64(512)
	defaultReservedHostDiskMB   = int64(0)
	defaultAvailabilityZone     = "nova"
	defaultMaxAttempts          = 3
	defaultReportTTL            = 5 * time.Minute
	defaultReportResyncPeriod   = 30 * time.Second
)

// SetDefaults_SchedulerConfiguration fills the unset fields of obj.
func SetDefaults_SchedulerConfiguration(obj *SchedulerConfiguration) {
	if obj.EnabledFilters == nil {
		obj.EnabledFilters = append([]string(nil), defaultEnabledFilters...)
	}
	if obj.EnabledWeighers == nil {
		obj.EnabledWeighers = append([]WeigherConfig(nil), defaultEnabledWeighers...)
	}
	if obj.MaxInstancesPerHost == nil {
		obj.MaxInstancesPerHost = ptr.To(defaultMaxInstancesPerHost)
	}
	if obj.MaxIOOpsPerHost == nil {
		obj.MaxIOOpsPerHost = ptr.To(defaultMaxIOOpsPerHost)
	}
	if obj.CPUAllocationRatio == 0 {
		obj.CPUAllocationRatio = defaultCPUAllocationRatio
	}
	if obj.RAMAllocationRatio == 0 {
		obj.RAMAllocationRatio = defaultRAMAllocationRatio
	}
	if obj.DiskAllocationRatio == 0 {
		obj.DiskAllocationRatio = defaultDiskAllocationRatio
	}
	if obj.ReservedHostMemoryMB == nil {
		obj.ReservedHostMemoryMB = ptr.To(defaultReservedHostMemoryMB)
	}
	if obj.ReservedHostDiskMB == nil {
		obj.ReservedHostDiskMB = ptr.To(defaultReservedHostDiskMB)
	}
	if obj.DefaultAvailabilityZone == "" {
		obj.DefaultAvailabilityZone = defaultAvailabilityZone
	}
	if obj.MaxAttempts == nil {
		obj.MaxAttempts = ptr.To(defaultMaxAttempts)
	}
	if obj.ReportTTL == nil {
		obj.ReportTTL = &metav1.Duration{Duration: defaultReportTTL}
	}
	if obj.ReportResyncPeriod == nil {
		obj.ReportResyncPeriod = &metav1.Duration{Duration: defaultReportResyncPeriod}
	}
}

// NewDefaultSchedulerConfiguration returns a configuration with every default applied.
func NewDefaultSchedulerConfiguration() *SchedulerConfiguration {
	cfg := &SchedulerConfiguration{}
	SetDefaults_SchedulerConfiguration(cfg)
	return cfg
}
