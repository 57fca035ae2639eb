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

package extension

// FleetSchedulerName is the name of the scheduler binary.
const FleetSchedulerName = "fleet-scheduler"

// Defines the host aggregate metadata keys understood by the in-tree filters and weighers.
// Aggregate metadata values may be comma separated lists when a host belongs to
// several aggregates that set the same key.
const (
	// AggregateAvailabilityZone is the zone (or zones) a host belongs to.
	AggregateAvailabilityZone = "availability_zone"
	// AggregateMaxInstancesPerHost overrides the global instance limit.
	AggregateMaxInstancesPerHost = "max_instances_per_host"
	// AggregateMaxIOOpsPerHost overrides the global concurrent I/O intensive operation limit.
	AggregateMaxIOOpsPerHost = "max_io_ops_per_host"
	// AggregateCPUAllocationRatio overrides the host reported CPU oversubscription ratio.
	AggregateCPUAllocationRatio = "cpu_allocation_ratio"
	// AggregateRAMAllocationRatio overrides the host reported RAM oversubscription ratio.
	AggregateRAMAllocationRatio = "ram_allocation_ratio"
	// AggregateDiskAllocationRatio overrides the host reported disk oversubscription ratio.
	AggregateDiskAllocationRatio = "disk_allocation_ratio"

	// weightMultiplierSuffix is appended to a lower-cased weigher name to form
	// a per-aggregate multiplier override, e.g. "ram_weight_multiplier".
	weightMultiplierSuffix = "_weight_multiplier"
)

// Defines the host stats keys reported by the capability feed.
const (
	// StatNumIOOps is the number of in-flight I/O intensive tasks (builds, resizes, snapshots).
	StatNumIOOps = "io_workload"
	// StatNumInstances is the number of instances on the host.
	StatNumInstances = "num_instances"
)
