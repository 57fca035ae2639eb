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

package v1alpha1

// RequestSpec describes the placement of one or more identical instances.
type RequestSpec struct {
	// RequestID correlates log lines of one placement call. Generated when empty.
	RequestID string `json:"requestID,omitempty"`
	// InstanceUUID is the first instance of the batch, if known.
	InstanceUUID string `json:"instanceUUID,omitempty"`
	ProjectID    string `json:"projectID,omitempty"`

	Flavor Flavor    `json:"flavor"`
	Image  ImageMeta `json:"image,omitempty"`

	// AvailabilityZone is the requested zone. Empty means any zone.
	AvailabilityZone string `json:"availabilityZone,omitempty"`
	// SchedulerHints are free-form hints passed through by the orchestrator.
	SchedulerHints map[string][]string `json:"schedulerHints,omitempty"`
	// InstanceGroup is the server group the instances join, if any.
	InstanceGroup *InstanceGroup `json:"instanceGroup,omitempty"`

	PCIRequests  []InstancePCIRequest `json:"pciRequests,omitempty" validate:"dive"`
	NUMATopology *NUMATopologyRequest `json:"numaTopology,omitempty"`

	// ForceHosts and ForceNodes restrict the candidates to the listed hosts and nodes.
	ForceHosts []string `json:"forceHosts,omitempty"`
	ForceNodes []string `json:"forceNodes,omitempty"`
	// IgnoreHosts removes the listed hosts from the candidates.
	IgnoreHosts []string `json:"ignoreHosts,omitempty"`

	// NumInstances is the number of instances to place.
	NumInstances int `json:"numInstances" validate:"gte=1"`
}

// Flavor is the resource shape of one instance.
type Flavor struct {
	Name        string            `json:"name,omitempty"`
	VCPUs       int               `json:"vcpus" validate:"gte=0"`
	MemoryMB    int64             `json:"memoryMB" validate:"gte=0"`
	RootGB      int64             `json:"rootGB,omitempty" validate:"gte=0"`
	EphemeralGB int64             `json:"ephemeralGB,omitempty" validate:"gte=0"`
	SwapMB      int64             `json:"swapMB,omitempty" validate:"gte=0"`
	ExtraSpecs  map[string]string `json:"extraSpecs,omitempty"`
}

// DiskMB returns the local disk the flavor consumes on a host.
func (f *Flavor) DiskMB() int64 {
	return (f.RootGB+f.EphemeralGB)*1024 + f.SwapMB
}

// ImageMeta carries the image properties relevant to placement.
type ImageMeta struct {
	Name       string            `json:"name,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// InstanceGroupPolicy is the placement policy of a server group.
type InstanceGroupPolicy string

const (
	InstanceGroupPolicyAffinity         InstanceGroupPolicy = "affinity"
	InstanceGroupPolicyAntiAffinity     InstanceGroupPolicy = "anti-affinity"
	InstanceGroupPolicySoftAffinity     InstanceGroupPolicy = "soft-affinity"
	InstanceGroupPolicySoftAntiAffinity InstanceGroupPolicy = "soft-anti-affinity"
)

// InstanceGroup is a server group and the hosts its members already run on.
type InstanceGroup struct {
	UUID   string              `json:"uuid"`
	Name   string              `json:"name,omitempty"`
	Policy InstanceGroupPolicy `json:"policy"`
	// MaxServerPerHost applies to anti-affinity. Zero means one member per host.
	MaxServerPerHost int `json:"maxServerPerHost,omitempty"`
	// Hosts lists the host of every existing member; a host appears once per member.
	Hosts   []string `json:"hosts,omitempty"`
	Members []string `json:"members,omitempty"`
}

// InstancePCIRequest asks for Count devices matching any one of the Spec alternatives.
type InstancePCIRequest struct {
	Count int `json:"count" validate:"gte=1"`
	// Spec is an ordered list of alternative match criteria, e.g. {"vendor_id": "8086", "product_id": "1520"}.
	Spec      []map[string]string `json:"spec" validate:"min=1"`
	AliasName string              `json:"aliasName,omitempty"`
	RequestID string              `json:"requestID,omitempty"`
}

// CPUPolicy controls whether guest vCPUs float over the host cell or are pinned.
type CPUPolicy string

const (
	CPUPolicyShared    CPUPolicy = "shared"
	CPUPolicyDedicated CPUPolicy = "dedicated"
)

// CPUThreadPolicy controls how pinned vCPUs are placed on hyperthread siblings.
type CPUThreadPolicy string

const (
	// CPUThreadPolicyPrefer packs vCPUs onto siblings when possible.
	CPUThreadPolicyPrefer CPUThreadPolicy = "prefer"
	// CPUThreadPolicyIsolate places one vCPU per core and claims the whole core.
	CPUThreadPolicyIsolate CPUThreadPolicy = "isolate"
	// CPUThreadPolicyRequire places vCPUs only on complete sibling sets.
	CPUThreadPolicyRequire CPUThreadPolicy = "require"
)

// NUMATopologyRequest are the guest NUMA and CPU pinning constraints.
type NUMATopologyRequest struct {
	CPUPolicy       CPUPolicy       `json:"cpuPolicy,omitempty"`
	CPUThreadPolicy CPUThreadPolicy `json:"cpuThreadPolicy,omitempty"`
	// PageSizeKB requests guest memory backed by pages of this size. Zero means small pages.
	PageSizeKB int64 `json:"pageSizeKB,omitempty" validate:"gte=0"`
	// Cells are the guest NUMA cells. When empty, a single cell holding the whole flavor is assumed.
	Cells []NUMACellRequest `json:"cells,omitempty" validate:"dive"`
}

// NUMACellRequest is one guest NUMA cell.
type NUMACellRequest struct {
	VCPUs    int   `json:"vcpus" validate:"gte=1"`
	MemoryMB int64 `json:"memoryMB" validate:"gte=1"`
}

// HostNode identifies one compute node of one host.
type HostNode struct {
	Host string `json:"host"`
	Node string `json:"node"`
}

// RetryInfo is the retry history threaded by the orchestrator through re-invocations.
type RetryInfo struct {
	NumAttempts int        `json:"numAttempts"`
	Hosts       []HostNode `json:"hosts,omitempty"`
}

// FilterProperties accompanies a RequestSpec and is updated by the scheduler.
type FilterProperties struct {
	// Retry is nil when retries are disabled for the request.
	Retry *RetryInfo `json:"retry,omitempty"`
	// Limits are the limits of the last selected host.
	Limits *Limits `json:"limits,omitempty"`
}
