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

package pci

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
)

// Pool groups the free devices of a host that share one matchable signature.
type Pool struct {
	VendorID  string
	ProductID string
	DevType   v1alpha1.PCIDeviceType
	// NUMANode is nil when the device locality is unknown.
	NUMANode *int
	Tags     map[string]string
	Count    int
}

func (p *Pool) attr(key string) (string, bool) {
	switch key {
	case KeyVendorID:
		return p.VendorID, true
	case KeyProductID:
		return p.ProductID, true
	case KeyDevType:
		return string(p.DevType), true
	case KeyNUMANode:
		if p.NUMANode == nil {
			return "", false
		}
		return strconv.Itoa(*p.NUMANode), true
	}
	v, ok := p.Tags[key]
	return v, ok
}

// matches reports whether every key of spec equals the pool attribute of the same name.
func (p *Pool) matches(spec map[string]string) bool {
	for k, want := range spec {
		got, ok := p.attr(k)
		if !ok {
			return false
		}
		if k == KeyVendorID || k == KeyProductID {
			if normalizeHex(got) != normalizeHex(want) {
				return false
			}
			continue
		}
		if got != want {
			return false
		}
	}
	return true
}

func (p *Pool) onCells(cells []int) bool {
	if cells == nil || p.NUMANode == nil {
		return true
	}
	for _, c := range cells {
		if c == *p.NUMANode {
			return true
		}
	}
	return false
}

// key identifies the signature of the pool; devices with equal keys share a pool.
func (p *Pool) key() string {
	numa := "-"
	if p.NUMANode != nil {
		numa = strconv.Itoa(*p.NUMANode)
	}
	tags := make([]string, 0, len(p.Tags))
	for k, v := range p.Tags {
		tags = append(tags, k+"="+v)
	}
	sort.Strings(tags)
	return strings.Join([]string{numa, p.VendorID, p.ProductID, string(p.DevType), strings.Join(tags, ",")}, "/")
}

func (p *Pool) clone() *Pool {
	out := *p
	if p.NUMANode != nil {
		n := *p.NUMANode
		out.NUMANode = &n
	}
	if p.Tags != nil {
		out.Tags = make(map[string]string, len(p.Tags))
		for k, v := range p.Tags {
			out.Tags[k] = v
		}
	}
	return &out
}

// DeviceStats is the pooled free-device accounting of one host. Pools are kept ordered
// by key so that request matching is deterministic.
type DeviceStats struct {
	pools []*Pool
}

func NewDeviceStats() *DeviceStats {
	return &DeviceStats{}
}

// AddDevice adds one free device with the tags of the whitelist spec that admitted it.
func (s *DeviceStats) AddDevice(dev *v1alpha1.PCIDevice, tags map[string]string) {
	devType := dev.DevType
	if devType == "" {
		devType = v1alpha1.PCIDeviceTypePCI
	}
	candidate := &Pool{
		VendorID:  normalizeHex(dev.VendorID),
		ProductID: normalizeHex(dev.ProductID),
		DevType:   devType,
		NUMANode:  dev.NUMANode,
		Tags:      tags,
	}
	candidate = candidate.clone()
	key := candidate.key()
	i := sort.Search(len(s.pools), func(i int) bool { return s.pools[i].key() >= key })
	if i < len(s.pools) && s.pools[i].key() == key {
		s.pools[i].Count++
		return
	}
	candidate.Count = 1
	s.pools = append(s.pools, nil)
	copy(s.pools[i+1:], s.pools[i:])
	s.pools[i] = candidate
}

// Pools returns a copy of the pools.
func (s *DeviceStats) Pools() []Pool {
	if s == nil {
		return nil
	}
	out := make([]Pool, 0, len(s.pools))
	for _, p := range s.pools {
		out = append(out, *p.clone())
	}
	return out
}

// FreeCount returns the number of free devices over all pools.
func (s *DeviceStats) FreeCount() int {
	if s == nil {
		return 0
	}
	var n int
	for _, p := range s.pools {
		n += p.Count
	}
	return n
}

func (s *DeviceStats) Clone() *DeviceStats {
	if s == nil {
		return nil
	}
	out := &DeviceStats{pools: make([]*Pool, 0, len(s.pools))}
	for _, p := range s.pools {
		out.pools = append(out.pools, p.clone())
	}
	return out
}

// SupportRequests reports whether all requests can be satisfied together.
func (s *DeviceStats) SupportRequests(requests []v1alpha1.InstancePCIRequest) bool {
	return s.SupportRequestsOnCells(requests, nil)
}

// SupportRequestsOnCells is SupportRequests restricted to devices local to the given NUMA
// cells. Devices with unknown locality are usable from any cell. A nil cells slice means
// no restriction. Consumption is simulated on a copy, so requests in the same call never
// count the same free device twice.
func (s *DeviceStats) SupportRequestsOnCells(requests []v1alpha1.InstancePCIRequest, cells []int) bool {
	if len(requests) == 0 {
		return true
	}
	if s == nil {
		return false
	}
	return s.Clone().consume(requests, cells) == nil
}

// ApplyRequests consumes devices for all requests. Pools are left unchanged on failure.
func (s *DeviceStats) ApplyRequests(requests []v1alpha1.InstancePCIRequest, cells []int) error {
	if len(requests) == 0 {
		return nil
	}
	if s == nil {
		return fmt.Errorf("host has no PCI device pools")
	}
	staged := s.Clone()
	if err := staged.consume(requests, cells); err != nil {
		return err
	}
	s.pools = staged.pools
	return nil
}

// consume takes devices for all requests. Every combination of alternatives and pools is
// searched in order, so the outcome does not depend on the order of the requests.
func (s *DeviceStats) consume(requests []v1alpha1.InstancePCIRequest, cells []int) error {
	for i := range requests {
		if requests[i].Count < 1 {
			return fmt.Errorf("PCI request %d has invalid count %d", i, requests[i].Count)
		}
	}
	if s.assign(requests, cells) {
		return nil
	}
	for i := range requests {
		req := &requests[i]
		if len(s.candidates(req, cells)) == 0 {
			return fmt.Errorf("no PCI device pool can supply %d devices for request %s", req.Count, describeRequest(i, req))
		}
	}
	return fmt.Errorf("PCI requests cannot be satisfied together by the free device pools")
}

// assign claims a pool for requests[0] and recurses on the rest, undoing the claim when
// the rest cannot be satisfied.
func (s *DeviceStats) assign(requests []v1alpha1.InstancePCIRequest, cells []int) bool {
	if len(requests) == 0 {
		return true
	}
	req := &requests[0]
	for _, p := range s.candidates(req, cells) {
		p.Count -= req.Count
		if s.assign(requests[1:], cells) {
			return true
		}
		p.Count += req.Count
	}
	return false
}

// candidates returns the distinct pools with enough free devices for req, in alternative
// order then pool order.
func (s *DeviceStats) candidates(req *v1alpha1.InstancePCIRequest, cells []int) []*Pool {
	var pools []*Pool
	seen := map[*Pool]bool{}
	for _, alt := range req.Spec {
		for _, p := range s.pools {
			if seen[p] || p.Count < req.Count || !p.onCells(cells) || !p.matches(alt) {
				continue
			}
			seen[p] = true
			pools = append(pools, p)
		}
	}
	return pools
}

func describeRequest(i int, req *v1alpha1.InstancePCIRequest) string {
	if req.AliasName != "" {
		return fmt.Sprintf("%d (alias %s)", i, req.AliasName)
	}
	return strconv.Itoa(i)
}
