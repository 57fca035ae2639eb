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

package hoststate

import (
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/atomic"
	"k8s.io/klog/v2"

	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/metrics"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/pci"
)

const ManagerName = "HostStateManager"

// Manager keeps the latest HostState of every reporting host. Reports expire after the
// configured TTL so that hosts which stopped reporting drop out of scheduling.
// Stored states are never mutated; readers always get deep copies.
type Manager struct {
	// lock serializes writers so that the generation reflects the store content.
	lock       sync.Mutex
	hosts      *gocache.Cache
	generation *atomic.Int64

	whitelist *pci.Whitelist
	defaults  Defaults
}

// NewManager creates a Manager. A ttl of zero keeps reports forever.
func NewManager(ttl time.Duration, whitelist *pci.Whitelist, defaults Defaults) *Manager {
	expiration := ttl
	if ttl <= 0 {
		expiration = gocache.NoExpiration
	}
	return &Manager{
		hosts:      gocache.New(expiration, ttl),
		generation: atomic.NewInt64(0),
		whitelist:  whitelist,
		defaults:   defaults,
	}
}

func (m *Manager) Name() string {
	return ManagerName
}

// UpdateReport replaces the state of the reporting host.
func (m *Manager) UpdateReport(report *v1alpha1.HostCapabilityReport) error {
	h, err := NewHostStateFromReport(report, m.whitelist, m.defaults)
	metrics.RecordHostReport(err == nil)
	if err != nil {
		return err
	}
	m.Set(h)
	klog.V(5).InfoS("Updated host state", "host", h.Host, "node", h.Node, "state", h.String())
	return nil
}

// Set stores a copy of h.
func (m *Manager) Set(h *HostState) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.hosts.Set(h.Key(), h.DeepCopy(), gocache.DefaultExpiration)
	m.generation.Inc()
	metrics.RecordHostFreeResources(h.Host, h.Node, map[string]float64{
		metrics.ResourceFreeRAMMB:  float64(h.FreeRAMMB),
		metrics.ResourceFreeDiskMB: float64(h.FreeDiskMB),
		metrics.ResourceFreeVCPUs:  float64(h.VCPUsTotal)*h.CPUAllocationRatio - h.VCPUsUsed,
		metrics.ResourceFreePCI:    float64(h.PCIStats.FreeCount()),
	})
}

// RemoveHost forgets a host. It reports whether the host was known.
func (m *Manager) RemoveHost(host, node string) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	key := hostKey(host, node)
	if _, ok := m.hosts.Get(key); !ok {
		return false
	}
	m.hosts.Delete(key)
	m.generation.Inc()
	if node == "" {
		node = host
	}
	metrics.ForgetHost(host, node)
	return true
}

// Get returns a copy of the state of one host.
func (m *Manager) Get(host, node string) (*HostState, bool) {
	v, ok := m.hosts.Get(hostKey(host, node))
	if !ok {
		return nil, false
	}
	return v.(*HostState).DeepCopy(), true
}

// Len returns the number of unexpired hosts.
func (m *Manager) Len() int {
	return len(m.hosts.Items())
}

// Generation increases with every change of the store.
func (m *Manager) Generation() int64 {
	return m.generation.Load()
}

// Snapshot returns private copies of all unexpired hosts.
func (m *Manager) Snapshot() *Snapshot {
	m.lock.Lock()
	items := m.hosts.Items()
	generation := m.generation.Load()
	m.lock.Unlock()

	hosts := make([]*HostState, 0, len(items))
	for _, item := range items {
		hosts = append(hosts, item.Object.(*HostState).DeepCopy())
	}
	return NewSnapshot(generation, hosts)
}

// Snapshot is the set of HostStates one scheduling pass works on. Hosts are ordered by
// host then node name, which keeps filtering and tie breaking deterministic.
type Snapshot struct {
	Generation int64
	hosts      []*HostState
	index      map[string]int
}

// NewSnapshot takes ownership of hosts.
func NewSnapshot(generation int64, hosts []*HostState) *Snapshot {
	sort.Slice(hosts, func(i, j int) bool {
		if hosts[i].Host != hosts[j].Host {
			return hosts[i].Host < hosts[j].Host
		}
		return hosts[i].Node < hosts[j].Node
	})
	index := make(map[string]int, len(hosts))
	for i, h := range hosts {
		index[h.Key()] = i
	}
	return &Snapshot{Generation: generation, hosts: hosts, index: index}
}

// Hosts returns the hosts of the snapshot in order. The slice is shared.
func (s *Snapshot) Hosts() []*HostState {
	return s.hosts
}

func (s *Snapshot) Get(host, node string) *HostState {
	i, ok := s.index[hostKey(host, node)]
	if !ok {
		return nil
	}
	return s.hosts[i]
}

func (s *Snapshot) Len() int {
	return len(s.hosts)
}
