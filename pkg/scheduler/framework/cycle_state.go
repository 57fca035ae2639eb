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

package framework

import (
	"errors"
	"sync"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/numa"
)

// ErrNotFound is returned by CycleState.Read for unknown keys.
var ErrNotFound = errors.New("not found")

// StateKey is the key of plugin data in a CycleState.
type StateKey string

// StateData is plugin data stored in a CycleState.
type StateData interface {
	Clone() StateData
}

// CycleState is the scratch space of one placement call. It is shared by all
// instances of the batch.
type CycleState struct {
	RequestID string
	// Retry is nil on the first attempt.
	Retry *v1alpha1.RetryInfo
	// InstanceIndex is the index of the instance being placed within the batch.
	InstanceIndex int

	retryHosts sets.Set[string]
	storage    sync.Map
}

func NewCycleState(requestID string, props *v1alpha1.FilterProperties) *CycleState {
	s := &CycleState{RequestID: requestID, retryHosts: sets.New[string]()}
	if props != nil && props.Retry != nil {
		s.Retry = props.Retry
		for _, hn := range props.Retry.Hosts {
			s.retryHosts.Insert(retryKey(hn.Host, hn.Node))
		}
	}
	return s
}

func retryKey(host, node string) string {
	return host + "/" + node
}

// Attempted reports whether host was already tried for this request.
func (s *CycleState) Attempted(host, node string) bool {
	return s.retryHosts.Has(retryKey(host, node))
}

func (s *CycleState) Read(key StateKey) (StateData, error) {
	if v, ok := s.storage.Load(key); ok {
		return v.(StateData), nil
	}
	return nil, ErrNotFound
}

func (s *CycleState) Write(key StateKey, val StateData) {
	s.storage.Store(key, val)
}

func (s *CycleState) Delete(key StateKey) {
	s.storage.Delete(key)
}

const numaFitsStateKey StateKey = "NUMAFits"

// numaFits holds the NUMA fit computed for each host in the current filter pass.
type numaFits struct {
	lock sync.Mutex
	fits map[string]*numa.InstanceFit
}

func (f *numaFits) Clone() StateData {
	return f
}

// SetNUMAFit records the NUMA fit of the instance on a host, to be claimed when the host wins.
func (s *CycleState) SetNUMAFit(hostKey string, fit *numa.InstanceFit) {
	v, _ := s.storage.LoadOrStore(numaFitsStateKey, &numaFits{fits: map[string]*numa.InstanceFit{}})
	fits := v.(*numaFits)
	fits.lock.Lock()
	defer fits.lock.Unlock()
	fits.fits[hostKey] = fit
}

// NUMAFit returns the NUMA fit recorded for a host, or nil.
func (s *CycleState) NUMAFit(hostKey string) *numa.InstanceFit {
	v, ok := s.storage.Load(numaFitsStateKey)
	if !ok {
		return nil
	}
	fits := v.(*numaFits)
	fits.lock.Lock()
	defer fits.lock.Unlock()
	return fits.fits[hostKey]
}

// ResetNUMAFits drops the fits of the previous instance of the batch.
func (s *CycleState) ResetNUMAFits() {
	s.storage.Delete(numaFitsStateKey)
}
