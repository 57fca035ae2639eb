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
	"fmt"
	"sort"
	"strings"
)

// FilterResult counts the hosts a filter saw and kept.
type FilterResult struct {
	Filter string `json:"filter"`
	Before int    `json:"before"`
	After  int    `json:"after"`
}

// HostFailure is the first filter that rejected a host.
type HostFailure struct {
	Host   string `json:"host"`
	Filter string `json:"filter"`
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
}

// Diagnosis explains one filter pass. It is for logs and metrics only and is never
// handed to the caller of the scheduler.
type Diagnosis struct {
	RequestID     string         `json:"requestID"`
	InstanceIndex int            `json:"instanceIndex"`
	NumHosts      int            `json:"numHosts"`
	Filters       []FilterResult `json:"filters"`

	hostToStatus map[string]*Status
}

func newDiagnosis(state *CycleState, numHosts int) *Diagnosis {
	return &Diagnosis{
		RequestID:     state.RequestID,
		InstanceIndex: state.InstanceIndex,
		NumHosts:      numHosts,
		hostToStatus:  map[string]*Status{},
	}
}

func (d *Diagnosis) recordFailure(hostKey string, status *Status) {
	d.hostToStatus[hostKey] = status
}

// Eliminations returns how many hosts each filter removed, keyed by filter name.
func (d *Diagnosis) Eliminations() map[string]int {
	out := make(map[string]int, len(d.Filters))
	for _, r := range d.Filters {
		out[r.Filter] += r.Before - r.After
	}
	return out
}

// HostFailures returns the rejected hosts ordered by host key.
func (d *Diagnosis) HostFailures() []HostFailure {
	failures := make([]HostFailure, 0, len(d.hostToStatus))
	for host, status := range d.hostToStatus {
		failures = append(failures, HostFailure{
			Host:   host,
			Filter: status.Plugin(),
			Code:   status.Code().String(),
			Reason: status.Message(),
		})
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].Host < failures[j].Host })
	return failures
}

// Summary renders the eliminations as "0/3 hosts are available: 2 RamFilter, 1 RetryFilter.".
func (d *Diagnosis) Summary() string {
	available := d.NumHosts
	if len(d.Filters) > 0 {
		available = d.Filters[len(d.Filters)-1].After
	}
	var parts []string
	for _, r := range d.Filters {
		if n := r.Before - r.After; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, r.Filter))
		}
	}
	msg := fmt.Sprintf("%d/%d hosts are available", available, d.NumHosts)
	if len(parts) > 0 {
		msg += ": " + strings.Join(parts, ", ")
	}
	return msg + "."
}
