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
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/apis/config"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/hoststate"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/pci"
	schedulertesting "github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/testing"
)

type fakeHandle struct {
	cfg *config.SchedulerConfiguration
}

func (h *fakeHandle) Config() *config.SchedulerConfiguration { return h.cfg }
func (h *fakeHandle) PCIWhitelist() *pci.Whitelist           { return nil }

// fakeFilter returns the status configured for each host, Success otherwise.
type fakeFilter struct {
	name     string
	policy   MissingDataPolicy
	statuses map[string]*Status
}

func (f *fakeFilter) Name() string                         { return f.name }
func (f *fakeFilter) MissingDataPolicy() MissingDataPolicy { return f.policy }
func (f *fakeFilter) Filter(_ context.Context, _ *CycleState, _ *v1alpha1.RequestSpec, h *hoststate.HostState) *Status {
	return f.statuses[h.Host]
}

// fakeWeigher scores hosts from a fixed table.
type fakeWeigher struct {
	name   string
	scores map[string]float64
}

func (w *fakeWeigher) Name() string { return w.name }
func (w *fakeWeigher) Weigh(_ context.Context, _ *CycleState, _ *v1alpha1.RequestSpec, h *hoststate.HostState) float64 {
	return w.scores[h.Host]
}

func newFrameworkForTest(t *testing.T, filters []*fakeFilter, weighers []*fakeWeigher, multipliers []float64) *Framework {
	registry := NewRegistry()
	cfg := &config.SchedulerConfiguration{}
	for _, f := range filters {
		f := f
		require.NoError(t, registry.RegisterFilter(f.name, func(Handle) (FilterPlugin, error) { return f, nil }))
		cfg.EnabledFilters = append(cfg.EnabledFilters, f.name)
	}
	for i, w := range weighers {
		w := w
		require.NoError(t, registry.RegisterWeigher(w.name, func(Handle) (WeigherPlugin, error) { return w, nil }))
		cfg.EnabledWeighers = append(cfg.EnabledWeighers, config.WeigherConfig{Name: w.name, Multiplier: multipliers[i]})
	}
	fw, err := NewFramework(registry, &fakeHandle{cfg: cfg})
	require.NoError(t, err)
	return fw
}

func hostsForTest(names ...string) []*hoststate.HostState {
	hosts := make([]*hoststate.HostState, 0, len(names))
	for _, name := range names {
		hosts = append(hosts, schedulertesting.MakeHost(name).Obj())
	}
	return hosts
}

func hostNames(hosts []*hoststate.HostState) []string {
	var names []string
	for _, h := range hosts {
		names = append(names, h.Host)
	}
	return names
}

func TestRunFilterPlugins(t *testing.T) {
	tests := []struct {
		name          string
		filters       []*fakeFilter
		wantHosts     []string
		wantErr       bool
		wantSummary   string
		wantFailures  map[string]string
		wantFilterLen int
	}{
		{
			name: "filters are AND combined",
			filters: []*fakeFilter{
				{name: "A", statuses: map[string]*Status{"h1": NewStatus(Unschedulable, "not enough RAM")}},
				{name: "B", statuses: map[string]*Status{"h3": NewStatus(Unschedulable, "wrong zone")}},
			},
			wantHosts:     []string{"h2"},
			wantSummary:   "1/3 hosts are available: 1 A, 1 B.",
			wantFailures:  map[string]string{"h1": "A", "h3": "B"},
			wantFilterLen: 2,
		},
		{
			name: "missing data excludes by default",
			filters: []*fakeFilter{
				{name: "A", statuses: map[string]*Status{"h1": NewStatus(MissingData, "no PCI stats")}},
			},
			wantHosts:     []string{"h2", "h3"},
			wantSummary:   "2/3 hosts are available: 1 A.",
			wantFailures:  map[string]string{"h1": "A"},
			wantFilterLen: 1,
		},
		{
			name: "missing data passes with neutral policy",
			filters: []*fakeFilter{
				{name: "A", policy: NeutralOnMissingData, statuses: map[string]*Status{"h1": NewStatus(MissingData, "no zone")}},
			},
			wantHosts:     []string{"h1", "h2", "h3"},
			wantSummary:   "3/3 hosts are available.",
			wantFailures:  map[string]string{},
			wantFilterLen: 1,
		},
		{
			name: "chain stops when no host is left",
			filters: []*fakeFilter{
				{name: "A", statuses: map[string]*Status{
					"h1": NewStatus(Unschedulable), "h2": NewStatus(Unschedulable), "h3": NewStatus(Unschedulable),
				}},
				{name: "B", statuses: map[string]*Status{"h1": NewStatus(Error, "must not run")}},
			},
			wantHosts:     []string{},
			wantSummary:   "0/3 hosts are available: 3 A.",
			wantFailures:  map[string]string{"h1": "A", "h2": "A", "h3": "A"},
			wantFilterLen: 1,
		},
		{
			name: "error aborts the pass",
			filters: []*fakeFilter{
				{name: "A", statuses: map[string]*Status{"h2": AsStatus(errors.New("boom"))}},
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fw := newFrameworkForTest(t, tt.filters, nil, nil)
			state := NewCycleState("req-1", nil)
			passed, diagnosis, err := fw.RunFilterPlugins(context.TODO(), state, &v1alpha1.RequestSpec{}, hostsForTest("h1", "h2", "h3"))
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, passed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHosts, append([]string{}, hostNames(passed)...))
			assert.Equal(t, tt.wantSummary, diagnosis.Summary())
			assert.Len(t, diagnosis.Filters, tt.wantFilterLen)
			failures := map[string]string{}
			for _, f := range diagnosis.HostFailures() {
				failures[f.Host] = f.Filter
			}
			assert.Equal(t, tt.wantFailures, failures)
		})
	}
}

func TestDiagnosisEliminations(t *testing.T) {
	fw := newFrameworkForTest(t, []*fakeFilter{
		{name: "A", statuses: map[string]*Status{"h2": NewStatus(Unschedulable, "full")}},
	}, nil, nil)
	_, diagnosis, err := fw.RunFilterPlugins(context.TODO(), NewCycleState("req-1", nil), &v1alpha1.RequestSpec{}, hostsForTest("h1", "h2"))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"A": 1}, diagnosis.Eliminations())
	assert.Equal(t, []HostFailure{{Host: "h2", Filter: "A", Code: "Unschedulable", Reason: "full"}}, diagnosis.HostFailures())
	assert.Equal(t, "req-1", diagnosis.RequestID)
}

func TestRunWeigherPlugins(t *testing.T) {
	tests := []struct {
		name        string
		weighers    []*fakeWeigher
		multipliers []float64
		hosts       []*hoststate.HostState
		wantOrder   []string
		wantWeights []float64
	}{
		{
			name:        "single weigher favours more free RAM",
			weighers:    []*fakeWeigher{{name: "RAMWeigher", scores: map[string]float64{"h1": 4096, "h2": 1024}}},
			multipliers: []float64{1},
			hosts:       hostsForTest("h2", "h1"),
			wantOrder:   []string{"h1", "h2"},
			wantWeights: []float64{1, 0},
		},
		{
			name: "weights are normalized before summing",
			weighers: []*fakeWeigher{
				{name: "RAMWeigher", scores: map[string]float64{"h1": 100000, "h2": 0, "h3": 50000}},
				{name: "IoOpsWeigher", scores: map[string]float64{"h1": 4, "h2": 0, "h3": 2}},
			},
			multipliers: []float64{1, -2},
			hosts:       hostsForTest("h1", "h2", "h3"),
			wantOrder:   []string{"h2", "h3", "h1"},
			wantWeights: []float64{0, -0.5, -1},
		},
		{
			name:        "ties are broken by host name",
			weighers:    []*fakeWeigher{{name: "RAMWeigher", scores: map[string]float64{"h1": 1, "h2": 1, "h3": 1}}},
			multipliers: []float64{1},
			hosts:       hostsForTest("h3", "h1", "h2"),
			wantOrder:   []string{"h1", "h2", "h3"},
			wantWeights: []float64{0, 0, 0},
		},
		{
			name:        "aggregate metadata overrides the multiplier",
			weighers:    []*fakeWeigher{{name: "RAMWeigher", scores: map[string]float64{"h1": 2, "h2": 1}}},
			multipliers: []float64{1},
			hosts: []*hoststate.HostState{
				schedulertesting.MakeHost("h1").Aggregate("agg", map[string]string{"ram_weight_multiplier": "-1"}).Obj(),
				schedulertesting.MakeHost("h2").Obj(),
			},
			wantOrder:   []string{"h2", "h1"},
			wantWeights: []float64{0, -1},
		},
		{
			name:        "invalid override falls back to the configured multiplier",
			weighers:    []*fakeWeigher{{name: "RAMWeigher", scores: map[string]float64{"h1": 2, "h2": 1}}},
			multipliers: []float64{3},
			hosts: []*hoststate.HostState{
				schedulertesting.MakeHost("h1").Aggregate("agg", map[string]string{"ram_weight_multiplier": "many"}).Obj(),
				schedulertesting.MakeHost("h2").Obj(),
			},
			wantOrder:   []string{"h1", "h2"},
			wantWeights: []float64{3, 0},
		},
		{
			name:        "not finite override falls back to the configured multiplier",
			weighers:    []*fakeWeigher{{name: "RAMWeigher", scores: map[string]float64{"a": 1024, "b": 8192, "c": 4096}}},
			multipliers: []float64{1},
			hosts: []*hoststate.HostState{
				schedulertesting.MakeHost("a").Aggregate("agg", map[string]string{"ram_weight_multiplier": "NaN"}).Obj(),
				schedulertesting.MakeHost("b").Obj(),
				schedulertesting.MakeHost("c").Aggregate("agg", map[string]string{"ram_weight_multiplier": "Inf"}).Obj(),
			},
			wantOrder:   []string{"b", "c", "a"},
			wantWeights: []float64{1, 3072.0 / 7168.0, 0},
		},
		{
			name:        "no weighers keeps name order",
			hosts:       hostsForTest("b", "a"),
			wantOrder:   []string{"a", "b"},
			wantWeights: []float64{0, 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fw := newFrameworkForTest(t, nil, tt.weighers, tt.multipliers)
			weighed := fw.RunWeigherPlugins(context.TODO(), NewCycleState("req-1", nil), &v1alpha1.RequestSpec{}, tt.hosts)
			var order []string
			var weights []float64
			for _, wh := range weighed {
				order = append(order, wh.Host.Host)
				weights = append(weights, wh.Weight)
				assert.Len(t, wh.Scores, len(tt.weighers))
			}
			assert.Equal(t, tt.wantOrder, order)
			assert.InDeltaSlice(t, tt.wantWeights, weights, 1e-9)
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   []float64
	}{
		{name: "empty", values: nil, want: []float64{}},
		{name: "equal values", values: []float64{3, 3, 3}, want: []float64{0, 0, 0}},
		{name: "range", values: []float64{1, 3, 2}, want: []float64{0, 1, 0.5}},
		{name: "negative", values: []float64{-4, 0}, want: []float64{0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.values))
		})
	}
}

func TestNewFrameworkUnknownPlugin(t *testing.T) {
	registry := NewRegistry()
	_, err := NewFramework(registry, &fakeHandle{cfg: &config.SchedulerConfiguration{EnabledFilters: []string{"Nope"}}})
	assert.Error(t, err)
	_, err = NewFramework(registry, &fakeHandle{cfg: &config.SchedulerConfiguration{
		EnabledWeighers: []config.WeigherConfig{{Name: "Nope", Multiplier: 1}},
	}})
	assert.Error(t, err)

	require.NoError(t, registry.RegisterFilter("Broken", func(Handle) (FilterPlugin, error) { return nil, errors.New("bad args") }))
	_, err = NewFramework(registry, &fakeHandle{cfg: &config.SchedulerConfiguration{EnabledFilters: []string{"Broken"}}})
	assert.ErrorContains(t, err, "bad args")
}

func TestFrameworkChains(t *testing.T) {
	fw := newFrameworkForTest(t,
		[]*fakeFilter{{name: "B"}, {name: "A"}},
		[]*fakeWeigher{{name: "W"}},
		[]float64{2.5})
	assert.Equal(t, []string{"B", "A"}, fw.FilterNames())
	assert.Equal(t, []WeigherInfo{{Name: "W", Multiplier: 2.5}}, fw.Weighers())
}
