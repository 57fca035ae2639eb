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
	"fmt"
	"sort"

	"k8s.io/klog/v2"

	"github.com/koordinator-sh/fleet-scheduler/apis/extension"
	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/hoststate"
)

type weigher struct {
	WeigherPlugin
	multiplier    float64
	multiplierKey string
}

// multiplierFor returns the multiplier of the weigher on host, preferring the
// "<weigher>_weight_multiplier" aggregate metadata of the host.
func (w *weigher) multiplierFor(host *hoststate.HostState) float64 {
	v, found, err := extension.GetMetadataFloat(host.Metadata, w.multiplierKey)
	if err != nil {
		klog.InfoS("Ignoring invalid weight multiplier in aggregate metadata", "host", host.Key(), "key", w.multiplierKey, "err", err)
		return w.multiplier
	}
	if found {
		return v
	}
	return w.multiplier
}

// Framework runs the configured filter and weigher chains. It is built once per
// scheduler and is safe for concurrent placement calls.
type Framework struct {
	filters  []FilterPlugin
	weighers []*weigher
}

// NewFramework instantiates the enabled plugins in configuration order.
func NewFramework(registry *Registry, handle Handle) (*Framework, error) {
	cfg := handle.Config()
	f := &Framework{}
	for _, name := range cfg.EnabledFilters {
		factory, ok := registry.Filters[name]
		if !ok {
			return nil, fmt.Errorf("filter %q does not exist", name)
		}
		p, err := factory(handle)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize filter %q: %w", name, err)
		}
		f.filters = append(f.filters, p)
	}
	for _, wc := range cfg.EnabledWeighers {
		factory, ok := registry.Weighers[wc.Name]
		if !ok {
			return nil, fmt.Errorf("weigher %q does not exist", wc.Name)
		}
		p, err := factory(handle)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize weigher %q: %w", wc.Name, err)
		}
		f.weighers = append(f.weighers, &weigher{
			WeigherPlugin: p,
			multiplier:    wc.Multiplier,
			multiplierKey: extension.WeightMultiplierKey(p.Name()),
		})
	}
	return f, nil
}

// FilterNames returns the filters in chain order.
func (f *Framework) FilterNames() []string {
	names := make([]string, 0, len(f.filters))
	for _, p := range f.filters {
		names = append(names, p.Name())
	}
	return names
}

// Weighers returns the configured multiplier of each weigher in chain order.
func (f *Framework) Weighers() []WeigherInfo {
	out := make([]WeigherInfo, 0, len(f.weighers))
	for _, w := range f.weighers {
		out = append(out, WeigherInfo{Name: w.Name(), Multiplier: w.multiplier})
	}
	return out
}

type WeigherInfo struct {
	Name       string  `json:"name"`
	Multiplier float64 `json:"multiplier"`
}

// RunFilterPlugins returns the hosts passing every filter, in their input order.
// A filter returning Error aborts the pass.
func (f *Framework) RunFilterPlugins(ctx context.Context, state *CycleState, spec *v1alpha1.RequestSpec, hosts []*hoststate.HostState) ([]*hoststate.HostState, *Diagnosis, error) {
	diagnosis := newDiagnosis(state, len(hosts))
	remaining := hosts
	for _, p := range f.filters {
		if len(remaining) == 0 {
			break
		}
		passed := make([]*hoststate.HostState, 0, len(remaining))
		for _, h := range remaining {
			status := p.Filter(ctx, state, spec, h).WithPlugin(p.Name())
			switch status.Code() {
			case Success:
				passed = append(passed, h)
				continue
			case Error:
				return nil, diagnosis, fmt.Errorf("filter %s failed on host %s: %w", p.Name(), h.Key(), status.AsError())
			case MissingData:
				if p.MissingDataPolicy() == NeutralOnMissingData {
					klog.V(4).InfoS("Host lacks data, passing it through", "requestID", state.RequestID,
						"host", h.Key(), "filter", p.Name(), "reason", status.Message())
					passed = append(passed, h)
					continue
				}
			}
			diagnosis.recordFailure(h.Key(), status)
			logFilterFailure(state, h, status)
		}
		diagnosis.Filters = append(diagnosis.Filters, FilterResult{Filter: p.Name(), Before: len(remaining), After: len(passed)})
		klog.V(4).InfoS("Filter returned hosts", "requestID", state.RequestID, "filter", p.Name(),
			"before", len(remaining), "after", len(passed))
		remaining = passed
	}
	return remaining, diagnosis, nil
}

// PluginScore is the contribution of one weigher to a host weight.
type PluginScore struct {
	Name       string
	Raw        float64
	Normalized float64
	Multiplier float64
}

// WeighedHost is a candidate with its total weight.
type WeighedHost struct {
	Host   *hoststate.HostState
	Weight float64
	Scores []PluginScore
}

// RunWeigherPlugins scores hosts and returns them best first. Raw scores of each
// weigher are min-max normalized over the candidates, multiplied and summed. Ties are
// broken by host then node name.
func (f *Framework) RunWeigherPlugins(ctx context.Context, state *CycleState, spec *v1alpha1.RequestSpec, hosts []*hoststate.HostState) []WeighedHost {
	weighed := make([]WeighedHost, len(hosts))
	for i, h := range hosts {
		weighed[i] = WeighedHost{Host: h, Scores: make([]PluginScore, 0, len(f.weighers))}
	}
	raw := make([]float64, len(hosts))
	for _, w := range f.weighers {
		for i, h := range hosts {
			raw[i] = w.Weigh(ctx, state, spec, h)
		}
		normalized := Normalize(raw)
		for i, h := range hosts {
			multiplier := w.multiplierFor(h)
			weighed[i].Weight += multiplier * normalized[i]
			weighed[i].Scores = append(weighed[i].Scores, PluginScore{
				Name:       w.Name(),
				Raw:        raw[i],
				Normalized: normalized[i],
				Multiplier: multiplier,
			})
		}
	}
	SortWeighedHosts(weighed)
	if klogV := klog.V(5); klogV.Enabled() {
		for _, wh := range weighed {
			klogV.InfoS("Weighed host", "requestID", state.RequestID, "host", wh.Host.Key(), "weight", wh.Weight)
		}
	}
	if debugTopNScores > 0 {
		debugScores(debugTopNScores, state.RequestID, weighed)
	}
	return weighed
}

// Normalize scales values to [0, 1]. All values become 0 when they are equal.
func Normalize(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	minVal, maxVal := values[0], values[0]
	for _, v := range values[1:] {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	if minVal == maxVal {
		return out
	}
	for i, v := range values {
		out[i] = (v - minVal) / (maxVal - minVal)
	}
	return out
}

// SortWeighedHosts orders by weight descending, then host and node name ascending.
func SortWeighedHosts(hosts []WeighedHost) {
	sort.SliceStable(hosts, func(i, j int) bool {
		if hosts[i].Weight != hosts[j].Weight {
			return hosts[i].Weight > hosts[j].Weight
		}
		if hosts[i].Host.Host != hosts[j].Host.Host {
			return hosts[i].Host.Host < hosts[j].Host.Host
		}
		return hosts[i].Host.Node < hosts[j].Host.Node
	})
}
