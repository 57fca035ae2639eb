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

package ioops

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"
	"k8s.io/utils/ptr"

	"github.com/koordinator-sh/fleet-scheduler/apis/extension"
	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/framework"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/hoststate"
)

const (
	Name          = "IoOpsFilter"
	AggregateName = "AggregateIoOpsFilter"
	WeigherName   = "IoOpsWeigher"
)

var (
	_ framework.FilterPlugin  = &Plugin{}
	_ framework.FilterPlugin  = &AggregatePlugin{}
	_ framework.WeigherPlugin = &Weigher{}
)

// Plugin bounds the concurrent I/O intensive operations on a host.
type Plugin struct {
	maxIOOps int
}

func New(handle framework.Handle) (framework.FilterPlugin, error) {
	return &Plugin{maxIOOps: ptr.Deref(handle.Config().MaxIOOpsPerHost, 0)}, nil
}

func (pl *Plugin) Name() string { return Name }

func (pl *Plugin) MissingDataPolicy() framework.MissingDataPolicy {
	return framework.ExcludeOnMissingData
}

func (pl *Plugin) Filter(ctx context.Context, _ *framework.CycleState, _ *v1alpha1.RequestSpec, host *hoststate.HostState) *framework.Status {
	return checkIOOps(host, pl.maxIOOps)
}

func checkIOOps(host *hoststate.HostState, maxIOOps int) *framework.Status {
	if host.NumIOOps < maxIOOps {
		return nil
	}
	return framework.NewStatus(framework.Unschedulable,
		fmt.Sprintf("host has %d io ops in flight, limit is %d", host.NumIOOps, maxIOOps))
}

// AggregatePlugin reads the limit from the max_io_ops_per_host aggregate metadata. An
// absent or invalid value falls back to the global limit.
type AggregatePlugin struct {
	maxIOOps int
}

func NewAggregate(handle framework.Handle) (framework.FilterPlugin, error) {
	return &AggregatePlugin{maxIOOps: ptr.Deref(handle.Config().MaxIOOpsPerHost, 0)}, nil
}

func (pl *AggregatePlugin) Name() string { return AggregateName }

func (pl *AggregatePlugin) MissingDataPolicy() framework.MissingDataPolicy {
	return framework.ExcludeOnMissingData
}

func (pl *AggregatePlugin) Filter(ctx context.Context, cycleState *framework.CycleState, _ *v1alpha1.RequestSpec, host *hoststate.HostState) *framework.Status {
	limit, found, err := extension.GetMetadataInt(host.Metadata, extension.AggregateMaxIOOpsPerHost)
	if err != nil {
		klog.V(4).InfoS("Invalid aggregate io ops limit, using the global limit",
			"requestID", cycleState.RequestID, "host", host.Key(), "err", err)
	}
	if !found || err != nil {
		limit = pl.maxIOOps
	}
	return checkIOOps(host, limit)
}

// Weigher scores hosts by I/O operations in flight. It is enabled with a negative
// multiplier to prefer idle hosts.
type Weigher struct{}

func NewWeigher(_ framework.Handle) (framework.WeigherPlugin, error) {
	return &Weigher{}, nil
}

func (w *Weigher) Name() string { return WeigherName }

func (w *Weigher) Weigh(ctx context.Context, _ *framework.CycleState, _ *v1alpha1.RequestSpec, host *hoststate.HostState) float64 {
	return float64(host.NumIOOps)
}
