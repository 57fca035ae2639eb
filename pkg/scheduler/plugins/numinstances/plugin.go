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

package numinstances

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
	Name          = "NumInstancesFilter"
	AggregateName = "AggregateNumInstancesFilter"
)

var (
	_ framework.FilterPlugin = &Plugin{}
	_ framework.FilterPlugin = &AggregatePlugin{}
)

// Plugin bounds the number of instances on a host. A host already holding the
// maximum fails.
type Plugin struct {
	maxInstances int
}

func New(handle framework.Handle) (framework.FilterPlugin, error) {
	return &Plugin{maxInstances: ptr.Deref(handle.Config().MaxInstancesPerHost, 0)}, nil
}

func (pl *Plugin) Name() string { return Name }

func (pl *Plugin) MissingDataPolicy() framework.MissingDataPolicy {
	return framework.ExcludeOnMissingData
}

func (pl *Plugin) Filter(ctx context.Context, _ *framework.CycleState, _ *v1alpha1.RequestSpec, host *hoststate.HostState) *framework.Status {
	return checkInstances(host, pl.maxInstances)
}

func checkInstances(host *hoststate.HostState, maxInstances int) *framework.Status {
	if host.NumInstances < maxInstances {
		return nil
	}
	return framework.NewStatus(framework.Unschedulable,
		fmt.Sprintf("host has %d instances, limit is %d", host.NumInstances, maxInstances))
}

// AggregatePlugin reads the limit from the max_instances_per_host aggregate metadata and
// falls back to the global limit when no aggregate sets one. Of several values the
// smallest wins. A value that is not a number lets the host pass.
type AggregatePlugin struct {
	maxInstances int
}

func NewAggregate(handle framework.Handle) (framework.FilterPlugin, error) {
	return &AggregatePlugin{maxInstances: ptr.Deref(handle.Config().MaxInstancesPerHost, 0)}, nil
}

func (pl *AggregatePlugin) Name() string { return AggregateName }

func (pl *AggregatePlugin) MissingDataPolicy() framework.MissingDataPolicy {
	return framework.ExcludeOnMissingData
}

func (pl *AggregatePlugin) Filter(ctx context.Context, cycleState *framework.CycleState, _ *v1alpha1.RequestSpec, host *hoststate.HostState) *framework.Status {
	limit, found, err := extension.GetMetadataInt(host.Metadata, extension.AggregateMaxInstancesPerHost)
	if err != nil {
		klog.InfoS("Unparseable aggregate instance limit, letting host pass",
			"requestID", cycleState.RequestID, "host", host.Key(), "err", err)
		return nil
	}
	if !found {
		limit = pl.maxInstances
	}
	return checkInstances(host, limit)
}
