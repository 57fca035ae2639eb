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

package retry

import (
	"context"

	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/framework"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/hoststate"
)

const (
	Name = "RetryFilter"
)

var _ framework.FilterPlugin = &Plugin{}

// Plugin drops the hosts already tried for this request by an earlier attempt.
type Plugin struct{}

func New(_ framework.Handle) (framework.FilterPlugin, error) {
	return &Plugin{}, nil
}

func (pl *Plugin) Name() string { return Name }

func (pl *Plugin) MissingDataPolicy() framework.MissingDataPolicy {
	return framework.ExcludeOnMissingData
}

func (pl *Plugin) Filter(ctx context.Context, cycleState *framework.CycleState, _ *v1alpha1.RequestSpec, host *hoststate.HostState) *framework.Status {
	if cycleState.Attempted(host.Host, host.Node) {
		return framework.NewStatus(framework.Unschedulable, "host was already tried")
	}
	return nil
}
