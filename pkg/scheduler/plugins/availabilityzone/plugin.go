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

package availabilityzone

import (
	"context"
	"fmt"

	"github.com/koordinator-sh/fleet-scheduler/apis/extension"
	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/framework"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/hoststate"
)

const (
	Name = "AvailabilityZoneFilter"
)

var _ framework.FilterPlugin = &Plugin{}

// Plugin keeps the hosts whose aggregates place them in the requested zone.
type Plugin struct {
	defaultZone string
}

func New(handle framework.Handle) (framework.FilterPlugin, error) {
	return &Plugin{defaultZone: handle.Config().DefaultAvailabilityZone}, nil
}

func (pl *Plugin) Name() string { return Name }

func (pl *Plugin) MissingDataPolicy() framework.MissingDataPolicy {
	return framework.ExcludeOnMissingData
}

// Filter matches the requested zone against the comma separated zone tokens of the host.
// Hosts outside of any zoned aggregate belong to the default zone.
func (pl *Plugin) Filter(ctx context.Context, _ *framework.CycleState, spec *v1alpha1.RequestSpec, host *hoststate.HostState) *framework.Status {
	if spec.AvailabilityZone == "" {
		return nil
	}
	if _, ok := host.Metadata[extension.AggregateAvailabilityZone]; !ok {
		if pl.defaultZone == "" {
			return framework.NewStatus(framework.MissingData, "host is in no availability zone")
		}
		if pl.defaultZone == spec.AvailabilityZone {
			return nil
		}
		return framework.NewStatus(framework.Unschedulable, fmt.Sprintf("host is in default zone %s", pl.defaultZone))
	}
	if extension.MetadataContains(host.Metadata, extension.AggregateAvailabilityZone, spec.AvailabilityZone) {
		return nil
	}
	return framework.NewStatus(framework.Unschedulable,
		fmt.Sprintf("host zones %q do not contain %s", host.Metadata[extension.AggregateAvailabilityZone], spec.AvailabilityZone))
}
