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

package capacity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/framework"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/hoststate"
	schedulertesting "github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/testing"
)

func TestFilters(t *testing.T) {
	tests := []struct {
		name       string
		filter     framework.FilterPlugin
		host       *hoststate.HostState
		spec       *v1alpha1.RequestSpec
		want       framework.Code
		wantLimits v1alpha1.Limits
	}{
		{
			name:       "ram fits exactly",
			filter:     &RAMFilter{},
			host:       schedulertesting.MakeHost("host1").RAM(4096, 1024).Obj(),
			spec:       schedulertesting.MakeRequest().Flavor(1, 1024, 0).Obj(),
			want:       framework.Success,
			wantLimits: v1alpha1.Limits{MemoryMB: 4096},
		},
		{
			name:   "ram one MB short",
			filter: &RAMFilter{},
			host:   schedulertesting.MakeHost("host1").RAM(4096, 1024).Obj(),
			spec:   schedulertesting.MakeRequest().Flavor(1, 1025, 0).Obj(),
			want:   framework.Unschedulable,
		},
		{
			name:       "ram oversubscribed",
			filter:     &RAMFilter{},
			host:       schedulertesting.MakeHost("host1").RAM(4096, 1024).Ratios(1, 1.5, 1).Obj(),
			spec:       schedulertesting.MakeRequest().Flavor(1, 3000, 0).Obj(),
			want:       framework.Success,
			wantLimits: v1alpha1.Limits{MemoryMB: 6144},
		},
		{
			name:       "cpu fits",
			filter:     &CoreFilter{},
			host:       schedulertesting.MakeHost("host1").VCPUs(4, 3).Obj(),
			spec:       schedulertesting.MakeRequest().Flavor(1, 512, 0).Obj(),
			want:       framework.Success,
			wantLimits: v1alpha1.Limits{VCPUs: 4},
		},
		{
			name:       "cpu exhausted",
			filter:     &CoreFilter{},
			host:       schedulertesting.MakeHost("host1").VCPUs(4, 3).Obj(),
			spec:       schedulertesting.MakeRequest().Flavor(2, 512, 0).Obj(),
			want:       framework.Unschedulable,
			wantLimits: v1alpha1.Limits{VCPUs: 4},
		},
		{
			name:       "cpu oversubscribed",
			filter:     &CoreFilter{},
			host:       schedulertesting.MakeHost("host1").VCPUs(4, 6).Ratios(2, 1, 1).Obj(),
			spec:       schedulertesting.MakeRequest().Flavor(2, 512, 0).Obj(),
			want:       framework.Success,
			wantLimits: v1alpha1.Limits{VCPUs: 8},
		},
		{
			name:       "more vcpus than physical cpus",
			filter:     &CoreFilter{},
			host:       schedulertesting.MakeHost("host1").VCPUs(4, 0).Ratios(16, 1, 1).Obj(),
			spec:       schedulertesting.MakeRequest().Flavor(5, 512, 0).Obj(),
			want:       framework.Unschedulable,
			wantLimits: v1alpha1.Limits{VCPUs: 64},
		},
		{
			name:   "no vcpus reported",
			filter: &CoreFilter{},
			host:   schedulertesting.MakeHost("host1").VCPUs(0, 0).Obj(),
			spec:   schedulertesting.MakeRequest().Obj(),
			want:   framework.MissingData,
		},
		{
			name:       "disk fits exactly",
			filter:     &DiskFilter{},
			host:       schedulertesting.MakeHost("host1").Disk(10, 2048).Obj(),
			spec:       schedulertesting.MakeRequest().Flavor(1, 512, 2).Obj(),
			want:       framework.Success,
			wantLimits: v1alpha1.Limits{DiskGB: 10},
		},
		{
			name:   "swap counts against disk",
			filter: &DiskFilter{},
			host:   schedulertesting.MakeHost("host1").Disk(10, 2048).Obj(),
			spec: func() *v1alpha1.RequestSpec {
				spec := schedulertesting.MakeRequest().Flavor(1, 512, 2).Obj()
				spec.Flavor.SwapMB = 1
				return spec
			}(),
			want: framework.Unschedulable,
		},
		{
			name:       "disk oversubscribed",
			filter:     &DiskFilter{},
			host:       schedulertesting.MakeHost("host1").Disk(10, 2048).Ratios(1, 1, 2).Obj(),
			spec:       schedulertesting.MakeRequest().Flavor(1, 512, 12).Obj(),
			want:       framework.Success,
			wantLimits: v1alpha1.Limits{DiskGB: 20},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, framework.ExcludeOnMissingData, tt.filter.MissingDataPolicy())
			status := tt.filter.Filter(context.TODO(), framework.NewCycleState("req", nil), tt.spec, tt.host)
			assert.Equal(t, tt.want, status.Code(), status.Message())
			assert.Equal(t, tt.wantLimits, tt.host.Limits)
		})
	}
}

func TestWeighers(t *testing.T) {
	host := schedulertesting.MakeHost("host1").RAM(8192, 2048).Disk(100, 4096).VCPUs(8, 10).Ratios(4, 1, 1).Obj()
	spec := schedulertesting.MakeRequest().Obj()
	state := framework.NewCycleState("req", nil)

	assert.Equal(t, 2048.0, (&RAMWeigher{}).Weigh(context.TODO(), state, spec, host))
	assert.Equal(t, 4096.0, (&DiskWeigher{}).Weigh(context.TODO(), state, spec, host))
	assert.Equal(t, 22.0, (&CPUWeigher{}).Weigh(context.TODO(), state, spec, host))
}
