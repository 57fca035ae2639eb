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

package core

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/cpuset"
	"k8s.io/utils/ptr"

	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/apis/config"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/hoststate"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/numa"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/pci"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/plugins"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/services"
	schedulertesting "github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/testing"
)

// ramOnlyConfig enables the default filters and weighs by free RAM only.
func ramOnlyConfig() *config.SchedulerConfiguration {
	cfg := config.NewDefaultSchedulerConfiguration()
	cfg.EnabledWeighers = []config.WeigherConfig{{Name: "RAMWeigher", Multiplier: 1.0}}
	return cfg
}

func newSchedulerForTest(t *testing.T, cfg *config.SchedulerConfiguration, hosts ...*hoststate.HostState) *Scheduler {
	if cfg == nil {
		cfg = config.NewDefaultSchedulerConfiguration()
	}
	whitelist, err := pci.ParseWhitelist(cfg.PCIWhitelist)
	require.NoError(t, err)
	manager := hoststate.NewManager(0, whitelist, HostDefaults(cfg))
	for _, h := range hosts {
		manager.Set(h)
	}
	s, err := New(cfg, plugins.NewInTreeRegistry(), whitelist, manager)
	require.NoError(t, err)
	return s
}

func selectedNames(selections []v1alpha1.Selection) []string {
	var names []string
	for _, s := range selections {
		names = append(names, s.Host)
	}
	return names
}

func TestSelectDestinationsPrefersMoreFreeRAM(t *testing.T) {
	cfg := ramOnlyConfig()
	cfg.NumAlternates = 1
	s := newSchedulerForTest(t, cfg,
		schedulertesting.MakeHost("host2").RAM(16384, 4096).Obj(),
		schedulertesting.MakeHost("host1").RAM(16384, 8192).Obj(),
	)
	selections, err := s.SelectDestinations(context.TODO(), schedulertesting.MakeRequest().Obj(), nil)
	require.NoError(t, err)
	require.Len(t, selections, 1)
	assert.Equal(t, "host1", selections[0].Host)
	assert.Equal(t, "host1", selections[0].Node)
	assert.Equal(t, []v1alpha1.HostNode{{Host: "host2", Node: "host2"}}, selections[0].Alternates)
	assert.Equal(t, float64(16384), selections[0].Limits.MemoryMB)
}

func TestSelectDestinationsNoValidHost(t *testing.T) {
	tests := []struct {
		name  string
		hosts []*hoststate.HostState
		spec  *v1alpha1.RequestSpec
	}{
		{
			name: "no hosts",
			spec: schedulertesting.MakeRequest().Obj(),
		},
		{
			name: "filters eliminate all hosts",
			hosts: []*hoststate.HostState{
				schedulertesting.MakeHost("host1").RAM(4096, 1024).Obj(),
				schedulertesting.MakeHost("host2").RAM(4096, 2048).Obj(),
			},
			spec: schedulertesting.MakeRequest().Flavor(1, 4096, 1).Obj(),
		},
		{
			name: "batch larger than capacity returns nothing",
			hosts: []*hoststate.HostState{
				schedulertesting.MakeHost("host1").RAM(4096, 2048).Obj(),
			},
			spec: schedulertesting.MakeRequest().Flavor(1, 1024, 1).NumInstances(3).Obj(),
		},
		{
			name: "forced host does not exist",
			hosts: []*hoststate.HostState{
				schedulertesting.MakeHost("host1").Obj(),
			},
			spec: schedulertesting.MakeRequest().ForceHosts("host9").Obj(),
		},
		{
			name: "host reporting no vcpus",
			hosts: []*hoststate.HostState{
				schedulertesting.MakeHost("novcpu").VCPUs(0, 0).Obj(),
			},
			spec: schedulertesting.MakeRequest().Flavor(64, 1024, 1).Obj(),
		},
		{
			name: "all hosts ignored",
			hosts: []*hoststate.HostState{
				schedulertesting.MakeHost("host1").Obj(),
			},
			spec: schedulertesting.MakeRequest().IgnoreHosts("host1").Obj(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSchedulerForTest(t, ramOnlyConfig(), tt.hosts...)
			selections, err := s.SelectDestinations(context.TODO(), tt.spec, nil)
			assert.True(t, IsNoValidHost(err), "got %v", err)
			assert.Nil(t, selections)
		})
	}
}

func TestSelectDestinationsBatchClaims(t *testing.T) {
	s := newSchedulerForTest(t, ramOnlyConfig(),
		schedulertesting.MakeHost("host1").RAM(2048, 1024).Obj(),
		schedulertesting.MakeHost("host2").RAM(2048, 1536).Obj(),
	)
	spec := schedulertesting.MakeRequest().Flavor(1, 1024, 1).NumInstances(2).Obj()
	selections, err := s.SelectDestinations(context.TODO(), spec, nil)
	require.NoError(t, err)
	// host2 cannot take a second instance after the first one is claimed on it
	assert.Equal(t, []string{"host2", "host1"}, selectedNames(selections))

	// claims stay within the call
	h, ok := s.Hosts().Get("host2", "host2")
	require.True(t, ok)
	assert.Equal(t, int64(1536), h.FreeRAMMB)
	assert.Equal(t, 0, h.NumInstances)
}

func TestSelectDestinationsNUMAClaims(t *testing.T) {
	topology := &numa.NUMATopology{Cells: []*numa.NUMACell{
		numa.NewNUMACell(0, cpuset.New(0, 1, 2, 3), 4096, nil, []numa.MemPage{{SizeKB: 4, Total: 4096 * 256}}),
		numa.NewNUMACell(1, cpuset.New(4, 5, 6, 7), 4096, nil, []numa.MemPage{{SizeKB: 4, Total: 4096 * 256}}),
	}}
	s := newSchedulerForTest(t, ramOnlyConfig(), schedulertesting.MakeHost("host1").NUMA(topology).Obj())
	request := schedulertesting.MakeRequest().Flavor(4, 1024, 1).
		NUMATopology(&v1alpha1.NUMATopologyRequest{CPUPolicy: v1alpha1.CPUPolicyDedicated})

	selections, err := s.SelectDestinations(context.TODO(), request.NumInstances(2).Obj(), nil)
	require.NoError(t, err)
	require.Len(t, selections, 2)
	require.NotNil(t, selections[0].NUMATopology)
	assert.Equal(t, 0, selections[0].NUMATopology.Cells[0].ID)
	assert.Equal(t, "0-3", selections[0].NUMATopology.Cells[0].PinnedCPUs)
	assert.Equal(t, 1, selections[1].NUMATopology.Cells[0].ID)
	assert.Equal(t, "4-7", selections[1].NUMATopology.Cells[0].PinnedCPUs)
	require.NotNil(t, selections[0].Limits.NUMA)

	_, err = s.SelectDestinations(context.TODO(), request.NumInstances(3).Obj(), nil)
	assert.True(t, IsNoValidHost(err))
}

func TestSelectDestinationsPCIClaims(t *testing.T) {
	gpu := func(addr string) v1alpha1.PCIDevice {
		return v1alpha1.PCIDevice{Address: addr, VendorID: "10de", ProductID: "1db4"}
	}
	s := newSchedulerForTest(t, ramOnlyConfig(),
		schedulertesting.MakeHost("host1").PCI(schedulertesting.MakeDeviceStats(ptr.To(0), gpu("0000:81:00.0"))).Obj(),
		schedulertesting.MakeHost("host2").PCI(schedulertesting.MakeDeviceStats(ptr.To(0), gpu("0000:81:00.0"))).Obj(),
		schedulertesting.MakeHost("host3").Obj(),
	)
	spec := schedulertesting.MakeRequest().PCIRequest(1, map[string]string{"vendor_id": "10de"}).NumInstances(2).Obj()
	selections, err := s.SelectDestinations(context.TODO(), spec, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"host1", "host2"}, selectedNames(selections))

	// a request without devices is not restricted to hosts with PCI data
	selections, err = s.SelectDestinations(context.TODO(), schedulertesting.MakeRequest().NumInstances(3).Obj(), nil)
	require.NoError(t, err)
	assert.Len(t, selections, 3)
}

func TestSelectDestinationsIsDeterministic(t *testing.T) {
	s := newSchedulerForTest(t, nil,
		schedulertesting.MakeHost("host-c").Obj(),
		schedulertesting.MakeHost("host-a").Obj(),
		schedulertesting.MakeHost("host-b").Obj(),
	)
	spec := schedulertesting.MakeRequest().NumInstances(2).Obj()
	first, err := s.SelectDestinations(context.TODO(), spec, nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := s.SelectDestinations(context.TODO(), spec, nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	// equal weights are broken by host name
	assert.Equal(t, "host-a", first[0].Host)
}

func TestSelectDestinationsNumInstancesBoundary(t *testing.T) {
	cfg := ramOnlyConfig()
	cfg.MaxInstancesPerHost = ptr.To(2)
	s := newSchedulerForTest(t, cfg,
		schedulertesting.MakeHost("host1").RAM(8192, 8192).Instances(2).Obj(),
		schedulertesting.MakeHost("host2").RAM(8192, 4096).Instances(1).Obj(),
	)
	selections, err := s.SelectDestinations(context.TODO(), schedulertesting.MakeRequest().Obj(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"host2"}, selectedNames(selections))

	// the claimed instance brings host2 to the limit
	_, err = s.SelectDestinations(context.TODO(), schedulertesting.MakeRequest().NumInstances(2).Obj(), nil)
	assert.True(t, IsNoValidHost(err))
}

func TestSelectDestinationsRetry(t *testing.T) {
	s := newSchedulerForTest(t, ramOnlyConfig(),
		schedulertesting.MakeHost("host1").RAM(8192, 8192).Obj(),
		schedulertesting.MakeHost("host2").RAM(8192, 4096).Obj(),
	)
	props := &v1alpha1.FilterProperties{Retry: &v1alpha1.RetryInfo{
		NumAttempts: 1,
		Hosts:       []v1alpha1.HostNode{{Host: "host1", Node: "host1"}},
	}}
	selections, err := s.SelectDestinations(context.TODO(), schedulertesting.MakeRequest().Obj(), props)
	require.NoError(t, err)
	assert.Equal(t, []string{"host2"}, selectedNames(selections))
	assert.Equal(t, 2, props.Retry.NumAttempts)
	assert.Equal(t, []v1alpha1.HostNode{{Host: "host1", Node: "host1"}, {Host: "host2", Node: "host2"}}, props.Retry.Hosts)
	require.NotNil(t, props.Limits)
	assert.Equal(t, selections[0].Limits, *props.Limits)

	// third attempt may still run, the fourth exceeds the default of 3
	_, err = s.SelectDestinations(context.TODO(), schedulertesting.MakeRequest().Obj(), props)
	assert.True(t, IsNoValidHost(err), "all hosts tried, got %v", err)
	assert.Equal(t, 3, props.Retry.NumAttempts)

	props.Retry.Hosts = nil
	_, err = s.SelectDestinations(context.TODO(), schedulertesting.MakeRequest().Obj(), props)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Exceeded max scheduling attempts")
}

func TestSelectDestinationsForceAndIgnoreHosts(t *testing.T) {
	s := newSchedulerForTest(t, ramOnlyConfig(),
		schedulertesting.MakeHost("host1").RAM(8192, 8192).Obj(),
		schedulertesting.MakeHost("host2").RAM(8192, 4096).Obj(),
		schedulertesting.MakeHost("host3").RAM(8192, 2048).Obj(),
	)
	selections, err := s.SelectDestinations(context.TODO(), schedulertesting.MakeRequest().ForceHosts("host3").Obj(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"host3"}, selectedNames(selections))

	selections, err = s.SelectDestinations(context.TODO(), schedulertesting.MakeRequest().IgnoreHosts("host1").Obj(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"host2"}, selectedNames(selections))

	spec := schedulertesting.MakeRequest().Obj()
	spec.ForceNodes = []string{"host2"}
	selections, err = s.SelectDestinations(context.TODO(), spec, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"host2"}, selectedNames(selections))
}

func TestSelectDestinationsServerGroup(t *testing.T) {
	s := newSchedulerForTest(t, ramOnlyConfig(),
		schedulertesting.MakeHost("host1").RAM(8192, 8192).Obj(),
		schedulertesting.MakeHost("host2").RAM(8192, 4096).Obj(),
	)
	group := &v1alpha1.InstanceGroup{UUID: "group-1", Policy: v1alpha1.InstanceGroupPolicyAntiAffinity}
	selections, err := s.SelectDestinations(context.TODO(), schedulertesting.MakeRequest().InstanceGroup(group).NumInstances(2).Obj(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"host1", "host2"}, selectedNames(selections))
	assert.Empty(t, group.Hosts, "the caller's group is not modified")

	_, err = s.SelectDestinations(context.TODO(), schedulertesting.MakeRequest().InstanceGroup(group).NumInstances(3).Obj(), nil)
	assert.True(t, IsNoValidHost(err))

	affinity := &v1alpha1.InstanceGroup{UUID: "group-2", Policy: v1alpha1.InstanceGroupPolicyAffinity, Hosts: []string{"host2"}}
	selections, err = s.SelectDestinations(context.TODO(), schedulertesting.MakeRequest().InstanceGroup(affinity).NumInstances(2).Obj(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"host2", "host2"}, selectedNames(selections))
}

func TestSelectDestinationsInvalidRequest(t *testing.T) {
	s := newSchedulerForTest(t, nil, schedulertesting.MakeHost("host1").Obj())

	_, err := s.SelectDestinations(context.TODO(), nil, nil)
	assert.Error(t, err)

	_, err = s.SelectDestinations(context.TODO(), schedulertesting.MakeRequest().NumInstances(0).Obj(), nil)
	assert.Error(t, err)
	assert.False(t, IsNoValidHost(err))
}

func TestSetup(t *testing.T) {
	cfg := config.NewDefaultSchedulerConfiguration()
	cfg.PCIWhitelist = []string{`{"vendor_id": "10de"}`}
	s, err := Setup(cfg, plugins.NewInTreeRegistry())
	require.NoError(t, err)
	assert.Equal(t, cfg.EnabledFilters, s.Framework().FilterNames())

	cfg.PCIWhitelist = []string{`{"vendor_id": "xyz"}`}
	_, err = Setup(cfg, plugins.NewInTreeRegistry())
	assert.Error(t, err)

	cfg = config.NewDefaultSchedulerConfiguration()
	cfg.EnabledFilters = append(cfg.EnabledFilters, "NoSuchFilter")
	_, err = Setup(cfg, plugins.NewInTreeRegistry())
	assert.Error(t, err)
}

func TestSchedulerEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newSchedulerForTest(t, ramOnlyConfig(), schedulertesting.MakeHost("host1").RAM(8192, 4096).Obj())
	engine := services.NewEngine(gin.New())
	engine.RegisterPluginService(s, "test")

	w := httptest.NewRecorder()
	engine.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/apis/v1/plugins/FilterScheduler/chains", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var chains ChainsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chains))
	assert.Equal(t, config.NewDefaultSchedulerConfiguration().EnabledFilters, chains.Filters)
	assert.Equal(t, "RAMWeigher", chains.Weighers[0].Name)

	post := func(req SelectRequest) *httptest.ResponseRecorder {
		body, err := json.Marshal(req)
		require.NoError(t, err)
		w := httptest.NewRecorder()
		engine.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/apis/v1/plugins/FilterScheduler/select", bytes.NewReader(body)))
		return w
	}

	w = post(SelectRequest{
		Spec:             *schedulertesting.MakeRequest().Obj(),
		FilterProperties: &v1alpha1.FilterProperties{Retry: &v1alpha1.RetryInfo{}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp SelectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"host1"}, selectedNames(resp.Selections))
	assert.Equal(t, 1, resp.FilterProperties.Retry.NumAttempts)

	w = post(SelectRequest{Spec: *schedulertesting.MakeRequest().Flavor(1, 8192, 1).Obj()})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.NotContains(t, w.Body.String(), "host1", "per-host detail is not returned")

	w = httptest.NewRecorder()
	engine.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/apis/v1/plugins/FilterScheduler/select", bytes.NewReader([]byte("{"))))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
