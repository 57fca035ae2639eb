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

package hoststate

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
)

func TestManagerUpdateAndGet(t *testing.T) {
	m := NewManager(0, nil, testDefaults)
	assert.Equal(t, ManagerName, m.Name())

	require.NoError(t, m.UpdateReport(newReportForTest()))
	assert.Equal(t, int64(1), m.Generation())
	assert.Equal(t, 1, m.Len())

	h, ok := m.Get("host1", "")
	require.True(t, ok)
	h.FreeRAMMB = 0
	require.NoError(t, h.NUMATopology.Cells[0].PinCPUs(h.NUMATopology.Cells[0].FreeCPUs()))

	again, ok := m.Get("host1", "host1")
	require.True(t, ok)
	assert.Equal(t, int64(16384-2048-512), again.FreeRAMMB, "stored state is not shared with readers")
	assert.Equal(t, "0-1", again.NUMATopology.Cells[0].PinnedCPUs.String())

	bad := newReportForTest()
	bad.Host = ""
	assert.Error(t, m.UpdateReport(bad))
	assert.Equal(t, int64(1), m.Generation())
}

func TestManagerRemoveHost(t *testing.T) {
	m := NewManager(0, nil, testDefaults)
	require.NoError(t, m.UpdateReport(newReportForTest()))
	assert.True(t, m.RemoveHost("host1", "host1"))
	assert.False(t, m.RemoveHost("host1", "host1"))
	assert.Equal(t, int64(2), m.Generation())
	_, ok := m.Get("host1", "")
	assert.False(t, ok)
}

func TestManagerSnapshot(t *testing.T) {
	m := NewManager(0, nil, testDefaults)
	for _, name := range []string{"host3", "host1", "host2"} {
		r := newReportForTest()
		r.Host = name
		require.NoError(t, m.UpdateReport(r))
	}
	r := newReportForTest()
	r.Host, r.Node = "host1", "node-b"
	require.NoError(t, m.UpdateReport(r))

	snapshot := m.Snapshot()
	assert.Equal(t, int64(4), snapshot.Generation)
	var names []string
	for _, h := range snapshot.Hosts() {
		names = append(names, h.Key())
	}
	assert.Equal(t, []string{"host1", "host1/node-b", "host2", "host3"}, names)

	snapshot.Get("host2", "").FreeRAMMB = 0
	h, _ := m.Get("host2", "")
	assert.NotEqual(t, int64(0), h.FreeRAMMB, "snapshots are private copies")
	assert.Nil(t, snapshot.Get("host4", ""))
}

func TestManagerExpiresReports(t *testing.T) {
	m := NewManager(50*time.Millisecond, nil, testDefaults)
	require.NoError(t, m.UpdateReport(newReportForTest()))
	assert.Equal(t, 1, m.Snapshot().Len())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, m.Snapshot().Len())
	assert.Equal(t, 0, m.Len())
}

func TestManagerEndpoints(t *testing.T) {
	m := NewManager(0, nil, testDefaults)
	require.NoError(t, m.UpdateReport(newReportForTest()))

	engine := gin.New()
	m.RegisterEndpoints(engine.Group("/"))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/hosts", nil)
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	var summaries []HostSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "host1", summaries[0].Host)
	assert.Equal(t, 2, summaries[0].NumInstances)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/hosts/host1", nil)
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	resp := &HostResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), resp))
	require.Len(t, resp.NUMACells, 2)
	assert.Equal(t, "2-3", resp.NUMACells[0].FreeCPUs)
	assert.Equal(t, "az-a,az-b", resp.Metadata["availability_zone"])

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/hosts/unknown", nil)
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSnapshotOrdering(t *testing.T) {
	s := NewSnapshot(7, []*HostState{
		{Host: "b", Node: "b"},
		{Host: "a", Node: "z"},
		{Host: "a", Node: "a"},
	})
	require.Equal(t, 3, s.Len())
	assert.Equal(t, v1alpha1.HostNode{Host: "a", Node: "a"}, s.Hosts()[0].HostNode())
	assert.Equal(t, v1alpha1.HostNode{Host: "a", Node: "z"}, s.Hosts()[1].HostNode())
	assert.Equal(t, "b", s.Get("b", "b").Host)
}
