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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/pci"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/services"
)

var _ services.APIServiceProvider = &Manager{}

type HostSummary struct {
	Host         string    `json:"host"`
	Node         string    `json:"node"`
	FreeRAMMB    int64     `json:"freeRAMMB"`
	FreeDiskMB   int64     `json:"freeDiskMB"`
	VCPUsTotal   int       `json:"vcpusTotal"`
	VCPUsUsed    float64   `json:"vcpusUsed"`
	NumInstances int       `json:"numInstances"`
	NumIOOps     int       `json:"numIOOps"`
	Aggregates   []string  `json:"aggregates,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type NUMACellResponse struct {
	ID            int     `json:"id"`
	CPUSet        string  `json:"cpuset"`
	PinnedCPUs    string  `json:"pinnedCPUs"`
	FreeCPUs      string  `json:"freeCPUs"`
	CPUUsage      int     `json:"cpuUsage"`
	MemoryMB      int64   `json:"memoryMB"`
	MemoryUsageMB int64   `json:"memoryUsageMB"`
}

type HostResponse struct {
	HostSummary `json:",inline"`

	CPUAllocationRatio  float64            `json:"cpuAllocationRatio"`
	RAMAllocationRatio  float64            `json:"ramAllocationRatio"`
	DiskAllocationRatio float64            `json:"diskAllocationRatio"`
	Metadata            map[string]string  `json:"metadata,omitempty"`
	NUMACells           []NUMACellResponse `json:"numaCells,omitempty"`
	PCIPools            []pci.Pool         `json:"pciPools,omitempty"`
}

func (m *Manager) RegisterEndpoints(group *gin.RouterGroup) {
	group.GET("/hosts", func(c *gin.Context) {
		snapshot := m.Snapshot()
		resp := make([]HostSummary, 0, snapshot.Len())
		for _, h := range snapshot.Hosts() {
			resp = append(resp, summarize(h))
		}
		c.JSON(http.StatusOK, resp)
	})
	group.GET("/hosts/:host", func(c *gin.Context) {
		host := c.Param("host")
		h, ok := m.Get(host, c.DefaultQuery("node", host))
		if !ok {
			services.ResponseErrorMessage(c, http.StatusNotFound, "cannot find host %s", host)
			return
		}
		c.JSON(http.StatusOK, dumpHostState(h))
	})
}

func summarize(h *HostState) HostSummary {
	return HostSummary{
		Host:         h.Host,
		Node:         h.Node,
		FreeRAMMB:    h.FreeRAMMB,
		FreeDiskMB:   h.FreeDiskMB,
		VCPUsTotal:   h.VCPUsTotal,
		VCPUsUsed:    h.VCPUsUsed,
		NumInstances: h.NumInstances,
		NumIOOps:     h.NumIOOps,
		Aggregates:   h.Aggregates,
		UpdatedAt:    h.UpdatedAt,
	}
}

func dumpHostState(h *HostState) *HostResponse {
	resp := &HostResponse{
		HostSummary:         summarize(h),
		CPUAllocationRatio:  h.CPUAllocationRatio,
		RAMAllocationRatio:  h.RAMAllocationRatio,
		DiskAllocationRatio: h.DiskAllocationRatio,
		Metadata:            h.Metadata,
		PCIPools:            h.PCIStats.Pools(),
	}
	if h.NUMATopology != nil {
		for _, cell := range h.NUMATopology.Cells {
			resp.NUMACells = append(resp.NUMACells, NUMACellResponse{
				ID:            cell.ID,
				CPUSet:        cell.CPUSet.String(),
				PinnedCPUs:    cell.PinnedCPUs.String(),
				FreeCPUs:      cell.FreeCPUs().String(),
				CPUUsage:      cell.CPUUsage,
				MemoryMB:      cell.MemoryMB,
				MemoryUsageMB: cell.MemoryUsageMB,
			})
		}
	}
	return resp
}
