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

package scheduling

import (
	"net/http"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
	"github.com/koordinator-sh/fleet-scheduler/test/e2e/framework"
)

var _ = framework.SIGDescribe("NUMATopology", func() {
	f := framework.NewDefaultFramework("numa")

	ginkgo.BeforeEach(func() {
		f.AddHost(numaHost("numa-host"))
	})

	ginkgo.It("pins dedicated instances to distinct cells", func() {
		spec := request(4, 1024, 2)
		spec.NUMATopology = &v1alpha1.NUMATopologyRequest{CPUPolicy: v1alpha1.CPUPolicyDedicated}
		code, resp, msg := f.Select(spec, nil)
		gomega.Expect(code).To(gomega.Equal(http.StatusOK), msg)
		gomega.Expect(resp.Selections).To(gomega.HaveLen(2))

		pinned := []string{}
		for _, s := range resp.Selections {
			gomega.Expect(s.NUMATopology).NotTo(gomega.BeNil())
			gomega.Expect(s.NUMATopology.Cells).To(gomega.HaveLen(1))
			pinned = append(pinned, s.NUMATopology.Cells[0].PinnedCPUs)
		}
		gomega.Expect(pinned).To(gomega.ConsistOf("0-3", "4-7"))

		ginkgo.By("asking for more pinned CPUs than the host has")
		spec.NumInstances = 3
		code, _, _ = f.Select(spec, nil)
		framework.ExpectEqual(code, http.StatusConflict)
	})

	ginkgo.It("fits hugepage backed guests on the page pools", func() {
		spec := request(2, 1024, 1)
		spec.NUMATopology = &v1alpha1.NUMATopologyRequest{PageSizeKB: 2048}
		code, resp, msg := f.Select(spec, nil)
		gomega.Expect(code).To(gomega.Equal(http.StatusOK), msg)
		framework.ExpectEqual(resp.Selections[0].NUMATopology.Cells[0].PageSizeKB, int64(2048))

		ginkgo.By("asking for more 2M pages than one cell has")
		spec.Flavor.MemoryMB = 2048
		code, _, _ = f.Select(spec, nil)
		framework.ExpectEqual(code, http.StatusConflict)

		ginkgo.By("asking for a page size the host does not have")
		spec.Flavor.MemoryMB = 1024
		spec.NUMATopology.PageSizeKB = 1048576
		code, _, _ = f.Select(spec, nil)
		framework.ExpectEqual(code, http.StatusConflict)
	})

	ginkgo.It("excludes hosts without NUMA data from NUMA requests", func() {
		f.AddHost(simpleHost("plain-host", 64, 65536))
		spec := request(2, 1024, 1)
		spec.NUMATopology = &v1alpha1.NUMATopologyRequest{CPUPolicy: v1alpha1.CPUPolicyDedicated}
		code, resp, msg := f.Select(spec, nil)
		gomega.Expect(code).To(gomega.Equal(http.StatusOK), msg)
		framework.ExpectEqual(selectedHosts(resp.Selections), []string{"numa-host"})
	})
})
