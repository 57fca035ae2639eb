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
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/apis/config"
	"github.com/koordinator-sh/fleet-scheduler/test/e2e/framework"
)

var _ = framework.SIGDescribe("Placement", func() {
	f := framework.NewFramework("placement", func(cfg *config.SchedulerConfiguration) {
		cfg.EnabledWeighers = []config.WeigherConfig{{Name: "RAMWeigher", Multiplier: 1}}
		cfg.NumAlternates = 1
	})

	ginkgo.BeforeEach(func() {
		f.AddHost(simpleHost("host1", 16, 32768))
		f.AddHost(simpleHost("host2", 16, 16384))
	})

	ginkgo.It("prefers the host with more free RAM", func() {
		code, resp, msg := f.Select(request(2, 2048, 1), nil)
		gomega.Expect(code).To(gomega.Equal(http.StatusOK), msg)
		gomega.Expect(resp.Selections).To(gomega.HaveLen(1))
		framework.ExpectEqual(resp.Selections[0].Host, "host1")
		framework.ExpectEqual(resp.Selections[0].Alternates, []v1alpha1.HostNode{{Host: "host2", Node: "host2"}})
		gomega.Expect(resp.Selections[0].Limits.MemoryMB).To(gomega.BeNumerically("==", 32768*1.5))
	})

	ginkgo.It("fails with no valid host and no selections", func() {
		code, resp, msg := f.Select(request(2, 1<<20, 1), nil)
		framework.ExpectEqual(code, http.StatusConflict)
		gomega.Expect(resp).To(gomega.BeNil())
		gomega.Expect(msg).To(gomega.ContainSubstring("No valid host was found"))
	})

	ginkgo.It("spreads a batch as the claims shrink the free RAM", func() {
		code, resp, msg := f.Select(request(2, 12288, 3), nil)
		gomega.Expect(code).To(gomega.Equal(http.StatusOK), msg)
		// 32768-512 free on host1 and 16384-512 on host2
		gomega.Expect(selectedHosts(resp.Selections)).To(gomega.Equal([]string{"host1", "host1", "host2"}))
	})

	ginkgo.It("keeps the batch all or nothing", func() {
		code, _, _ := f.Select(request(2, 12288, 5), nil)
		framework.ExpectEqual(code, http.StatusConflict)

		ginkgo.By("checking that no claim leaked into the host states")
		h, ok := f.Scheduler.Hosts().Get("host1", "")
		gomega.Expect(ok).To(gomega.BeTrue())
		framework.ExpectEqual(h.NumInstances, 0)
	})

	ginkgo.It("skips the hosts of earlier attempts", func() {
		props := &v1alpha1.FilterProperties{Retry: &v1alpha1.RetryInfo{
			NumAttempts: 1,
			Hosts:       []v1alpha1.HostNode{{Host: "host1", Node: "host1"}},
		}}
		code, resp, msg := f.Select(request(2, 2048, 1), props)
		gomega.Expect(code).To(gomega.Equal(http.StatusOK), msg)
		framework.ExpectEqual(selectedHosts(resp.Selections), []string{"host2"})
		framework.ExpectEqual(resp.FilterProperties.Retry.NumAttempts, 2)
		gomega.Expect(resp.FilterProperties.Retry.Hosts).To(gomega.ContainElement(v1alpha1.HostNode{Host: "host2", Node: "host2"}))

		ginkgo.By("exceeding the maximum attempts")
		props = resp.FilterProperties
		props.Retry.NumAttempts = *f.Config.MaxAttempts
		code, _, msg = f.Select(request(2, 2048, 1), props)
		framework.ExpectEqual(code, http.StatusConflict)
		gomega.Expect(msg).To(gomega.ContainSubstring("Exceeded max scheduling attempts"))
	})

	ginkgo.It("honors the requested availability zone", func() {
		zoned := simpleHost("host3", 16, 8192)
		zoned.Aggregates = []v1alpha1.Aggregate{{Name: "rack-a", Metadata: map[string]string{"availability_zone": "az1,az2"}}}
		f.AddHost(zoned)

		spec := request(2, 2048, 1)
		spec.AvailabilityZone = "az2"
		code, resp, msg := f.Select(spec, nil)
		gomega.Expect(code).To(gomega.Equal(http.StatusOK), msg)
		framework.ExpectEqual(selectedHosts(resp.Selections), []string{"host3"})
	})

	ginkgo.It("keeps anti-affinity members apart", func() {
		spec := request(2, 2048, 2)
		spec.InstanceGroup = &v1alpha1.InstanceGroup{UUID: "group-1", Policy: v1alpha1.InstanceGroupPolicyAntiAffinity}
		code, resp, msg := f.Select(spec, nil)
		gomega.Expect(code).To(gomega.Equal(http.StatusOK), msg)
		gomega.Expect(selectedHosts(resp.Selections)).To(gomega.ConsistOf("host1", "host2"))

		spec.NumInstances = 3
		code, _, _ = f.Select(spec, nil)
		framework.ExpectEqual(code, http.StatusConflict)
	})
})
