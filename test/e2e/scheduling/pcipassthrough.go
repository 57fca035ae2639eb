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

var _ = framework.SIGDescribe("PciPassthrough", func() {
	f := framework.NewFramework("pci", func(cfg *config.SchedulerConfiguration) {
		cfg.PCIWhitelist = []string{`{"vendor_id": "10de", "product_id": "1db4"}`}
	})

	gpuRequest := func(count, numInstances int) v1alpha1.RequestSpec {
		spec := request(2, 2048, numInstances)
		spec.PCIRequests = []v1alpha1.InstancePCIRequest{{
			Count: count,
			Spec:  []map[string]string{{"vendor_id": "10de"}},
		}}
		return spec
	}

	ginkgo.BeforeEach(func() {
		f.AddHost(gpuHost("gpu-host", 2))
		f.AddHost(gpuHost("plain-host", 0))
	})

	ginkgo.It("places device requests on hosts with free devices", func() {
		code, resp, msg := f.Select(gpuRequest(1, 2), nil)
		gomega.Expect(code).To(gomega.Equal(http.StatusOK), msg)
		framework.ExpectEqual(selectedHosts(resp.Selections), []string{"gpu-host", "gpu-host"})

		ginkgo.By("claiming more devices than the host has")
		code, _, _ = f.Select(gpuRequest(1, 3), nil)
		framework.ExpectEqual(code, http.StatusConflict)
		code, _, _ = f.Select(gpuRequest(3, 1), nil)
		framework.ExpectEqual(code, http.StatusConflict)
	})

	ginkgo.It("keeps other requests away from device hosts", func() {
		code, resp, msg := f.Select(request(2, 2048, 1), nil)
		gomega.Expect(code).To(gomega.Equal(http.StatusOK), msg)
		framework.ExpectEqual(selectedHosts(resp.Selections), []string{"plain-host"})
	})

	ginkgo.It("ignores devices outside the whitelist", func() {
		other := gpuHost("other-gpu-host", 0)
		other.PCIDevices = []v1alpha1.PCIDevice{{Address: "0000:81:00.0", VendorID: "10de", ProductID: "1eb8"}}
		f.AddHost(other)

		spec := gpuRequest(1, 1)
		spec.PCIRequests[0].Spec = []map[string]string{{"product_id": "1eb8"}}
		code, _, _ := f.Select(spec, nil)
		framework.ExpectEqual(code, http.StatusConflict)
	})
})
