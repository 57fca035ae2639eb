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
	"os"
	"path/filepath"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/reportsource"
	"github.com/koordinator-sh/fleet-scheduler/test/e2e/framework"
)

var _ = framework.SIGDescribe("HostReports", func() {
	f := framework.NewDefaultFramework("reports")

	ginkgo.It("follows reports as they come and go", func() {
		f.AddHost(simpleHost("host1", 16, 16384))
		code, _, msg := f.Select(request(2, 2048, 1), nil)
		gomega.Expect(code).To(gomega.Equal(http.StatusOK), msg)

		f.RemoveHost("host1")
		code, _, _ = f.Select(request(2, 2048, 1), nil)
		framework.ExpectEqual(code, http.StatusConflict)
	})

	ginkgo.It("applies rewritten reports", func() {
		report := simpleHost("host1", 16, 4096)
		f.AddHost(report)
		code, _, _ := f.Select(request(2, 8192, 1), nil)
		framework.ExpectEqual(code, http.StatusConflict)

		ginkgo.By("reporting more memory")
		report.MemoryMB = 32768
		framework.ExpectNoError(reportsource.WriteReportFile(filepath.Join(f.ReportDir, "host1.yaml"), report))
		gomega.Eventually(func() int64 {
			h, _ := f.Scheduler.Hosts().Get("host1", "")
			if h == nil {
				return 0
			}
			return h.TotalUsableRAMMB
		}, framework.HostSyncTimeout).Should(gomega.Equal(int64(32768)))

		code, _, msg := f.Select(request(2, 8192, 1), nil)
		gomega.Expect(code).To(gomega.Equal(http.StatusOK), msg)
	})

	ginkgo.It("skips invalid reports", func() {
		framework.ExpectNoError(os.WriteFile(filepath.Join(f.ReportDir, "broken.yaml"), []byte("host: [unterminated"), 0644))
		framework.ExpectNoError(os.WriteFile(filepath.Join(f.ReportDir, "negative.yaml"), []byte("host: bad\nvcpus: -1\n"), 0644))
		f.AddHost(simpleHost("host1", 16, 16384))

		gomega.Consistently(func() int {
			return f.Scheduler.Hosts().Len()
		}, "1s").Should(gomega.Equal(1))
	})
})
