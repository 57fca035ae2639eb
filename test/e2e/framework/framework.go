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

package framework

import (
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
	"github.com/koordinator-sh/fleet-scheduler/cmd/fleet-scheduler/app"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/apis/config"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/core"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/plugins"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/reportsource"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/services"
)

const (
	// HostSyncTimeout bounds the time a written report takes to reach the scheduler.
	HostSyncTimeout = 10 * time.Second
	pollInterval    = 50 * time.Millisecond
)

// Framework runs one fleet scheduler per test, fed by a private report directory and
// reached over its HTTP API.
type Framework struct {
	BaseName string

	Config    *config.SchedulerConfiguration
	Scheduler *core.Scheduler
	ReportDir string
	Server    *httptest.Server

	client    *resty.Client
	configure func(cfg *config.SchedulerConfiguration)
	stopCh    chan struct{}
}

// NewDefaultFramework runs the default configuration.
func NewDefaultFramework(baseName string) *Framework {
	return NewFramework(baseName, nil)
}

// NewFramework registers the setup and teardown of a scheduler configured by configure.
func NewFramework(baseName string, configure func(cfg *config.SchedulerConfiguration)) *Framework {
	f := &Framework{BaseName: baseName, configure: configure}
	ginkgo.BeforeEach(f.BeforeEach)
	ginkgo.AfterEach(f.AfterEach)
	return f
}

func (f *Framework) BeforeEach() {
	dir, err := os.MkdirTemp("", "fleet-e2e-"+f.BaseName+"-")
	ExpectNoError(err)
	f.ReportDir = dir

	cfg := config.NewDefaultSchedulerConfiguration()
	cfg.ReportDir = dir
	cfg.ReportTTL = nil
	cfg.ReportResyncPeriod = &metav1.Duration{Duration: time.Second}
	if f.configure != nil {
		f.configure(cfg)
	}
	f.Config = cfg

	f.Scheduler, err = core.Setup(cfg, plugins.NewInTreeRegistry())
	ExpectNoError(err, "unable to set up the scheduler")

	f.stopCh = make(chan struct{})
	source := reportsource.NewFileSource(dir, cfg.ReportResyncPeriod.Duration, f.Scheduler.Hosts())
	go func() {
		defer ginkgo.GinkgoRecover()
		ExpectNoError(source.Run(f.stopCh))
	}()

	f.Server = httptest.NewServer(app.NewServicesEngine(f.Scheduler).Handler())
	f.client = resty.New().SetHostURL(f.Server.URL)
	Logf("Started scheduler %s serving on %s with reports in %s", f.BaseName, f.Server.URL, dir)
}

func (f *Framework) AfterEach() {
	if f.Server != nil {
		f.Server.Close()
	}
	if f.stopCh != nil {
		close(f.stopCh)
	}
	if f.ReportDir != "" {
		ExpectNoError(os.RemoveAll(f.ReportDir))
	}
}

func (f *Framework) reportPath(host string) string {
	return filepath.Join(f.ReportDir, host+".yaml")
}

// AddHost writes the report of a host and waits until the scheduler knows it.
func (f *Framework) AddHost(report *v1alpha1.HostCapabilityReport) {
	ginkgo.By(fmt.Sprintf("Reporting host %s", report.Host))
	ExpectNoError(reportsource.WriteReportFile(f.reportPath(report.Host), report))
	gomega.Eventually(func() bool {
		_, ok := f.Scheduler.Hosts().Get(report.Host, report.Node)
		return ok
	}, HostSyncTimeout, pollInterval).Should(gomega.BeTrue(), "host %s never reached the scheduler", report.Host)
}

// RemoveHost deletes the report of a host and waits until the scheduler forgot it.
func (f *Framework) RemoveHost(host string) {
	ginkgo.By(fmt.Sprintf("Removing report of host %s", host))
	ExpectNoError(os.Remove(f.reportPath(host)))
	gomega.Eventually(func() bool {
		_, ok := f.Scheduler.Hosts().Get(host, "")
		return ok
	}, HostSyncTimeout, pollInterval).Should(gomega.BeFalse(), "host %s was never removed", host)
}

// Select posts a placement request. It returns the HTTP status with the decoded
// response, or the error message when the status is not 200.
func (f *Framework) Select(spec v1alpha1.RequestSpec, props *v1alpha1.FilterProperties) (int, *core.SelectResponse, string) {
	out := &core.SelectResponse{}
	msg := &services.ErrorMessage{}
	resp, err := f.client.R().
		SetBody(core.SelectRequest{Spec: spec, FilterProperties: props}).
		SetResult(out).
		SetError(msg).
		Post("/apis/v1/plugins/" + core.Name + "/select")
	ExpectNoError(err)

	if !resp.IsSuccess() {
		return resp.StatusCode(), nil, msg.Message
	}
	return resp.StatusCode(), out, ""
}
