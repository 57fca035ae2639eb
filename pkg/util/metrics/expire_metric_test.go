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

package metrics

import (
	"testing"
	"time"

	"github.com/prashantv/gostub"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

const testSubsystem = "test"

func newTestGaugeVec(name string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: testSubsystem,
		Name:      name,
	}, []string{"host", "node", "resource"})
}

func Test_GCGaugeVec(t *testing.T) {
	vec := newTestGaugeVec("test_gauge")
	g := NewGCGaugeVec(vec, time.Minute)
	assert.Equal(t, vec, g.GetGaugeVec())

	host1RAM := prometheus.Labels{"host": "host1", "node": "host1", "resource": "ram_mb"}
	host1Disk := prometheus.Labels{"host": "host1", "node": "host1", "resource": "disk_mb"}
	host2RAM := prometheus.Labels{"host": "host2", "node": "host2", "resource": "ram_mb"}

	g.WithSet(host1RAM, 1024)
	g.WithSet(host1Disk, 2048)
	g.WithSet(host2RAM, 512)
	assert.Equal(t, 3, len(collectMetrics(vec)), "checkMetricsNum")
	assert.Equal(t, 3, g.Len(), "checkStatusNum")

	// update
	g.WithSet(host1RAM, 4096)
	assert.Equal(t, 3, len(collectMetrics(vec)), "checkMetricsNum")
	assert.Equal(t, 3, g.Len(), "checkStatusNum")

	// delete
	g.Delete(host2RAM)
	assert.Equal(t, 2, len(collectMetrics(vec)), "checkMetricsNum")
	assert.Equal(t, 2, g.Len(), "checkStatusNum")

	// delete all series of a host
	assert.Equal(t, 2, g.DeleteMatching(prometheus.Labels{"host": "host1"}))
	assert.Equal(t, 0, len(collectMetrics(vec)), "checkMetricsNum")
	assert.Equal(t, 0, g.Len(), "checkStatusNum")
}

func Test_GCGaugeVecExpire(t *testing.T) {
	now := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	stubs := gostub.StubFunc(&nowFunc, now)
	defer stubs.Reset()

	vec := newTestGaugeVec("test_expire")
	g := NewGCGaugeVec(vec, time.Minute)
	g.WithSet(prometheus.Labels{"host": "host1", "node": "host1", "resource": "ram_mb"}, 1)

	stubs.StubFunc(&nowFunc, now.Add(30*time.Second))
	g.WithSet(prometheus.Labels{"host": "host2", "node": "host2", "resource": "ram_mb"}, 1)
	assert.Equal(t, 0, g.Expire())

	stubs.StubFunc(&nowFunc, now.Add(61*time.Second))
	assert.Equal(t, 1, g.Expire())
	assert.Equal(t, 1, g.Len())
	assert.Equal(t, 1, len(collectMetrics(vec)))

	stubs.StubFunc(&nowFunc, now.Add(2*time.Minute))
	assert.Equal(t, 1, g.Expire())
	assert.Equal(t, 0, g.Len())
}

func Test_GCGaugeVecRun(t *testing.T) {
	vec := newTestGaugeVec("test_run")
	g := NewGCGaugeVec(vec, time.Millisecond)
	g.WithSet(prometheus.Labels{"host": "host1", "node": "host1", "resource": "ram_mb"}, 1)

	stopCh := make(chan struct{})
	defer close(stopCh)
	g.Run(5*time.Millisecond, stopCh)
	assert.Eventually(t, func() bool { return g.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestLabelsToKey(t *testing.T) {
	assert.Equal(t, "a,b,", labelsToKey(prometheus.Labels{"y": "b", "x": "a"}))
	assert.Equal(t, "", labelsToKey(nil))
}

func collectMetrics(vec prometheus.Collector) []prometheus.Metric {
	metricsCh := make(chan prometheus.Metric, 10)
	go func() {
		vec.Collect(metricsCh)
		close(metricsCh)
	}()
	var ms []prometheus.Metric
	for metric := range metricsCh {
		ms = append(ms, metric)
	}
	return ms
}
