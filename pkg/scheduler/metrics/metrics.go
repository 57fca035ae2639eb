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
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/component-base/metrics"
	"k8s.io/component-base/metrics/legacyregistry"

	utilmetrics "github.com/koordinator-sh/fleet-scheduler/pkg/util/metrics"
)

const (
	SchedulerSubsystem = "fleet_scheduler"

	ResultScheduled   = "scheduled"
	ResultNoValidHost = "no_valid_host"
	ResultError       = "error"

	ResourceFreeRAMMB  = "free_ram_mb"
	ResourceFreeDiskMB = "free_disk_mb"
	ResourceFreeVCPUs  = "free_vcpus"
	ResourceFreePCI    = "free_pci_devices"
)

// All the histogram based metrics have 1ms as size for the smallest bucket.
var (
	PlacementAttempts = metrics.NewCounterVec(
		&metrics.CounterOpts{
			Subsystem:      SchedulerSubsystem,
			Name:           "placement_attempts_total",
			Help:           "Number of placement calls by result.",
			StabilityLevel: metrics.ALPHA,
		}, []string{"result"})

	PlacementDuration = metrics.NewHistogramVec(
		&metrics.HistogramOpts{
			Subsystem:      SchedulerSubsystem,
			Name:           "placement_duration_seconds",
			Help:           "Latency of placement calls by result.",
			Buckets:        metrics.ExponentialBuckets(0.001, 2, 15),
			StabilityLevel: metrics.ALPHA,
		}, []string{"result"})

	InstancesPlaced = metrics.NewCounter(
		&metrics.CounterOpts{
			Subsystem:      SchedulerSubsystem,
			Name:           "instances_placed_total",
			Help:           "Number of instances given a destination.",
			StabilityLevel: metrics.ALPHA,
		})

	FilterEliminations = metrics.NewCounterVec(
		&metrics.CounterOpts{
			Subsystem:      SchedulerSubsystem,
			Name:           "filter_eliminations_total",
			Help:           "Number of hosts removed by each filter.",
			StabilityLevel: metrics.ALPHA,
		}, []string{"filter"})

	SnapshotHosts = metrics.NewGauge(
		&metrics.GaugeOpts{
			Subsystem:      SchedulerSubsystem,
			Name:           "snapshot_hosts",
			Help:           "Number of hosts in the last scheduling snapshot.",
			StabilityLevel: metrics.ALPHA,
		})

	HostReports = metrics.NewCounterVec(
		&metrics.CounterOpts{
			Subsystem:      SchedulerSubsystem,
			Name:           "host_reports_total",
			Help:           "Number of capability reports received, by result.",
			StabilityLevel: metrics.ALPHA,
		}, []string{"result"})

	HostFreeResources = utilmetrics.NewGCGaugeVec(prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Subsystem: SchedulerSubsystem,
			Name:      "host_free_resources",
			Help:      "Free resources of each reporting host (free_ram_mb, free_disk_mb, free_vcpus, free_pci_devices).",
		}, []string{"host", "node", "resource"}), utilmetrics.DefaultExpireTime)

	metricsList = []metrics.Registerable{
		PlacementAttempts,
		PlacementDuration,
		InstancesPlaced,
		FilterEliminations,
		SnapshotHosts,
		HostReports,
	}

	gcMetricsList = []prometheus.Collector{
		HostFreeResources.GetGaugeVec(),
	}
)

var registerMetrics sync.Once

// Register all metrics.
func Register() {
	registerMetrics.Do(func() {
		RegisterStandardAndGCMetrics(metricsList, gcMetricsList)
	})
}

// RegisterStandardAndGCMetrics registers both standard and garbage collection metrics.
func RegisterStandardAndGCMetrics(standardMetrics []metrics.Registerable, gcMetrics []prometheus.Collector) {
	for _, metric := range standardMetrics {
		legacyregistry.MustRegister(metric)
	}
	for _, metric := range gcMetrics {
		legacyregistry.RawMustRegister(metric)
	}
}

// RunHostMetricsGC expires the free resource series of hosts that stopped reporting.
func RunHostMetricsGC(reportTTL time.Duration, stopCh <-chan struct{}) {
	HostFreeResources.SetExpireTime(reportTTL)
	HostFreeResources.Run(utilmetrics.DefaultGCInterval, stopCh)
}

// RecordPlacement records the outcome of one placement call.
func RecordPlacement(result string, instances int, duration time.Duration) {
	PlacementAttempts.WithLabelValues(result).Inc()
	PlacementDuration.WithLabelValues(result).Observe(duration.Seconds())
	if result == ResultScheduled {
		InstancesPlaced.Add(float64(instances))
	}
}

// RecordEliminations adds the hosts removed by each filter in one pass.
func RecordEliminations(eliminations map[string]int) {
	for filter, n := range eliminations {
		if n > 0 {
			FilterEliminations.WithLabelValues(filter).Add(float64(n))
		}
	}
}

// RecordHostReport counts one capability report. ok is false for rejected reports.
func RecordHostReport(ok bool) {
	if ok {
		HostReports.WithLabelValues("accepted").Inc()
		return
	}
	HostReports.WithLabelValues("rejected").Inc()
}

// RecordHostFreeResources exports the free capacity of a host.
func RecordHostFreeResources(host, node string, resources map[string]float64) {
	for resource, value := range resources {
		HostFreeResources.WithSet(prometheus.Labels{"host": host, "node": node, "resource": resource}, value)
	}
}

// ForgetHost removes the series of a host.
func ForgetHost(host, node string) {
	HostFreeResources.DeleteMatching(prometheus.Labels{"host": host, "node": node})
}
