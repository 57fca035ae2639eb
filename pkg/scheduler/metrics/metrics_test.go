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

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/component-base/metrics/testutil"
)

func TestRecordPlacement(t *testing.T) {
	Register()

	before, err := testutil.GetCounterMetricValue(PlacementAttempts.WithLabelValues(ResultScheduled))
	require.NoError(t, err)
	placedBefore, err := testutil.GetCounterMetricValue(InstancesPlaced)
	require.NoError(t, err)

	RecordPlacement(ResultScheduled, 3, 10*time.Millisecond)
	RecordPlacement(ResultNoValidHost, 2, time.Millisecond)

	after, err := testutil.GetCounterMetricValue(PlacementAttempts.WithLabelValues(ResultScheduled))
	require.NoError(t, err)
	assert.Equal(t, before+1, after)
	placedAfter, err := testutil.GetCounterMetricValue(InstancesPlaced)
	require.NoError(t, err)
	assert.Equal(t, placedBefore+3, placedAfter, "failed placements place nothing")
}

func TestRecordEliminations(t *testing.T) {
	Register()

	before, err := testutil.GetCounterMetricValue(FilterEliminations.WithLabelValues("RamFilter"))
	require.NoError(t, err)
	RecordEliminations(map[string]int{"RamFilter": 2, "RetryFilter": 0})
	after, err := testutil.GetCounterMetricValue(FilterEliminations.WithLabelValues("RamFilter"))
	require.NoError(t, err)
	assert.Equal(t, before+2, after)
}

func TestHostFreeResources(t *testing.T) {
	RecordHostFreeResources("host-m1", "host-m1", map[string]float64{
		ResourceFreeRAMMB:  1024,
		ResourceFreeDiskMB: 2048,
	})
	vec := HostFreeResources.GetGaugeVec()
	assert.Equal(t, 1024.0, promtestutil.ToFloat64(vec.With(prometheus.Labels{"host": "host-m1", "node": "host-m1", "resource": ResourceFreeRAMMB})))

	ForgetHost("host-m1", "host-m1")
	assert.Equal(t, 0, HostFreeResources.DeleteMatching(prometheus.Labels{"host": "host-m1"}))
}
