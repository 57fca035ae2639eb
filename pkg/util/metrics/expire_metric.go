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
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
)

const (
	DefaultExpireTime = 5 * time.Minute
	DefaultGCInterval = 1 * time.Minute
)

var nowFunc = time.Now

// GCGaugeVec is a gauge vector whose series disappear when they are not set again within
// the expire time. It backs per-host gauges, so hosts that stop reporting drop out of the
// exported metrics as they drop out of scheduling.
type GCGaugeVec struct {
	vec        *prometheus.GaugeVec
	expireTime time.Duration

	lock    sync.Mutex
	updated map[string]seriesStatus
}

type seriesStatus struct {
	labels    prometheus.Labels
	updatedAt time.Time
}

func NewGCGaugeVec(vec *prometheus.GaugeVec, expireTime time.Duration) *GCGaugeVec {
	if expireTime <= 0 {
		expireTime = DefaultExpireTime
	}
	return &GCGaugeVec{vec: vec, expireTime: expireTime, updated: map[string]seriesStatus{}}
}

func (g *GCGaugeVec) GetGaugeVec() *prometheus.GaugeVec {
	return g.vec
}

// SetExpireTime changes the expire time of series set from now on.
func (g *GCGaugeVec) SetExpireTime(expireTime time.Duration) {
	g.lock.Lock()
	defer g.lock.Unlock()
	if expireTime > 0 {
		g.expireTime = expireTime
	}
}

func (g *GCGaugeVec) WithSet(labels prometheus.Labels, value float64) {
	g.vec.With(labels).Set(value)
	g.lock.Lock()
	defer g.lock.Unlock()
	g.updated[labelsToKey(labels)] = seriesStatus{labels: labels, updatedAt: nowFunc()}
}

func (g *GCGaugeVec) Delete(labels prometheus.Labels) {
	g.vec.Delete(labels)
	g.lock.Lock()
	defer g.lock.Unlock()
	delete(g.updated, labelsToKey(labels))
}

// DeleteMatching removes every series carrying the given label values.
func (g *GCGaugeVec) DeleteMatching(labels prometheus.Labels) int {
	g.lock.Lock()
	defer g.lock.Unlock()
	var count int
	for key, status := range g.updated {
		if !matches(status.labels, labels) {
			continue
		}
		g.vec.Delete(status.labels)
		delete(g.updated, key)
		count++
	}
	return count
}

// Len returns the number of live series.
func (g *GCGaugeVec) Len() int {
	g.lock.Lock()
	defer g.lock.Unlock()
	return len(g.updated)
}

// Expire removes the series not set within the expire time.
func (g *GCGaugeVec) Expire() int {
	g.lock.Lock()
	defer g.lock.Unlock()
	deadline := nowFunc().Add(-g.expireTime)
	var count int
	for key, status := range g.updated {
		if status.updatedAt.Before(deadline) {
			g.vec.Delete(status.labels)
			delete(g.updated, key)
			count++
		}
	}
	if count > 0 {
		klog.V(5).InfoS("Expired metric series", "count", count)
	}
	return count
}

// Run expires stale series every interval until stopCh is closed.
func (g *GCGaugeVec) Run(interval time.Duration, stopCh <-chan struct{}) {
	if interval <= 0 {
		interval = DefaultGCInterval
	}
	go wait.Until(func() { g.Expire() }, interval, stopCh)
}

func matches(labels, selector prometheus.Labels) bool {
	for k, v := range selector {
		if labels[k] != v {
			return false
		}
	}
	return true
}

// labelsToKey joins the label values in label name order.
// NOTE: It assumes that the label keys of a metric vector are fixed.
func labelsToKey(labels prometheus.Labels) string {
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i := range keys {
		b.WriteString(labels[keys[i]])
		b.WriteByte(',')
	}
	return b.String()
}
