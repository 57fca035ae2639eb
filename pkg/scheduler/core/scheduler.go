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

package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"
	"k8s.io/utils/ptr"

	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/apis/config"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/apis/config/validation"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/framework"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/hoststate"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/metrics"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/pci"
	"github.com/koordinator-sh/fleet-scheduler/pkg/util/validator"
)

const Name = "FilterScheduler"

// Scheduler places batches of instances on the hosts known to its host state manager.
// Every call works on a private snapshot, so concurrent calls never see each other's
// tentative claims.
type Scheduler struct {
	config    *config.SchedulerConfiguration
	framework *framework.Framework
	hosts     *hoststate.Manager
}

// New builds a Scheduler from a validated configuration and an existing host manager.
func New(cfg *config.SchedulerConfiguration, registry *framework.Registry, whitelist *pci.Whitelist, hosts *hoststate.Manager) (*Scheduler, error) {
	fw, err := framework.NewFramework(registry, framework.NewHandle(cfg, whitelist))
	if err != nil {
		return nil, err
	}
	return &Scheduler{config: cfg, framework: fw, hosts: hosts}, nil
}

// Setup validates cfg, parses the PCI whitelist and builds the host manager and the scheduler.
func Setup(cfg *config.SchedulerConfiguration, registry *framework.Registry) (*Scheduler, error) {
	if err := validation.ValidateSchedulerConfiguration(cfg, registry.FilterNames(), registry.WeigherNames()); err != nil {
		return nil, fmt.Errorf("invalid scheduler configuration: %w", err)
	}
	whitelist, err := pci.ParseWhitelist(cfg.PCIWhitelist)
	if err != nil {
		return nil, err
	}
	var ttl time.Duration
	if cfg.ReportTTL != nil {
		ttl = cfg.ReportTTL.Duration
	}
	hosts := hoststate.NewManager(ttl, whitelist, HostDefaults(cfg))
	return New(cfg, registry, whitelist, hosts)
}

// HostDefaults derives the report defaults from the configuration.
func HostDefaults(cfg *config.SchedulerConfiguration) hoststate.Defaults {
	d := hoststate.Defaults{
		CPUAllocationRatio:  cfg.CPUAllocationRatio,
		RAMAllocationRatio:  cfg.RAMAllocationRatio,
		DiskAllocationRatio: cfg.DiskAllocationRatio,
	}
	if cfg.ReservedHostMemoryMB != nil {
		d.ReservedHostMemoryMB = *cfg.ReservedHostMemoryMB
	}
	if cfg.ReservedHostDiskMB != nil {
		d.ReservedHostDiskMB = *cfg.ReservedHostDiskMB
	}
	return d
}

func (s *Scheduler) Name() string { return Name }

// Hosts returns the host state manager fed by the capability reports.
func (s *Scheduler) Hosts() *hoststate.Manager {
	return s.hosts
}

func (s *Scheduler) Framework() *framework.Framework {
	return s.framework
}

// SelectDestinations chooses one host for each of the spec.NumInstances instances. Each
// choice is claimed on the snapshot before the next instance is placed. Either every
// instance gets a Selection or a NoValidHostError is returned with no selections.
//
// props may be nil. When it carries retry information, the attempt counter is increased
// and checked against the configured maximum, and on success the chosen hosts are added
// to the retry history so a re-invocation skips them.
func (s *Scheduler) SelectDestinations(ctx context.Context, spec *v1alpha1.RequestSpec, props *v1alpha1.FilterProperties) (selections []v1alpha1.Selection, err error) {
	start := time.Now()
	defer func() {
		result := metrics.ResultScheduled
		if IsNoValidHost(err) {
			result = metrics.ResultNoValidHost
		} else if err != nil {
			result = metrics.ResultError
		}
		metrics.RecordPlacement(result, len(selections), time.Since(start))
	}()

	if spec == nil {
		return nil, fmt.Errorf("request spec is required")
	}
	if err := validator.GetValidatorInstance().Validate(spec); err != nil {
		return nil, fmt.Errorf("invalid request spec: %w", err)
	}
	requestID := spec.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	if props != nil && props.Retry != nil {
		props.Retry.NumAttempts++
		maxAttempts := ptr.Deref(s.config.MaxAttempts, 1)
		if props.Retry.NumAttempts > maxAttempts {
			klog.InfoS("Exceeded max scheduling attempts", "requestID", requestID,
				"attempts", props.Retry.NumAttempts, "maxAttempts", maxAttempts)
			return nil, noValidHost("Exceeded max scheduling attempts %d for instance %s.", maxAttempts, spec.InstanceUUID)
		}
	}

	snapshot := s.hosts.Snapshot()
	metrics.SnapshotHosts.Set(float64(snapshot.Len()))
	hosts, err := candidateHosts(spec, snapshot.Hosts())
	if err != nil {
		klog.InfoS("No candidate hosts", "requestID", requestID, "reason", err)
		return nil, err
	}
	klog.V(4).InfoS("Starting placement", "requestID", requestID, "instances", spec.NumInstances,
		"candidates", len(hosts), "snapshotGeneration", snapshot.Generation)

	// Server group membership grows with every placed instance of the batch.
	spec = withPrivateInstanceGroup(spec)
	state := framework.NewCycleState(requestID, props)
	result := make([]v1alpha1.Selection, 0, spec.NumInstances)
	for i := 0; i < spec.NumInstances; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		state.InstanceIndex = i
		selection, err := s.placeInstance(ctx, state, spec, hosts)
		if err != nil {
			return nil, err
		}
		result = append(result, *selection)
		if spec.InstanceGroup != nil {
			spec.InstanceGroup.Hosts = append(spec.InstanceGroup.Hosts, selection.Host)
		}
	}

	if props != nil {
		if props.Retry != nil {
			for _, sel := range result {
				props.Retry.Hosts = append(props.Retry.Hosts, v1alpha1.HostNode{Host: sel.Host, Node: sel.Node})
			}
		}
		limits := copyLimits(result[len(result)-1].Limits)
		props.Limits = &limits
	}
	klog.InfoS("Selected destinations", "requestID", requestID, "selections", selectedHosts(result))
	return result, nil
}

func (s *Scheduler) placeInstance(ctx context.Context, state *framework.CycleState, spec *v1alpha1.RequestSpec, hosts []*hoststate.HostState) (*v1alpha1.Selection, error) {
	state.ResetNUMAFits()
	for _, h := range hosts {
		h.Limits = v1alpha1.Limits{}
	}

	passed, diagnosis, err := s.framework.RunFilterPlugins(ctx, state, spec, hosts)
	if err != nil {
		klog.ErrorS(err, "Filter pass failed", "requestID", state.RequestID, "instanceIndex", state.InstanceIndex)
		return nil, err
	}
	metrics.RecordEliminations(diagnosis.Eliminations())
	if len(passed) == 0 {
		klog.InfoS("Filters eliminated all hosts", "requestID", state.RequestID,
			"instanceIndex", state.InstanceIndex, "diagnosis", diagnosis.Summary())
		if klogV := klog.V(4); klogV.Enabled() {
			for _, f := range diagnosis.HostFailures() {
				klogV.InfoS("Host rejected", "requestID", state.RequestID, "host", f.Host,
					"filter", f.Filter, "code", f.Code, "reason", f.Reason)
			}
		}
		return nil, noValidHost("There are not enough hosts available.")
	}

	weighed := s.framework.RunWeigherPlugins(ctx, state, spec, passed)
	for i, candidate := range weighed {
		host := candidate.Host
		fit := state.NUMAFit(host.Key())
		if err := host.Consume(spec, fit); err != nil {
			klog.V(4).InfoS("Failed to claim resources on host, trying next", "requestID", state.RequestID,
				"host", host.Key(), "err", err)
			continue
		}
		klog.V(4).InfoS("Selected host", "requestID", state.RequestID, "instanceIndex", state.InstanceIndex,
			"host", host.Key(), "weight", candidate.Weight)
		return &v1alpha1.Selection{
			Host:         host.Host,
			Node:         host.Node,
			Limits:       copyLimits(host.Limits),
			NUMATopology: fit.ToAPI(),
			Alternates:   s.alternates(weighed[i+1:]),
		}, nil
	}
	return nil, noValidHost("There are not enough hosts available.")
}

func (s *Scheduler) alternates(weighed []framework.WeighedHost) []v1alpha1.HostNode {
	n := s.config.NumAlternates
	if n > len(weighed) {
		n = len(weighed)
	}
	if n <= 0 {
		return nil
	}
	out := make([]v1alpha1.HostNode, 0, n)
	for _, w := range weighed[:n] {
		out = append(out, w.Host.HostNode())
	}
	return out
}

// candidateHosts applies IgnoreHosts, ForceHosts and ForceNodes of the request.
func candidateHosts(spec *v1alpha1.RequestSpec, hosts []*hoststate.HostState) ([]*hoststate.HostState, error) {
	if len(spec.IgnoreHosts) == 0 && len(spec.ForceHosts) == 0 && len(spec.ForceNodes) == 0 {
		return hosts, nil
	}
	ignore := sets.New(spec.IgnoreHosts...)
	forceHosts := sets.New(spec.ForceHosts...)
	forceNodes := sets.New(spec.ForceNodes...)

	var out []*hoststate.HostState
	for _, h := range hosts {
		if ignore.Has(h.Host) {
			continue
		}
		if forceHosts.Len() > 0 && !forceHosts.Has(h.Host) {
			continue
		}
		if forceNodes.Len() > 0 && !forceNodes.Has(h.Node) {
			continue
		}
		out = append(out, h)
	}
	if len(out) == 0 {
		if forceHosts.Len() > 0 || forceNodes.Len() > 0 {
			return nil, noValidHost("No such host - host: %v node: %v", sets.List(forceHosts), sets.List(forceNodes))
		}
		return nil, noValidHost("All hosts are ignored.")
	}
	return out, nil
}

func withPrivateInstanceGroup(spec *v1alpha1.RequestSpec) *v1alpha1.RequestSpec {
	if spec.InstanceGroup == nil {
		return spec
	}
	out := *spec
	group := *spec.InstanceGroup
	group.Hosts = append([]string(nil), spec.InstanceGroup.Hosts...)
	out.InstanceGroup = &group
	return &out
}

func copyLimits(l v1alpha1.Limits) v1alpha1.Limits {
	if l.NUMA != nil {
		numa := *l.NUMA
		l.NUMA = &numa
	}
	return l
}

func selectedHosts(selections []v1alpha1.Selection) []string {
	out := make([]string, 0, len(selections))
	for _, s := range selections {
		out = append(out, s.Host+"/"+s.Node)
	}
	return out
}
