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

package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"

	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
	"github.com/koordinator-sh/fleet-scheduler/pkg/hwdiscovery"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/reportsource"
)

type reporter struct {
	options        hwdiscovery.Options
	aggregatesFile string
	usageFile      string
	outputDir      string
	interval       time.Duration

	discover func(opts hwdiscovery.Options) (*v1alpha1.HostCapabilityReport, error)
}

func newReporter(c *cli.Context) (*reporter, error) {
	r := &reporter{
		options: hwdiscovery.Options{
			Host:    c.String("host"),
			Node:    c.String("node"),
			Root:    c.String("root"),
			LocalGB: c.Int64("local-gb"),
		},
		aggregatesFile: c.String("aggregates-file"),
		usageFile:      c.String("usage-file"),
		outputDir:      c.String("output"),
		interval:       c.Duration("interval"),
		discover:       hwdiscovery.Discover,
	}
	if r.options.Host == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to get hostname: %w", err)
		}
		r.options.Host = hostname
	}
	if r.interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", r.interval)
	}
	return r, nil
}

func (r *reporter) reportPath() string {
	return filepath.Join(r.outputDir, r.options.Host+".yaml")
}

// reportOnce discovers the host and writes its report. The aggregates and usage files
// are read again every time since their owners rewrite them.
func (r *reporter) reportOnce() error {
	opts := r.options
	if r.aggregatesFile != "" {
		var aggregates []v1alpha1.Aggregate
		if err := readYAML(r.aggregatesFile, &aggregates); err != nil {
			return err
		}
		opts.Aggregates = aggregates
	}
	if r.usageFile != "" {
		usage := &hwdiscovery.Usage{}
		if err := readYAML(r.usageFile, usage); err != nil {
			return err
		}
		opts.Usage = usage
	}

	report, err := r.discover(opts)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(r.outputDir, 0755); err != nil {
		return err
	}
	if err := reportsource.WriteReportFile(r.reportPath(), report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	klog.V(2).InfoS("Wrote capability report", "file", r.reportPath(), "vcpus", report.VCPUs, "memoryMB", report.MemoryMB)
	return nil
}

func (r *reporter) run(oneshot bool, sigs <-chan os.Signal) error {
	if err := r.reportOnce(); err != nil {
		if oneshot {
			return err
		}
		klog.ErrorS(err, "Failed to report host capabilities")
	}
	if oneshot {
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := r.reportOnce(); err != nil {
				klog.ErrorS(err, "Failed to report host capabilities")
			}
		case s := <-sigs:
			klog.InfoS("Received signal, exiting", "signal", s)
			return nil
		}
	}
}

func readYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.UnmarshalStrict(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func signals() <-chan os.Signal {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	return sigs
}
