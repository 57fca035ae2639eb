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

package options

import (
	"flag"
	"time"

	"github.com/spf13/pflag"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/klog/v2"
	"k8s.io/utils/ptr"

	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/apis/config"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/framework"
)

// Options has all the params needed to run a fleet scheduler. Flags that are set
// override the values of the configuration file.
type Options struct {
	ConfigFile string

	ReportDir               string
	ReportTTL               time.Duration
	DebugAddress            string
	DefaultAvailabilityZone string
	PCIWhitelist            []string
	MaxAttempts             int

	fs *pflag.FlagSet
}

func NewOptions() *Options {
	return &Options{}
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	o.fs = fs
	fs.StringVar(&o.ConfigFile, "config", o.ConfigFile, "path to the scheduler configuration file (YAML or JSON)")
	fs.StringVar(&o.ReportDir, "report-dir", o.ReportDir, "directory watched for host capability reports")
	fs.DurationVar(&o.ReportTTL, "report-ttl", o.ReportTTL, "how long a host report stays valid, 0 keeps reports forever")
	fs.StringVar(&o.DebugAddress, "debug-address", o.DebugAddress, "address serving the placement API, debug endpoints and metrics")
	fs.StringVar(&o.DefaultAvailabilityZone, "default-availability-zone", o.DefaultAvailabilityZone, "zone of hosts whose aggregates set none")
	fs.StringArrayVar(&o.PCIWhitelist, "pci-whitelist", o.PCIWhitelist, "JSON device spec admitted for passthrough, may be repeated")
	fs.IntVar(&o.MaxAttempts, "max-attempts", o.MaxAttempts, "maximum scheduling attempts of one request")
	framework.AddFlags(fs)
}

// AddKlogFlags exposes the klog flags on fs.
func AddKlogFlags(fs *pflag.FlagSet) {
	local := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(local)
	fs.AddGoFlagSet(local)
}

func (o *Options) changed(name string) bool {
	return o.fs != nil && o.fs.Changed(name)
}

// Config loads the configuration file and applies the flags that were set.
func (o *Options) Config() (*config.SchedulerConfiguration, error) {
	cfg, err := config.LoadConfigFromFile(o.ConfigFile)
	if err != nil {
		return nil, err
	}
	if o.changed("report-dir") {
		cfg.ReportDir = o.ReportDir
	}
	if o.changed("report-ttl") {
		cfg.ReportTTL = &metav1.Duration{Duration: o.ReportTTL}
	}
	if o.changed("debug-address") {
		cfg.DebugAddress = o.DebugAddress
	}
	if o.changed("default-availability-zone") {
		cfg.DefaultAvailabilityZone = o.DefaultAvailabilityZone
	}
	if o.changed("pci-whitelist") {
		cfg.PCIWhitelist = o.PCIWhitelist
	}
	if o.changed("max-attempts") {
		cfg.MaxAttempts = ptr.To(o.MaxAttempts)
	}
	return cfg, nil
}
