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
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
)

func main() {
	klog.InitFlags(nil)
	defer klog.Flush()

	c := cli.NewApp()
	c.Name = "fleet-host-reporter"
	c.Usage = "discover the capabilities of this compute host and report them to the fleet scheduler"
	c.Before = func(ctx *cli.Context) error {
		v := ctx.String("v")
		if err := flag.Set("v", v); err != nil {
			return fmt.Errorf("failed to set klog verbosity level: %w", err)
		}
		klog.V(2).InfoS("klog verbosity level set", "level", v)
		return nil
	}
	c.Action = func(ctx *cli.Context) error {
		r, err := newReporter(ctx)
		if err != nil {
			return err
		}
		return r.run(ctx.Bool("oneshot"), signals())
	}
	c.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "v",
			Value: "1",
			Usage: "klog verbosity level (e.g. 2 for Info, 5 for Debug)",
		},
		&cli.StringFlag{
			Name:    "host",
			Usage:   "host name reported to the scheduler, defaults to the hostname",
			EnvVars: []string{"FHR_HOST"},
		},
		&cli.StringFlag{
			Name:    "node",
			Usage:   "hypervisor node name, defaults to the host name",
			EnvVars: []string{"FHR_NODE"},
		},
		&cli.StringFlag{
			Name:    "root",
			Value:   "/",
			Usage:   "root of the host filesystem",
			EnvVars: []string{"FHR_ROOT", "GHW_CHROOT"},
		},
		&cli.Int64Flag{
			Name:    "local-gb",
			Usage:   "local instance disk capacity in GB",
			EnvVars: []string{"FHR_LOCAL_GB"},
		},
		&cli.StringFlag{
			Name:    "aggregates-file",
			Usage:   "YAML list of the aggregates this host belongs to",
			EnvVars: []string{"FHR_AGGREGATES_FILE"},
		},
		&cli.StringFlag{
			Name:    "usage-file",
			Usage:   "YAML usage of the running instances, written by the hypervisor driver",
			EnvVars: []string{"FHR_USAGE_FILE"},
		},
		&cli.StringFlag{
			Name:    "output",
			Value:   "/var/lib/fleet-scheduler/reports",
			Usage:   "directory the report is written to, watched by the scheduler",
			EnvVars: []string{"FHR_OUTPUT"},
		},
		&cli.DurationFlag{
			Name:    "interval",
			Value:   60 * time.Second,
			Usage:   "time between two reports",
			EnvVars: []string{"FHR_INTERVAL"},
		},
		&cli.BoolFlag{
			Name:    "oneshot",
			Usage:   "report once and exit",
			EnvVars: []string{"FHR_ONESHOT"},
		},
	}

	if err := c.Run(os.Args); err != nil {
		klog.Error(err)
		os.Exit(1)
	}
}
