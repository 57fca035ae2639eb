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

package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
	"github.com/koordinator-sh/fleet-scheduler/cmd/fleet-scheduler/app/options"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/core"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/plugins"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/reportsource"
)

const (
	outputTable = "table"
	outputYAML  = "yaml"
)

type selectOptions struct {
	requestFile string
	reportDir   string
	output      string
}

// NewSelectCommand places one request against the reports of a directory and prints
// the selections, without serving anything.
func NewSelectCommand(opts *options.Options) *cobra.Command {
	so := &selectOptions{output: outputTable}
	cmd := &cobra.Command{
		Use:   "select",
		Short: "Place one request against the host reports of a directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.Config()
			if err != nil {
				return err
			}
			if so.reportDir != "" {
				cfg.ReportDir = so.reportDir
			}
			// offline reports are often older than the TTL
			cfg.ReportTTL = nil
			sched, err := core.Setup(cfg, plugins.NewInTreeRegistry())
			if err != nil {
				return err
			}
			return runSelect(cmd.Context(), sched, cfg.ReportDir, so, cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVar(&so.requestFile, "request", so.requestFile, "file holding the select request (spec and filterProperties)")
	cmd.Flags().StringVar(&so.reportDir, "reports", so.reportDir, "directory of host capability reports, defaults to the configured report directory")
	cmd.Flags().StringVarP(&so.output, "output", "o", so.output, "output format, table or yaml")
	return cmd
}

func runSelect(ctx context.Context, sched *core.Scheduler, reportDir string, so *selectOptions, out io.Writer) error {
	if so.requestFile == "" {
		return fmt.Errorf("--request is required")
	}
	if reportDir == "" {
		return fmt.Errorf("no report directory given")
	}
	data, err := os.ReadFile(so.requestFile)
	if err != nil {
		return err
	}
	req := &core.SelectRequest{}
	if err := yaml.UnmarshalStrict(data, req); err != nil {
		return fmt.Errorf("failed to decode request %s: %w", so.requestFile, err)
	}

	source := reportsource.NewFileSource(reportDir, 0, sched.Hosts())
	if err := source.LoadAll(); err != nil {
		// a broken report only removes that host
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	selections, err := sched.SelectDestinations(ctx, &req.Spec, req.FilterProperties)
	if err != nil {
		return err
	}
	return printSelections(out, so.output, selections)
}

func printSelections(out io.Writer, format string, selections []v1alpha1.Selection) error {
	switch format {
	case outputYAML:
		data, err := yaml.Marshal(core.SelectResponse{Selections: selections})
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	case outputTable:
		w := prettytable.NewWriter()
		w.SetOutputMirror(out)
		w.AppendHeader(prettytable.Row{"#", "Host", "Node", "VCPUs Limit", "RAM Limit (MB)", "Disk Limit (GB)", "NUMA Cells", "Alternates"})
		for i, s := range selections {
			w.AppendRow(prettytable.Row{
				i, s.Host, s.Node,
				formatLimit(s.Limits.VCPUs), formatLimit(s.Limits.MemoryMB), formatLimit(s.Limits.DiskGB),
				formatCells(s.NUMATopology), formatAlternates(s.Alternates),
			})
		}
		w.Render()
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func formatLimit(v float64) string {
	if v == 0 {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatCells(t *v1alpha1.InstanceNUMATopology) string {
	if t == nil {
		return "-"
	}
	cells := make([]string, 0, len(t.Cells))
	for _, c := range t.Cells {
		if c.PinnedCPUs != "" {
			cells = append(cells, fmt.Sprintf("%d[%s]", c.ID, c.PinnedCPUs))
		} else {
			cells = append(cells, strconv.Itoa(c.ID))
		}
	}
	return strings.Join(cells, " ")
}

func formatAlternates(hosts []v1alpha1.HostNode) string {
	if len(hosts) == 0 {
		return "-"
	}
	names := make([]string, 0, len(hosts))
	for _, h := range hosts {
		names = append(names, h.Host)
	}
	return strings.Join(names, ",")
}
