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
	"strconv"

	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/hoststate"
)

var (
	debugTopNScores    = 0
	debugFilterFailure = false
)

func AddFlags(fs *pflag.FlagSet) {
	fs.IntVarP(&debugTopNScores, "debug-scores", "s", debugTopNScores, "logging topN hosts weights and the score of each weigher after weighing, disable if set to 0")
	fs.BoolVarP(&debugFilterFailure, "debug-filters", "f", debugFilterFailure, "logging filter failures")
}

// DebugScoresSetter updates debugTopNScores to specified value
func DebugScoresSetter(val string) (string, error) {
	topN, err := strconv.Atoi(val)
	if err != nil {
		return "", fmt.Errorf("failed set debugTopNScores %s: %v", val, err)
	}
	debugTopNScores = topN
	return fmt.Sprintf("successfully set debugTopNScores to %s", val), nil
}

// DebugFiltersSetter updates debugFilterFailure to specified value
func DebugFiltersSetter(val string) (string, error) {
	filterFailure, err := strconv.ParseBool(val)
	if err != nil {
		return "", fmt.Errorf("failed set debugFilterFailure %s: %v", val, err)
	}
	debugFilterFailure = filterFailure
	return fmt.Sprintf("successfully set debugFilterFailure to %s", val), nil
}

func logFilterFailure(state *CycleState, host *hoststate.HostState, status *Status) {
	if debugFilterFailure {
		klog.InfoS("Failed to pass filter", "requestID", state.RequestID, "host", host.Key(),
			"filter", status.Plugin(), "code", status.Code(), "reason", status.Message())
		return
	}
	klog.V(4).InfoS("Host filtered out", "requestID", state.RequestID, "host", host.Key(),
		"filter", status.Plugin(), "code", status.Code(), "reason", status.Message())
}

// ScoresTable renders the topN weighed hosts with the contribution of every weigher.
func ScoresTable(topN int, weighed []WeighedHost) prettytable.Writer {
	if len(weighed) == 0 {
		return nil
	}
	w := prettytable.NewWriter()
	headerRow := prettytable.Row{"#", "Host", "Node", "Weight"}
	for _, s := range weighed[0].Scores {
		headerRow = append(headerRow, s.Name)
	}
	w.AppendHeader(headerRow)
	for i, wh := range weighed {
		if i >= topN {
			break
		}
		row := prettytable.Row{strconv.Itoa(i), wh.Host.Host, wh.Host.Node, strconv.FormatFloat(wh.Weight, 'f', 4, 64)}
		for _, s := range wh.Scores {
			row = append(row, fmt.Sprintf("%.4f (%g x %g)", s.Normalized*s.Multiplier, s.Raw, s.Multiplier))
		}
		w.AppendRow(row)
	}
	return w
}

func debugScores(topN int, requestID string, weighed []WeighedHost) prettytable.Writer {
	w := ScoresTable(topN, weighed)
	if w == nil {
		return nil
	}
	klog.Infof("Top%d weights for request %s, candidates: %d\n%v", topN, requestID, len(weighed), w.RenderMarkdown())
	return w
}
