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
	"context"
	"errors"
	"strings"

	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/apis/config"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/hoststate"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/pci"
)

// Code is the outcome of running a filter on one host.
type Code int

const (
	// Success means the host passes the filter.
	Success Code = iota
	// Unschedulable means the host cannot take the instance.
	Unschedulable
	// MissingData means the host lacks the data the filter needs. The filter's
	// MissingDataPolicy decides whether the host is excluded or passed through.
	MissingData
	// Error is an internal failure and aborts the scheduling pass.
	Error
)

var codes = []string{"Success", "Unschedulable", "MissingData", "Error"}

func (c Code) String() string {
	if int(c) < len(codes) {
		return codes[c]
	}
	return ""
}

// Status is the result of a filter. A nil Status is Success.
type Status struct {
	code    Code
	reasons []string
	err     error
	plugin  string
}

func NewStatus(code Code, reasons ...string) *Status {
	s := &Status{code: code, reasons: reasons}
	if code == Error {
		s.err = errors.New(s.Message())
	}
	return s
}

// AsStatus wraps an error as an Error status.
func AsStatus(err error) *Status {
	if err == nil {
		return nil
	}
	return &Status{code: Error, reasons: []string{err.Error()}, err: err}
}

func (s *Status) Code() Code {
	if s == nil {
		return Success
	}
	return s.code
}

func (s *Status) IsSuccess() bool {
	return s.Code() == Success
}

func (s *Status) Reasons() []string {
	if s == nil {
		return nil
	}
	return s.reasons
}

func (s *Status) Message() string {
	if s == nil {
		return ""
	}
	return strings.Join(s.reasons, ", ")
}

// AsError returns nil unless the status is Error.
func (s *Status) AsError() error {
	if s.Code() != Error {
		return nil
	}
	return s.err
}

// Plugin returns the name of the filter that produced the status.
func (s *Status) Plugin() string {
	if s == nil {
		return ""
	}
	return s.plugin
}

// WithPlugin records the producing filter.
func (s *Status) WithPlugin(name string) *Status {
	if s != nil {
		s.plugin = name
	}
	return s
}

// MissingDataPolicy tells the filter runner how to treat a MissingData status.
type MissingDataPolicy int

const (
	// ExcludeOnMissingData drops hosts lacking the data.
	ExcludeOnMissingData MissingDataPolicy = iota
	// NeutralOnMissingData lets hosts lacking the data pass.
	NeutralOnMissingData
)

func (p MissingDataPolicy) String() string {
	if p == NeutralOnMissingData {
		return "Neutral"
	}
	return "Exclude"
}

// Plugin is the parent type of filters and weighers.
type Plugin interface {
	Name() string
}

// FilterPlugin decides whether an instance of the request may land on a host.
// Filters may record Limits on the host and must not change anything else.
type FilterPlugin interface {
	Plugin
	MissingDataPolicy() MissingDataPolicy
	Filter(ctx context.Context, state *CycleState, spec *v1alpha1.RequestSpec, host *hoststate.HostState) *Status
}

// WeigherPlugin returns a raw score of a host. Scores are normalized across the
// candidates before the multiplier is applied, so only their relative order matters.
type WeigherPlugin interface {
	Plugin
	Weigh(ctx context.Context, state *CycleState, spec *v1alpha1.RequestSpec, host *hoststate.HostState) float64
}

// Handle gives plugins access to the scheduler wide settings.
type Handle interface {
	Config() *config.SchedulerConfiguration
	PCIWhitelist() *pci.Whitelist
}
