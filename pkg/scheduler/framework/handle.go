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
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/apis/config"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/pci"
)

type frameworkHandle struct {
	cfg       *config.SchedulerConfiguration
	whitelist *pci.Whitelist
}

// NewHandle returns a Handle serving a parsed configuration.
func NewHandle(cfg *config.SchedulerConfiguration, whitelist *pci.Whitelist) Handle {
	return &frameworkHandle{cfg: cfg, whitelist: whitelist}
}

func (h *frameworkHandle) Config() *config.SchedulerConfiguration { return h.cfg }
func (h *frameworkHandle) PCIWhitelist() *pci.Whitelist           { return h.whitelist }
