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

package validation

import (
	"net"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/validation/field"

	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/apis/config"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/pci"
)

// ValidateSchedulerConfiguration validates a defaulted configuration against the names of
// the registered filters and weighers.
func ValidateSchedulerConfiguration(cfg *config.SchedulerConfiguration, filters, weighers sets.Set[string]) error {
	var allErrs field.ErrorList

	allErrs = append(allErrs, validatePluginNames(field.NewPath("enabledFilters"), cfg.EnabledFilters, filters)...)

	weigherNames := make([]string, 0, len(cfg.EnabledWeighers))
	for _, w := range cfg.EnabledWeighers {
		weigherNames = append(weigherNames, w.Name)
	}
	allErrs = append(allErrs, validatePluginNames(field.NewPath("enabledWeighers"), weigherNames, weighers)...)

	if cfg.MaxInstancesPerHost == nil {
		allErrs = append(allErrs, field.Required(field.NewPath("maxInstancesPerHost"), ""))
	} else if *cfg.MaxInstancesPerHost < 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("maxInstancesPerHost"), *cfg.MaxInstancesPerHost, "should not be negative"))
	}
	if cfg.MaxIOOpsPerHost == nil {
		allErrs = append(allErrs, field.Required(field.NewPath("maxIOOpsPerHost"), ""))
	} else if *cfg.MaxIOOpsPerHost < 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("maxIOOpsPerHost"), *cfg.MaxIOOpsPerHost, "should not be negative"))
	}
	for name, ratio := range map[string]float64{
		"cpuAllocationRatio":  cfg.CPUAllocationRatio,
		"ramAllocationRatio":  cfg.RAMAllocationRatio,
		"diskAllocationRatio": cfg.DiskAllocationRatio,
	} {
		if ratio <= 0 {
			allErrs = append(allErrs, field.Invalid(field.NewPath(name), ratio, "should be a positive value"))
		}
	}
	if cfg.ReservedHostMemoryMB != nil && *cfg.ReservedHostMemoryMB < 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("reservedHostMemoryMB"), *cfg.ReservedHostMemoryMB, "should not be negative"))
	}
	if cfg.ReservedHostDiskMB != nil && *cfg.ReservedHostDiskMB < 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("reservedHostDiskMB"), *cfg.ReservedHostDiskMB, "should not be negative"))
	}
	if cfg.MaxAttempts == nil {
		allErrs = append(allErrs, field.Required(field.NewPath("maxAttempts"), ""))
	} else if *cfg.MaxAttempts <= 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("maxAttempts"), *cfg.MaxAttempts, "should be a positive value"))
	}
	if cfg.NumAlternates < 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("numAlternates"), cfg.NumAlternates, "should not be negative"))
	}
	if cfg.ReportTTL != nil && cfg.ReportTTL.Duration < 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("reportTTL"), cfg.ReportTTL.Duration.String(), "should not be negative"))
	}
	if cfg.ReportDir != "" && (cfg.ReportResyncPeriod == nil || cfg.ReportResyncPeriod.Duration <= 0) {
		allErrs = append(allErrs, field.Required(field.NewPath("reportResyncPeriod"), "a positive resync period is required with reportDir"))
	}
	if cfg.DebugAddress != "" {
		if _, _, err := net.SplitHostPort(cfg.DebugAddress); err != nil {
			allErrs = append(allErrs, field.Invalid(field.NewPath("debugAddress"), cfg.DebugAddress, err.Error()))
		}
	}

	if _, err := pci.ParseWhitelist(cfg.PCIWhitelist); err != nil {
		allErrs = append(allErrs, field.Invalid(field.NewPath("pciWhitelist"), cfg.PCIWhitelist, err.Error()))
	}

	if len(allErrs) == 0 {
		return nil
	}
	return allErrs.ToAggregate()
}

func validatePluginNames(path *field.Path, names []string, known sets.Set[string]) field.ErrorList {
	var allErrs field.ErrorList
	seen := sets.New[string]()
	for i, name := range names {
		if !known.Has(name) {
			allErrs = append(allErrs, field.NotSupported(path.Index(i), name, sets.List(known)))
			continue
		}
		if seen.Has(name) {
			allErrs = append(allErrs, field.Duplicate(path.Index(i), name))
		}
		seen.Insert(name)
	}
	return allErrs
}
