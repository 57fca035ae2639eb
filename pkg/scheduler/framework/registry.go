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

	"k8s.io/apimachinery/pkg/util/sets"
)

// FilterFactory builds a filter.
type FilterFactory func(handle Handle) (FilterPlugin, error)

// WeigherFactory builds a weigher.
type WeigherFactory func(handle Handle) (WeigherPlugin, error)

// Registry maps the identifiers used in the configuration to plugin constructors.
type Registry struct {
	Filters  map[string]FilterFactory
	Weighers map[string]WeigherFactory
}

func NewRegistry() *Registry {
	return &Registry{
		Filters:  map[string]FilterFactory{},
		Weighers: map[string]WeigherFactory{},
	}
}

func (r *Registry) RegisterFilter(name string, factory FilterFactory) error {
	if _, ok := r.Filters[name]; ok {
		return fmt.Errorf("a filter named %v already exists", name)
	}
	r.Filters[name] = factory
	return nil
}

func (r *Registry) RegisterWeigher(name string, factory WeigherFactory) error {
	if _, ok := r.Weighers[name]; ok {
		return fmt.Errorf("a weigher named %v already exists", name)
	}
	r.Weighers[name] = factory
	return nil
}

// Merge adds the plugins of in. Name clashes are errors.
func (r *Registry) Merge(in *Registry) error {
	for name, factory := range in.Filters {
		if err := r.RegisterFilter(name, factory); err != nil {
			return err
		}
	}
	for name, factory := range in.Weighers {
		if err := r.RegisterWeigher(name, factory); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) FilterNames() sets.Set[string] {
	return sets.KeySet(r.Filters)
}

func (r *Registry) WeigherNames() sets.Set[string] {
	return sets.KeySet(r.Weighers)
}
