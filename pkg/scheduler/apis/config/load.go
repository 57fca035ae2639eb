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

package config

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// LoadConfigFromFile reads a YAML or JSON configuration file and applies the defaults.
// An empty path returns the default configuration.
func LoadConfigFromFile(path string) (*SchedulerConfiguration, error) {
	if path == "" {
		return NewDefaultSchedulerConfiguration(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scheduler configuration %s: %w", path, err)
	}
	cfg, err := LoadConfig(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load scheduler configuration %s: %w", path, err)
	}
	return cfg, nil
}

// LoadConfig decodes a configuration strictly and applies the defaults.
func LoadConfig(data []byte) (*SchedulerConfiguration, error) {
	cfg := &SchedulerConfiguration{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, err
	}
	SetDefaults_SchedulerConfiguration(cfg)
	return cfg, nil
}
