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

package extension

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
)

// SplitMetadataValues splits a comma separated metadata value into trimmed, non-empty tokens.
func SplitMetadataValues(value string) []string {
	if value == "" {
		return nil
	}
	var values []string
	for _, v := range strings.Split(value, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			values = append(values, v)
		}
	}
	return values
}

// MergeMetadata combines the metadata of several aggregates. When the same key is set by
// more than one aggregate, the distinct values are joined in sorted order with commas.
func MergeMetadata(metadatas ...map[string]string) map[string]string {
	merged := map[string]sets.Set[string]{}
	for _, md := range metadatas {
		for k, v := range md {
			if merged[k] == nil {
				merged[k] = sets.New[string]()
			}
			merged[k].Insert(SplitMetadataValues(v)...)
		}
	}
	if len(merged) == 0 {
		return nil
	}
	result := make(map[string]string, len(merged))
	for k, values := range merged {
		result[k] = strings.Join(sets.List(values), ",")
	}
	return result
}

// MetadataContains reports whether the comma separated value stored at key contains token.
func MetadataContains(metadata map[string]string, key, token string) bool {
	for _, v := range SplitMetadataValues(metadata[key]) {
		if v == token {
			return true
		}
	}
	return false
}

// GetMetadataInt returns the minimum integer among the values stored at key.
// found is false when the key is absent. An error is returned when any value is not an integer.
func GetMetadataInt(metadata map[string]string, key string) (value int, found bool, err error) {
	raw, ok := metadata[key]
	if !ok {
		return 0, false, nil
	}
	values := SplitMetadataValues(raw)
	if len(values) == 0 {
		return 0, true, fmt.Errorf("empty value for aggregate key %q", key)
	}
	ints := make([]int, 0, len(values))
	for _, v := range values {
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, true, fmt.Errorf("invalid value %q for aggregate key %q: %w", v, key, err)
		}
		ints = append(ints, i)
	}
	sort.Ints(ints)
	return ints[0], true, nil
}

// GetMetadataFloat returns the minimum float among the values stored at key.
// NaN and infinite values are rejected.
func GetMetadataFloat(metadata map[string]string, key string) (value float64, found bool, err error) {
	raw, ok := metadata[key]
	if !ok {
		return 0, false, nil
	}
	values := SplitMetadataValues(raw)
	if len(values) == 0 {
		return 0, true, fmt.Errorf("empty value for aggregate key %q", key)
	}
	floats := make([]float64, 0, len(values))
	for _, v := range values {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, true, fmt.Errorf("invalid value %q for aggregate key %q: %w", v, key, err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, true, fmt.Errorf("invalid value %q for aggregate key %q: not a finite number", v, key)
		}
		floats = append(floats, f)
	}
	sort.Float64s(floats)
	return floats[0], true, nil
}

// WeightMultiplierKey returns the aggregate metadata key overriding the multiplier of a weigher.
func WeightMultiplierKey(weigherName string) string {
	name := strings.TrimSuffix(weigherName, "Weigher")
	return strings.ToLower(name) + weightMultiplierSuffix
}
