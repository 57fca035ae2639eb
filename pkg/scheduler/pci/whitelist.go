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

package pci

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
)

// Whitelist keys with a dedicated meaning. Every other key becomes a device tag.
const (
	KeyVendorID  = "vendor_id"
	KeyProductID = "product_id"
	KeyAddress   = "address"
	KeyDevName   = "devname"
	// KeyDevType and KeyNUMANode are pool attributes that requests may match on.
	KeyDevType  = "dev_type"
	KeyNUMANode = "numa_node"
)

// InvalidWhitelistError is the PciConfigInvalidWhitelist configuration error.
type InvalidWhitelistError struct {
	Entry  string
	Reason string
}

func (e *InvalidWhitelistError) Error() string {
	return fmt.Sprintf("invalid PCI devices whitelist entry %q: %s", e.Entry, e.Reason)
}

func IsInvalidWhitelist(err error) bool {
	var e *InvalidWhitelistError
	return errors.As(err, &e)
}

// Whitelist decides which host PCI devices may be passed through to instances.
type Whitelist struct {
	specs []*DeviceSpec
}

// ParseWhitelist parses one JSON value per entry. A value is either a single match object
// or a list of match objects; every object becomes one DeviceSpec.
func ParseWhitelist(entries []string) (*Whitelist, error) {
	w := &Whitelist{}
	for _, entry := range entries {
		specs, err := parseEntry(entry)
		if err != nil {
			return nil, err
		}
		w.specs = append(w.specs, specs...)
	}
	return w, nil
}

func parseEntry(entry string) ([]*DeviceSpec, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(entry)))
	dec.UseNumber()
	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return nil, &InvalidWhitelistError{Entry: entry, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if dec.More() {
		return nil, &InvalidWhitelistError{Entry: entry, Reason: "trailing data after JSON value"}
	}

	var objects []map[string]interface{}
	switch v := value.(type) {
	case map[string]interface{}:
		objects = append(objects, v)
	case []interface{}:
		for i, item := range v {
			obj, ok := item.(map[string]interface{})
			if !ok {
				return nil, &InvalidWhitelistError{Entry: entry, Reason: fmt.Sprintf("list item %d is not an object", i)}
			}
			objects = append(objects, obj)
		}
	default:
		return nil, &InvalidWhitelistError{Entry: entry, Reason: "value must be an object or a list of objects"}
	}

	specs := make([]*DeviceSpec, 0, len(objects))
	for _, obj := range objects {
		spec, err := newDeviceSpec(obj)
		if err != nil {
			return nil, &InvalidWhitelistError{Entry: entry, Reason: err.Error()}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Len returns the number of device specs in the whitelist.
func (w *Whitelist) Len() int {
	if w == nil {
		return 0
	}
	return len(w.specs)
}

// DeviceAssignable reports whether any spec of the whitelist matches dev.
func (w *Whitelist) DeviceAssignable(dev *v1alpha1.PCIDevice) bool {
	return w.MatchingSpec(dev) != nil
}

// MatchingSpec returns the first spec matching dev, or nil.
func (w *Whitelist) MatchingSpec(dev *v1alpha1.PCIDevice) *DeviceSpec {
	if w == nil {
		return nil
	}
	for _, s := range w.specs {
		if s.Match(dev) {
			return s
		}
	}
	return nil
}

// DeviceSpec is one whitelist rule. All given fields must match.
type DeviceSpec struct {
	vendorID  *hexMatcher
	productID *hexMatcher
	address   *addressMatcher
	devName   string
	// Tags are copied onto the pool of every matching device.
	Tags map[string]string
}

func newDeviceSpec(obj map[string]interface{}) (*DeviceSpec, error) {
	spec := &DeviceSpec{}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		raw := obj[key]
		switch key {
		case KeyVendorID, KeyProductID:
			s, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("%s must be a string", key)
			}
			m, err := parseHexMatcher(s, 4)
			if err != nil {
				return nil, fmt.Errorf("%s: %v", key, err)
			}
			if key == KeyVendorID {
				spec.vendorID = m
			} else {
				spec.productID = m
			}
		case KeyAddress:
			m, err := parseAddressMatcher(raw)
			if err != nil {
				return nil, fmt.Errorf("address: %v", err)
			}
			spec.address = m
		case KeyDevName:
			s, ok := raw.(string)
			if !ok || s == "" {
				return nil, fmt.Errorf("devname must be a non-empty string")
			}
			spec.devName = s
		default:
			v, err := tagValue(raw)
			if err != nil {
				return nil, fmt.Errorf("tag %s: %v", key, err)
			}
			if spec.Tags == nil {
				spec.Tags = map[string]string{}
			}
			spec.Tags[key] = v
		}
	}
	if spec.address != nil && spec.devName != "" {
		return nil, fmt.Errorf("address and devname are mutually exclusive")
	}
	return spec, nil
}

func tagValue(raw interface{}) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case json.Number:
		return v.String(), nil
	default:
		return "", fmt.Errorf("value must be a string, number or boolean")
	}
}

// Match reports whether dev satisfies every field of the spec. An address also matches
// the virtual functions whose parent physical function has that address.
func (s *DeviceSpec) Match(dev *v1alpha1.PCIDevice) bool {
	if s.vendorID != nil && !s.vendorID.match(dev.VendorID) {
		return false
	}
	if s.productID != nil && !s.productID.match(dev.ProductID) {
		return false
	}
	if s.devName != "" && s.devName != dev.DevName {
		return false
	}
	if s.address != nil {
		if s.address.match(dev.Address) {
			return true
		}
		return dev.ParentAddress != "" && s.address.match(dev.ParentAddress)
	}
	return true
}

// hexMatcher matches a hexadecimal value exactly, in an inclusive range, or anything.
type hexMatcher struct {
	any    bool
	lo, hi uint64
}

func parseHexMatcher(s string, maxDigits int) (*hexMatcher, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return &hexMatcher{any: true}, nil
	}
	if lo, hi, ok := strings.Cut(s, "-"); ok {
		l, err := parseHex(lo, maxDigits)
		if err != nil {
			return nil, err
		}
		h, err := parseHex(hi, maxDigits)
		if err != nil {
			return nil, err
		}
		if l > h {
			return nil, fmt.Errorf("range %q is reversed", s)
		}
		return &hexMatcher{lo: l, hi: h}, nil
	}
	v, err := parseHex(s, maxDigits)
	if err != nil {
		return nil, err
	}
	return &hexMatcher{lo: v, hi: v}, nil
}

func parseHex(s string, maxDigits int) (uint64, error) {
	s = normalizeHex(s)
	if s == "" || len(s) > maxDigits {
		return 0, fmt.Errorf("%q is not a hexadecimal value of at most %d digits", s, maxDigits)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a hexadecimal value", s)
	}
	return v, nil
}

func (m *hexMatcher) match(value string) bool {
	if m.any {
		return true
	}
	v, err := strconv.ParseUint(normalizeHex(value), 16, 64)
	if err != nil {
		return false
	}
	return v >= m.lo && v <= m.hi
}

// normalizeHex lower-cases s and strips a 0x prefix.
func normalizeHex(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimPrefix(s, "0x")
}

// addressMatcher matches a domain:bus:slot.function PCI address.
type addressMatcher struct {
	domain, bus, slot, function *hexMatcher
}

func parseAddressMatcher(raw interface{}) (*addressMatcher, error) {
	switch v := raw.(type) {
	case string:
		return parseAddressString(v)
	case map[string]interface{}:
		m := &addressMatcher{}
		for key, field := range v {
			s, ok := field.(string)
			if !ok {
				return nil, fmt.Errorf("%s must be a string", key)
			}
			var err error
			switch key {
			case "domain":
				m.domain, err = parseHexMatcher(s, 4)
			case "bus":
				m.bus, err = parseHexMatcher(s, 2)
			case "slot":
				m.slot, err = parseHexMatcher(s, 2)
			case "function":
				m.function, err = parseHexMatcher(s, 1)
			default:
				err = fmt.Errorf("unknown address field")
			}
			if err != nil {
				return nil, fmt.Errorf("%s: %v", key, err)
			}
		}
		m.fillWildcards()
		if m.function.hi > 7 {
			return nil, fmt.Errorf("function must be between 0 and 7")
		}
		return m, nil
	default:
		return nil, fmt.Errorf("must be a string or an object")
	}
}

// parseAddressString parses "[[[[<domain>]:]<bus>]:][<slot>][.[<function>]]"; missing or
// "*" components match anything.
func parseAddressString(s string) (*addressMatcher, error) {
	m := &addressMatcher{}
	rest := s
	if i := strings.LastIndex(rest, "."); i >= 0 {
		fn, err := parseHexMatcher(rest[i+1:], 1)
		if err != nil {
			return nil, fmt.Errorf("function: %v", err)
		}
		if fn.hi > 7 {
			return nil, fmt.Errorf("function must be between 0 and 7")
		}
		m.function = fn
		rest = rest[:i]
	}
	parts := strings.Split(rest, ":")
	if len(parts) > 3 {
		return nil, fmt.Errorf("%q has too many components", s)
	}
	targets := []**hexMatcher{&m.slot, &m.bus, &m.domain}
	digits := []int{2, 2, 4}
	for i := 0; i < len(parts); i++ {
		part := parts[len(parts)-1-i]
		hm, err := parseHexMatcher(part, digits[i])
		if err != nil {
			return nil, fmt.Errorf("%q: %v", s, err)
		}
		*targets[i] = hm
	}
	m.fillWildcards()
	return m, nil
}

func (m *addressMatcher) fillWildcards() {
	for _, f := range []**hexMatcher{&m.domain, &m.bus, &m.slot, &m.function} {
		if *f == nil {
			*f = &hexMatcher{any: true}
		}
	}
}

func (m *addressMatcher) match(address string) bool {
	domain, bus, slot, function, err := splitAddress(address)
	if err != nil {
		return false
	}
	return m.domain.match(domain) && m.bus.match(bus) && m.slot.match(slot) && m.function.match(function)
}

func splitAddress(address string) (domain, bus, slot, function string, err error) {
	dbs, fn, ok := strings.Cut(address, ".")
	if !ok {
		return "", "", "", "", fmt.Errorf("address %q has no function", address)
	}
	parts := strings.Split(dbs, ":")
	if len(parts) != 3 {
		return "", "", "", "", fmt.Errorf("address %q is not domain:bus:slot.function", address)
	}
	return parts[0], parts[1], parts[2], fn, nil
}
