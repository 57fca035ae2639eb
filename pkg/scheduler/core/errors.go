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

package core

import (
	"errors"
	"fmt"
)

// NoValidHostError is returned when a request cannot be placed. It carries no per-host
// detail; the reasons of individual hosts are logged and exported as metrics only.
type NoValidHostError struct {
	Reason string
}

func (e *NoValidHostError) Error() string {
	return fmt.Sprintf("No valid host was found. %s", e.Reason)
}

func IsNoValidHost(err error) bool {
	var e *NoValidHostError
	return errors.As(err, &e)
}

func noValidHost(format string, args ...interface{}) error {
	return &NoValidHostError{Reason: fmt.Sprintf(format, args...)}
}
