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
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

func nowStamp() string {
	return time.Now().Format(time.StampMilli)
}

// Logf writes a timestamped line to the ginkgo output.
func Logf(format string, args ...interface{}) {
	fmt.Fprintf(ginkgo.GinkgoWriter, nowStamp()+": INFO: "+format+"\n", args...)
}

// Failf logs and fails the current spec.
func Failf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	Logf("%s", msg)
	ginkgo.Fail(nowStamp()+": "+msg, 1)
}

// ExpectNoError checks that err is nil, with an optional explanation.
func ExpectNoError(err error, explain ...interface{}) {
	gomega.ExpectWithOffset(1, err).NotTo(gomega.HaveOccurred(), explain...)
}

// ExpectEqual checks that actual equals extra.
func ExpectEqual(actual interface{}, extra interface{}, explain ...interface{}) {
	gomega.ExpectWithOffset(1, actual).To(gomega.Equal(extra), explain...)
}

// SIGDescribe annotates the test with the scheduling group label.
func SIGDescribe(text string, body func()) bool {
	return ginkgo.Describe("[sig-scheduling] "+text, body)
}
