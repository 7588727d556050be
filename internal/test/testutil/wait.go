// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package testutil holds fakes and synchronization helpers shared by the
// membership tests: an in-memory store, a recording gateway, and waits that
// poll instead of sleeping.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const pollInterval = 5 * time.Millisecond

// WaitForCondition fails the test unless condition holds within timeout
func WaitForCondition(
	t *testing.T,
	condition func() bool,
	timeout time.Duration,
	msg string,
) {
	t.Helper()
	require.Eventually(t, condition, timeout, pollInterval, msg)
}

// RequireReceive returns the next value from ch, failing the test after timeout
func RequireReceive[T any](
	t *testing.T,
	ch <-chan T,
	timeout time.Duration,
	msg string,
) T {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-ch:
		return v
	case <-timer.C:
		require.FailNow(t, "nothing received within "+timeout.String(), msg)
	}
	var zero T
	return zero
}

// RequireNoReceive fails the test if ch yields a value within wait
func RequireNoReceive[T any](
	t *testing.T,
	ch <-chan T,
	wait time.Duration,
	msg string,
) {
	t.Helper()
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case v := <-ch:
		require.FailNowf(t, "unexpected receive", "%v: %s", v, msg)
	case <-timer.C:
	}
}
