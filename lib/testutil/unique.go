// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"
)

var uniqueCounter atomic.Uint64

// UniqueID returns a string of the form "prefix-N" where N is a
// monotonically increasing integer. Use this instead of time.Now()
// when tests need unique identifiers for correlation IDs, peer names,
// or payloads that must be distinguishable across concurrent sessions.
//
//	name := testutil.UniqueID("sensor")   // "sensor-1", "sensor-2", ...
//	body := testutil.UniqueID("payload")  // "payload-3", ...
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}
