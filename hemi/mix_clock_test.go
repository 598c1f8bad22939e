// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package hemi

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dateHeader(unixTime int64) string {
	return "date: " + time.Unix(unixTime, 0).UTC().Format(http.TimeFormat) + "\r\n"
}

func TestClockWriteHTTPDate(t *testing.T) {
	t.Parallel()
	for _, date := range []time.Time{
		time.Date(1994, time.November, 6, 8, 49, 37, 0, time.UTC),
		time.Date(2000, time.February, 29, 23, 59, 59, 0, time.UTC),
		time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
	} {
		var buf [clockHTTPDateSize]byte
		n := clockWriteHTTPDate(buf[:], date)
		assert.Equal(t, date.Format(http.TimeFormat), string(buf[:n]))
	}
}

func TestDateLine(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, time.March, 3, 10, 58, 30, 0, time.UTC).Unix()
	var line dateLine
	for _, unixTime := range []int64{
		start,
		start,          // same second
		start + 1,      // seconds patched
		start + 75,     // minute patched
		start + 3600,   // next hour, rendered again
		start + 86400,  // next day
		start + 86399,  // back in time
		start + 2*3600, // another hour
	} {
		assert.Equal(t, dateHeader(unixTime), string(line.bytes(unixTime)))
	}
}

func TestClockRun(t *testing.T) {
	t.Parallel()
	c := newClock()
	assert.InDelta(t, time.Now().Unix(), c.now(), 1)

	c.unixTime.Store(0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.run(ctx) }()
	require.Eventually(t, func() bool { return c.now() != 0 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
