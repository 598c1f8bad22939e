// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// Clock and HTTP date rendering.

package hemi

import (
	"context"
	"sync/atomic"
	"time"
)

// clock keeps the current unix second so connections don't call time.Now() per response.
type clock struct {
	resolution time.Duration
	unixTime   atomic.Int64
}

func newClock() *clock {
	c := new(clock)
	c.resolution = 100 * time.Millisecond
	c.unixTime.Store(time.Now().Unix())
	return c
}

func (c *clock) run(ctx context.Context) error { // runner
	ticker := time.NewTicker(c.resolution)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			c.unixTime.Store(now.Unix())
		}
	}
}

func (c *clock) now() int64 { return c.unixTime.Load() }

const (
	clockHTTPDateSize = len("Sun, 06 Nov 1994 08:49:37 GMT")
	clockDayString    = "SunMonTueWedThuFriSat"
	clockMonthString  = "JanFebMarAprMayJunJulAugSepOctNovDec"
)

// dateLine is a connection-owned "date: ...\r\n" header line. It is rendered in full
// when the hour changes, and only its minute and second digits are patched otherwise.
type dateLine struct {
	line     [6 + clockHTTPDateSize + 2]byte
	unixTime int64 // the second line was rendered for. 0 means never
}

const ( // offsets of digits in dateLine.line
	dateLineMinute = 6 + 20
	dateLineSecond = 6 + 23
)

func (d *dateLine) bytes(unixTime int64) []byte {
	if unixTime == d.unixTime {
		return d.line[:]
	}
	if d.unixTime != 0 && unixTime/3600 == d.unixTime/3600 { // same hour
		minute, second := unixTime/60%60, unixTime%60
		d.line[dateLineMinute] = byte(minute/10) + '0'
		d.line[dateLineMinute+1] = byte(minute%10) + '0'
		d.line[dateLineSecond] = byte(second/10) + '0'
		d.line[dateLineSecond+1] = byte(second%10) + '0'
	} else {
		n := copy(d.line[:], "date: ")
		n += clockWriteHTTPDate(d.line[n:], time.Unix(unixTime, 0).UTC())
		d.line[n] = '\r'
		d.line[n+1] = '\n'
	}
	d.unixTime = unixTime
	return d.line[:]
}

func clockWriteHTTPDate(dst []byte, date time.Time) int {
	if len(dst) < clockHTTPDateSize {
		BugExitln("invalid buffer for clockWriteHTTPDate")
	}
	s := clockDayString[3*date.Weekday():]
	dst[0] = s[0] // 'S'
	dst[1] = s[1] // 'u'
	dst[2] = s[2] // 'n'
	dst[3] = ','
	dst[4] = ' '
	year, month, day := date.Date() // month: 1-12
	dst[5] = byte(day/10) + '0'     // '0'
	dst[6] = byte(day%10) + '0'     // '6'
	dst[7] = ' '
	s = clockMonthString[3*(month-1):]
	dst[8] = s[0]  // 'N'
	dst[9] = s[1]  // 'o'
	dst[10] = s[2] // 'v'
	dst[11] = ' '
	dst[12] = byte(year/1000) + '0'   // '1'
	dst[13] = byte(year/100%10) + '0' // '9'
	dst[14] = byte(year/10%10) + '0'  // '9'
	dst[15] = byte(year%10) + '0'     // '4'
	dst[16] = ' '
	hour, minute, second := date.Clock()
	dst[17] = byte(hour/10) + '0' // '0'
	dst[18] = byte(hour%10) + '0' // '8'
	dst[19] = ':'
	dst[20] = byte(minute/10) + '0' // '4'
	dst[21] = byte(minute%10) + '0' // '9'
	dst[22] = ':'
	dst[23] = byte(second/10) + '0' // '3'
	dst[24] = byte(second%10) + '0' // '7'
	dst[25] = ' '
	dst[26] = 'G'
	dst[27] = 'M'
	dst[28] = 'T'
	return clockHTTPDateSize
}
