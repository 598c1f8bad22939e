// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// Cronjobs are background tasks that are scheduled to run periodically.

package hemi

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Cronjob is a background task of a server.
type Cronjob interface {
	Schedule(ctx context.Context) error // runner
}

// Cronjob_ is a parent.
type Cronjob_ struct { // for all cronjobs
	// Assocs
	server *Server
	// States
	interval time.Duration
}

func (j *Cronjob_) onCreate(server *Server, interval time.Duration) {
	j.server = server
	j.interval = interval
}

func (j *Cronjob_) Server() *Server { return j.server }

// LoopRun calls doWork every interval until ctx is done.
func (j *Cronjob_) LoopRun(ctx context.Context, doWork func(now time.Time)) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			doWork(now)
		}
	}
}

// statCronjob reports statistics about current server.
type statCronjob struct {
	// Parent
	Cronjob_
	// States
	last Stats // the previous report
}

func newStatCronjob(server *Server, interval time.Duration) *statCronjob {
	j := new(statCronjob)
	j.onCreate(server, interval)
	return j
}

func (j *statCronjob) Schedule(ctx context.Context) error { // runner
	j.LoopRun(ctx, func(now time.Time) {
		j.report()
	})
	j.server.logger.Debug("statCronjob done")
	return nil
}
func (j *statCronjob) report() {
	server := j.Server()
	stats := server.Stats()
	server.Logger().WithFields(logrus.Fields{
		"connections":   stats.TotalConns,
		"active":        stats.CurConns,
		"requests":      stats.TotalRequests,
		"requestsDelta": stats.TotalRequests - j.last.TotalRequests,
		"badRequests":   stats.BadRequests,
		"inputGrowths":  stats.InputGrowths,
	}).Info("stat")
	j.last = stats
}
