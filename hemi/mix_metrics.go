// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// Engine metrics. Counters are exported through OpenTelemetry and mirrored in atomics for the stat job.

package hemi

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/mdaniel/svn-caucho-com-resin-sub019/hemi"

var ( // attributes
	attrBodyIn  = attribute.String("direction", "in")
	attrBodyOut = attribute.String("direction", "out")
)

// engineMetrics
type engineMetrics struct {
	// Assocs
	connections    metric.Int64Counter
	activeConns    metric.Int64UpDownCounter
	requests       metric.Int64Counter
	badRequests    metric.Int64Counter
	inputGrowths   metric.Int64Counter
	keepAliveReuse metric.Int64Counter
	chunkedBodies  metric.Int64Counter
	// States
	totalConns    atomic.Int64
	curConns      atomic.Int64
	totalRequests atomic.Int64
	totalBad      atomic.Int64
	totalGrowths  atomic.Int64
}

func newEngineMetrics(meter metric.Meter) (*engineMetrics, error) {
	m := new(engineMetrics)
	var err error
	if m.connections, err = meter.Int64Counter("hemi.server.connections",
		metric.WithDescription("Number of accepted connections"),
		metric.WithUnit("{connection}")); err != nil {
		return nil, fmt.Errorf("failed to create connections counter: %w", err)
	}
	if m.activeConns, err = meter.Int64UpDownCounter("hemi.server.active_connections",
		metric.WithDescription("Number of connections being served"),
		metric.WithUnit("{connection}")); err != nil {
		return nil, fmt.Errorf("failed to create active connections counter: %w", err)
	}
	if m.requests, err = meter.Int64Counter("hemi.server.requests",
		metric.WithDescription("Number of responses sent, by status"),
		metric.WithUnit("{request}")); err != nil {
		return nil, fmt.Errorf("failed to create requests counter: %w", err)
	}
	if m.badRequests, err = meter.Int64Counter("hemi.server.bad_requests",
		metric.WithDescription("Number of requests rejected while parsing"),
		metric.WithUnit("{request}")); err != nil {
		return nil, fmt.Errorf("failed to create bad requests counter: %w", err)
	}
	if m.inputGrowths, err = meter.Int64Counter("hemi.server.input_growths",
		metric.WithDescription("Number of times a connection adopted a larger input buffer"),
		metric.WithUnit("{growth}")); err != nil {
		return nil, fmt.Errorf("failed to create input growths counter: %w", err)
	}
	if m.keepAliveReuse, err = meter.Int64Counter("hemi.server.keepalive_reuses",
		metric.WithDescription("Number of requests served on an already used connection"),
		metric.WithUnit("{request}")); err != nil {
		return nil, fmt.Errorf("failed to create keep-alive counter: %w", err)
	}
	if m.chunkedBodies, err = meter.Int64Counter("hemi.server.chunked_bodies",
		metric.WithDescription("Number of chunked bodies, by direction"),
		metric.WithUnit("{body}")); err != nil {
		return nil, fmt.Errorf("failed to create chunked bodies counter: %w", err)
	}
	return m, nil
}

func (m *engineMetrics) connOpened(ctx context.Context) {
	m.totalConns.Add(1)
	m.curConns.Add(1)
	m.connections.Add(ctx, 1)
	m.activeConns.Add(ctx, 1)
}
func (m *engineMetrics) connClosed(ctx context.Context) {
	m.curConns.Add(-1)
	m.activeConns.Add(ctx, -1)
}
func (m *engineMetrics) requestDone(ctx context.Context, status int16, reused bool) {
	m.totalRequests.Add(1)
	m.requests.Add(ctx, 1, metric.WithAttributes(attribute.Int("status", int(status))))
	if reused {
		m.keepAliveReuse.Add(ctx, 1)
	}
}
func (m *engineMetrics) requestRejected(ctx context.Context, status int16) {
	m.totalBad.Add(1)
	m.badRequests.Add(ctx, 1, metric.WithAttributes(attribute.Int("status", int(status))))
}
func (m *engineMetrics) inputGrown(ctx context.Context, n int32) {
	if n > 0 {
		m.totalGrowths.Add(int64(n))
		m.inputGrowths.Add(ctx, int64(n))
	}
}
func (m *engineMetrics) chunkedIn(ctx context.Context) {
	m.chunkedBodies.Add(ctx, 1, metric.WithAttributes(attrBodyIn))
}
func (m *engineMetrics) chunkedOut(ctx context.Context) {
	m.chunkedBodies.Add(ctx, 1, metric.WithAttributes(attrBodyOut))
}

// Stats is a snapshot of the engine totals.
type Stats struct {
	TotalConns    int64
	CurConns      int64
	TotalRequests int64
	BadRequests   int64
	InputGrowths  int64
}

func (m *engineMetrics) snapshot() Stats {
	return Stats{
		TotalConns:    m.totalConns.Load(),
		CurConns:      m.curConns.Load(),
		TotalRequests: m.totalRequests.Load(),
		BadRequests:   m.totalBad.Load(),
		InputGrowths:  m.totalGrowths.Load(),
	}
}
