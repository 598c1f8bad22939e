// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// TCPX (TCP/UDS) server that speaks HTTP/1.x.

package hemi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Option configures a Server.
type Option func(s *Server)

// WithLogger sets the logger of the server. Logs are discarded by default.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMeterProvider sets where engine metrics go. The global provider is used by default.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(s *Server) { s.meterProvider = provider }
}

// Server accepts connections and serves HTTP/1.x requests on them.
type Server struct {
	// Mixins
	_holder_
	// Assocs
	handler       Handler
	logger        logrus.FieldLogger
	meterProvider metric.MeterProvider
	metrics       *engineMetrics
	clock         *clock
	statJob       *statCronjob
	// States
	ctx                context.Context // for metrics
	config             Config          // the effective config
	maxInputSize       int32           // _4K, _16K, or _64K1
	maxHeaderFields    int32
	maxRequestsPerConn int32 // 0 means unlimited
	maxDrainSize       int64
	maxConns           int // 0 means unlimited
	acceptLimiter      *rate.Limiter
	defaultCharset     string
	fixedHeaders       []byte // server: xxx\r\n\r\n
	shutdownTimeout    time.Duration
	lastConnID         atomic.Int64
	shut               atomic.Bool
	cancelLock         sync.Mutex
	cancel             context.CancelFunc // cancels Serve
	connsLock          sync.Mutex
	conns              map[*server1Conn]struct{}
	connsWait          sync.WaitGroup
}

// NewServer creates a server. If handler is nil, the handler registered under cfg.Handler is used.
func NewServer(cfg Config, handler Handler, opts ...Option) (*Server, error) {
	cfg = NewConfig().Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		ctx:     context.Background(),
		config:  cfg,
		handler: handler,
		clock:   newClock(),
		conns:   make(map[*server1Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = discardLogger()
	}
	if s.meterProvider == nil {
		s.meterProvider = otel.GetMeterProvider()
	}
	metrics, err := newEngineMetrics(s.meterProvider.Meter(meterName))
	if err != nil {
		return nil, err
	}
	s.metrics = metrics
	if s.handler == nil {
		if s.handler, err = CreateHandler(cfg.Handler.String, &cfg); err != nil {
			return nil, err
		}
	}

	s._holder_.onConfigure(&cfg)
	s.maxInputSize = int32(cfg.MaxInputSize.Int64)
	s.maxHeaderFields = int32(cfg.MaxHeaderFields.Int64)
	s.maxRequestsPerConn = int32(cfg.MaxRequestsPerConn.Int64)
	s.maxDrainSize = cfg.MaxDrainSize.Int64
	s.maxConns = int(cfg.MaxConns.Int64)
	if acceptRate := cfg.AcceptRate.Float64; acceptRate > 0 {
		s.acceptLimiter = rate.NewLimiter(rate.Limit(acceptRate), int(cfg.AcceptBurst.Int64))
	}
	s.defaultCharset = cfg.DefaultCharset.String
	s.fixedHeaders = []byte("server: " + cfg.ServerName.String + "\r\n\r\n")
	s.shutdownTimeout = cfg.ShutdownTimeout.TimeDuration()
	if interval := cfg.StatInterval.TimeDuration(); interval > 0 {
		s.statJob = newStatCronjob(s, interval)
	}
	return s, nil
}

func (s *Server) Logger() logrus.FieldLogger { return s.logger }
func (s *Server) Config() Config             { return s.config }
func (s *Server) Stats() Stats               { return s.metrics.snapshot() }
func (s *Server) IsShut() bool               { return s.shut.Load() }

// ListenAndServe listens on the configured address and serves until ctx is done or Shutdown is called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.Address())
	if err != nil {
		return fmt.Errorf("cannot listen on %s: %w", s.Address(), err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections from listener until ctx is done or Shutdown is called.
// Connections being served are waited for at most shutdownTimeout.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancelLock.Lock()
	s.cancel = cancel
	s.cancelLock.Unlock()
	defer cancel()

	if s.maxConns > 0 {
		listener = netutil.LimitListener(listener, s.maxConns)
	}
	s.logger.WithField("address", listener.Addr().String()).Info("server started")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return s.clock.run(groupCtx) })
	if s.statJob != nil {
		group.Go(func() error { return s.statJob.Schedule(groupCtx) })
	}
	group.Go(func() error { // shutdown watcher
		<-groupCtx.Done()
		s.shut.Store(true)
		return listener.Close()
	})
	group.Go(func() error { return s.accept(groupCtx, listener) })
	err := group.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	s.waitConns()
	s.logger.WithFields(logrus.Fields{"connections": s.metrics.totalConns.Load(), "requests": s.metrics.totalRequests.Load()}).Info("server stopped")
	return err
}
func (s *Server) accept(ctx context.Context, listener net.Listener) error { // runner
	for {
		if s.acceptLimiter != nil {
			if err := s.acceptLimiter.Wait(ctx); err != nil {
				return nil // ctx is done
			}
		}
		netConn, err := listener.Accept()
		if err != nil {
			if s.IsShut() {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		servConn := s.addConn(netConn)
		go servConn.serve()
	}
}

// ServeConn serves netConn until it is closed. netConn is closed when ServeConn returns.
func (s *Server) ServeConn(netConn net.Conn) { // runner
	s.addConn(netConn).serve()
}

// Shutdown stops accepting connections and keep-alive. Serve returns once connections are done.
func (s *Server) Shutdown() {
	s.shut.Store(true)
	s.cancelLock.Lock()
	cancel := s.cancel
	s.cancelLock.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Server) addConn(netConn net.Conn) *server1Conn {
	servConn := getServer1Conn(s.lastConnID.Add(1), s, netConn)
	s.connsLock.Lock()
	s.conns[servConn] = struct{}{}
	s.connsLock.Unlock()
	s.connsWait.Add(1)
	return servConn
}
func (s *Server) removeConn(servConn *server1Conn) {
	s.connsLock.Lock()
	delete(s.conns, servConn)
	s.connsLock.Unlock()
	s.connsWait.Done()
}

// waitConns waits for connections to finish. Idle ones are woken up so they see the shutdown.
func (s *Server) waitConns() {
	done := make(chan struct{})
	go func() {
		s.connsWait.Wait()
		close(done)
	}()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	timeout := time.NewTimer(s.shutdownTimeout)
	defer timeout.Stop()
	s.wakeConns(false)
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.wakeConns(false)
		case <-timeout.C:
			s.logger.Warn("shutdown timeout, closing remaining connections")
			s.wakeConns(true)
			<-done
			return
		}
	}
}
func (s *Server) wakeConns(all bool) {
	s.connsLock.Lock()
	defer s.connsLock.Unlock()
	for servConn := range s.conns {
		if all {
			servConn.netConn.Close()
		} else if servConn.idle.Load() {
			servConn.netConn.SetReadDeadline(time.Now()) // the read fails with a timeout, then the connection closes silently
		}
	}
}
