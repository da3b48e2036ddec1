package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/someip-go/routingd/internal/routing"
	"github.com/someip-go/routingd/internal/someip"
)

// DefaultWatchdogInterval and DefaultWatchdogTimeout are the keep-alive
// parameters used when a Server is not given explicit ones.
const (
	DefaultWatchdogInterval = 2 * time.Second
	DefaultWatchdogTimeout  = 5 * time.Second
)

// Server accepts host/guest connections and drives a routing.Hub from
// the commands each guest sends. One Server serves exactly one listener;
// a routing host that accepts both a Unix-domain socket and a TCP
// fallback runs two Servers against the same Hub.
type Server struct {
	hub    *routing.Hub
	logger *slog.Logger

	watchdogInterval time.Duration
	watchdogTimeout  time.Duration
	maxPayload       int

	// NameHint resolves the application name sent in ASSIGN_CLIENT to a statically
	// configured client_t, or someip.IllegalClient if none is
	// configured for that name. nil means no static hints are in use.
	NameHint func(name string) someip.ClientID

	mu    sync.Mutex
	conns map[someip.ClientID]*conn
}

// ServerOption configures optional Server parameters.
type ServerOption func(*Server)

// WithWatchdog overrides the default PING interval and PONG timeout.
func WithWatchdog(interval, timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.watchdogInterval = interval
		s.watchdogTimeout = timeout
	}
}

// WithMaxPayloadSize overrides DefaultMaxPayloadSize for every accepted
// connection.
func WithMaxPayloadSize(n int) ServerOption {
	return func(s *Server) { s.maxPayload = n }
}

// NewServer creates a Server driving hub.
func NewServer(hub *routing.Hub, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		hub:              hub,
		logger:           logger.With(slog.String("component", "ipc.server")),
		watchdogInterval: DefaultWatchdogInterval,
		watchdogTimeout:  DefaultWatchdogTimeout,
		conns:            make(map[someip.ClientID]*conn),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve accepts connections from ln until ctx is cancelled or Accept
// fails. Each accepted connection is handled in its own goroutine; Serve
// blocks until all of them have returned.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		raw, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ipc accept: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handle(ctx, raw)
		}()
	}
}

// handle owns one connection end-to-end: credential extraction (if the
// transport supports it), registration, command dispatch, keep-alive
// watchdog, and teardown.
func (s *Server) handle(ctx context.Context, raw net.Conn) {
	c, credSource, err := s.wrapConn(raw)
	if err != nil {
		s.logger.Warn("accept setup failed", slog.String("error", err.Error()))
		_ = raw.Close()
		return
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	registered := false
	defer func() {
		_ = c.close()
		if registered {
			if err := s.hub.DisconnectGuest(c.client); err != nil {
				s.logger.Debug("disconnect guest", slog.String("error", err.Error()))
			}
			s.mu.Lock()
			delete(s.conns, c.client)
			s.mu.Unlock()
			s.broadcastRoutingInfo()
		}
	}()

	lastPong := make(chan struct{}, 1)
	go s.watchdog(connCtx, c, lastPong)

	for {
		cmd, err := c.reader.Next(connCtx)
		if err != nil {
			if connCtx.Err() == nil {
				s.logger.Debug("command read failed", slog.String("error", err.Error()))
			}
			return
		}

		if cmd.Header.ID == CommandPong {
			select {
			case lastPong <- struct{}{}:
			default:
			}
			continue
		}

		if err := s.dispatch(c, credSource, cmd, &registered); err != nil {
			s.logger.Warn("command dispatch failed",
				slog.String("command", cmd.Header.ID.String()),
				slog.String("error", err.Error()),
			)
			if errors.Is(err, errFatalCommand) {
				return
			}
		}
	}
}

// watchdog sends PING every watchdogInterval and tears the connection
// down if no PONG arrives within watchdogTimeout.
func (s *Server) watchdog(ctx context.Context, c *conn, pong <-chan struct{}) {
	ticker := time.NewTicker(s.watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writer.Send(CommandPing, 0, nil, true); err != nil {
				return
			}
			select {
			case <-pong:
			case <-time.After(s.watchdogTimeout):
				s.logger.Warn("watchdog timeout", slog.Uint64("client", uint64(c.client)))
				_ = c.close()
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// broadcastRoutingInfo sends the current offer set to every connected
// guest — called at guest registration and whenever the offer set
// changes.
func (s *Server) broadcastRoutingInfo() {
	entries := make([]RoutingInfoEntry, 0)
	for _, o := range s.hub.Table().Offers() {
		entries = append(entries, RoutingInfoEntry{
			Service: o.Service, Instance: o.Instance,
			Major: o.Major, Minor: o.Minor,
			Local: o.Local, Client: o.Client,
		})
	}
	payload := EncodeRoutingInfo(entries)

	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.writer.Send(CommandRoutingInfo, 0, payload, true); err != nil {
			s.logger.Debug("routing info send failed",
				slog.Uint64("client", uint64(c.client)),
				slog.String("error", err.Error()),
			)
		}
	}
}
