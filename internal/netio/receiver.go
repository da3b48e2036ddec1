package netio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoListeners indicates that Run was called without any listeners.
var ErrNoListeners = errors.New("receiver run: no listeners provided")

// Demuxer routes a decoded SOME/IP message to whatever owns the
// client/service it targets. This interface decouples netio from the
// routing core to avoid an import cycle.
type Demuxer interface {
	Demux(frame Frame) error
}

// Receiver reads datagrams from one or more Listeners, demultiplexes
// each into its SOME/IP messages, and routes them to a Demuxer.
type Receiver struct {
	demuxer Demuxer
	logger  *slog.Logger
}

// NewReceiver creates a Receiver that routes messages to the given Demuxer.
func NewReceiver(demuxer Demuxer, logger *slog.Logger) *Receiver {
	return &Receiver{
		demuxer: demuxer,
		logger:  logger.With(slog.String("component", "netio.receiver")),
	}
}

// Run reads from all listeners concurrently until ctx is cancelled. Each
// listener gets its own goroutine; Run blocks until all of them return.
func (r *Receiver) Run(ctx context.Context, listeners ...*Listener) error {
	if len(listeners) == 0 {
		return fmt.Errorf("receiver: %w", ErrNoListeners)
	}

	done := make(chan struct{}, len(listeners))

	for _, ln := range listeners {
		go func(l *Listener) {
			r.recvLoop(ctx, l)
			done <- struct{}{}
		}(ln)
	}

	for range len(listeners) {
		<-done
	}

	return nil
}

// recvLoop reads datagrams from a single Listener until ctx is cancelled.
// Individual read or demux errors are logged but never stop the loop.
func (r *Receiver) recvLoop(ctx context.Context, ln *Listener) {
	for {
		if ctx.Err() != nil {
			return
		}

		frames, err := ln.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("recv error", slog.String("error", err.Error()))
			continue
		}

		for _, f := range frames {
			if err := r.demuxer.Demux(f); err != nil {
				r.logger.Debug("demux failed",
					slog.String("src", f.Meta.SrcAddr.String()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
