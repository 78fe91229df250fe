// Package service wires the frame codec, framestream session, tap
// reader, reverse store, and lookup server together, and owns the
// listener lifecycle and graceful shutdown (spec.md §4.G).
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/jmanero/go-listen"
	"github.com/jmanero/go-logging"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/raincityio/dns-bindrev/internal/framestream"
	"github.com/raincityio/dns-bindrev/internal/lookup"
	"github.com/raincityio/dns-bindrev/internal/store"
	"github.com/raincityio/dns-bindrev/internal/tapreader"
)

// Config holds the supervisor's startup parameters.
type Config struct {
	// SocketPath is the local stream socket the framestream listener
	// binds (spec.md §6, e.g. "/tmp/bindrev.sock").
	SocketPath string

	// TCPAddr is the lookup listener's bind address (spec.md §6,
	// default "0.0.0.0:8888").
	TCPAddr string

	// StorePath is the on-disk reverse store file.
	StorePath string

	// ShutdownTimeout bounds how long graceful shutdown waits for
	// in-flight sessions to drain before returning unilaterally.
	ShutdownTimeout time.Duration
}

// closers aggregates cleanup actions run in reverse registration order,
// mirroring this codebase's closers/CloseAll pattern for tracking
// listener lifetimes. The store is closed separately, after the drain.
type closers struct {
	mu      sync.Mutex
	entries []func() error
}

func (c *closers) add(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, fn)
}

func (c *closers) closeAll() (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.entries) - 1; i >= 0; i-- {
		err = multierr.Append(err, c.entries[i]())
	}
	return
}

// Run opens the store, starts both listeners, and blocks until ctx is
// cancelled (by the caller wiring SIGINT/SIGTERM), then drains in-flight
// sessions to cfg.ShutdownTimeout before returning.
func Run(ctx context.Context, cfg Config) error {
	ctx, logger := logging.Named(ctx, "bindrev")

	st, err := store.Open(cfg.StorePath, logger)
	if err != nil {
		return fmt.Errorf("service: open store: %w", err)
	}

	var cls closers

	framestreamListener, err := listenUnix(cfg.SocketPath)
	if err != nil {
		st.Close() // nolint:errcheck // best effort on startup failure
		return fmt.Errorf("service: framestream listen: %w", err)
	}
	cls.add(framestreamListener.Close)

	tcpListeners, err := listen.Listen(ctx, "tcp", cfg.TCPAddr, listen.Options{})
	if err != nil && len(tcpListeners) == 0 {
		cls.closeAll() // nolint:errcheck // best effort on startup failure
		st.Close()     // nolint:errcheck // best effort on startup failure
		return fmt.Errorf("service: lookup listen: %w", err)
	}
	for _, l := range tcpListeners {
		cls.add(l.Close)
	}

	reader := tapreader.New(st, logger)

	var wg sync.WaitGroup
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return framestream.Serve(gctx, framestreamListener, reader, &wg)
	})

	for _, l := range tcpListeners {
		l := l
		group.Go(func() error {
			return lookup.Serve(gctx, l, st, &wg)
		})
	}

	group.Go(func() error {
		<-ctx.Done()
		logger.Info("shutdown.start")
		defer logger.Info("shutdown.done")

		// Closing the listeners unblocks both Accept loops; in-flight
		// connections are given until ShutdownTimeout to drain.
		if err := cls.closeAll(); err != nil {
			logger.Warn("shutdown.close", zap.Error(err))
		}

		drained := make(chan struct{})
		go func() {
			wg.Wait()
			close(drained)
		}()

		select {
		case <-drained:
		case <-time.After(shutdownTimeout(cfg)):
			logger.Warn("shutdown.deadline_exceeded")
		}

		// The store is closed only after the drain, so sessions still
		// running during it can keep writing through.
		if err := st.Close(); err != nil {
			logger.Warn("shutdown.store_close", zap.Error(err))
		}

		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func shutdownTimeout(cfg Config) time.Duration {
	if cfg.ShutdownTimeout <= 0 {
		return 5 * time.Second
	}
	return cfg.ShutdownTimeout
}

// listenUnix binds a unix stream socket at path, first removing any
// stale socket file left behind by a prior unclean exit.
func listenUnix(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
	}

	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen unix %s: %w", path, err)
	}
	return l, nil
}
