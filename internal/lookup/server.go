package lookup

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/jmanero/go-logging"
	"go.uber.org/zap"
)

// Store is the subset of the reverse store the lookup server reads.
type Store interface {
	Get(ip any) (string, bool)
}

// Serve accepts connections from listener and serves the pipelined
// lookup protocol on each, concurrently, until listener is closed. If wg
// is non-nil, it is incremented for each in-flight connection so a
// supervisor can wait for requests to drain on shutdown.
func Serve(ctx context.Context, listener net.Listener, store Store, wg *sync.WaitGroup) error {
	ctx, logger := logging.Named(ctx, "lookup")
	logger.Info("listening", zap.Stringer("addr", listener.Addr()))

	for {
		c, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		if wg != nil {
			wg.Add(1)
		}
		go func() {
			if wg != nil {
				defer wg.Done()
			}
			serveConn(ctx, c, store)
		}()
	}
}

// serveConn drives the pipelined request/reply loop for one connection
// until farewell, a protocol violation, or an I/O error (spec.md §4.E).
func serveConn(ctx context.Context, c net.Conn, store Store) {
	defer c.Close()

	_, logger := logging.With(ctx, zap.Stringer("peer", c.RemoteAddr()))

	for {
		packed, farewell, err := readRequest(c)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn("lookup.read", zap.Error(err))
			}
			return
		}

		if farewell {
			_ = writeReply(c, "")
			return
		}

		ip, err := canonicalPacked(packed)
		if err != nil {
			logger.Warn("lookup.request", zap.Error(err))
			return
		}

		name, _ := store.Get(ip)
		if err := writeReply(c, name); err != nil {
			logger.Warn("lookup.write", zap.Error(err))
			return
		}
	}
}
