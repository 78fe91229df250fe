package framestream

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/jmanero/go-logging"
	"go.uber.org/zap"
)

// Serve accepts connections from listener and runs a Session over each on
// its own goroutine until listener is closed. It returns nil when the
// listener's Accept loop ends because the listener was closed (the
// expected shutdown path); any other Accept error is returned to the
// caller. If wg is non-nil, it is incremented for each in-flight
// connection so a supervisor can wait for sessions to drain on shutdown.
func Serve(ctx context.Context, listener net.Listener, handler Handler, wg *sync.WaitGroup) error {
	ctx, logger := logging.Named(ctx, "framestream")
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
			serveConn(ctx, c, handler)
		}()
	}
}

func serveConn(ctx context.Context, c net.Conn, handler Handler) {
	defer c.Close()

	ctx, logger := logging.With(ctx, zap.Stringer("peer", c.RemoteAddr()))
	logger.Debug("session.start")

	session := NewSession(c, handler)
	if err := session.Run(ctx); err != nil {
		logger.Warn("session.end", zap.Error(err))
		return
	}
	logger.Debug("session.end")
}
