// Package framestream drives the Frame Streams bi-directional handshake
// over one accepted connection and delivers decoded data payloads to a
// Handler.
package framestream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"

	"github.com/jmanero/go-logging"
	"go.uber.org/zap"

	"github.com/raincityio/dns-bindrev/internal/frame"
)

// Handler receives one data frame's payload.
type Handler interface {
	HandleData(payload []byte)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(payload []byte)

// HandleData calls fn.
func (fn HandlerFunc) HandleData(payload []byte) { fn(payload) }

// ErrProtocol indicates an unrecognised control type on an otherwise
// well-formed stream.
var ErrProtocol = errors.New("framestream: protocol violation")

// state is the session's position in the handshake state machine.
type state int

const (
	stateOpen state = iota
	stateRunning
	stateClosed
)

// conn is the subset of net.Conn a Session needs; satisfied by any
// bidirectional stream, including a unix socket connection.
type conn interface {
	io.Reader
	io.Writer
	io.Closer
}

// Session drives one accepted Frame Streams connection. It always runs
// bi-directional (answers READY with ACCEPT, STOP with FINISH), per
// spec.md §4.B.
type Session struct {
	conn    conn
	decoder *frame.Decoder
	handler Handler
	state   state
}

// NewSession constructs a Session over c, delivering data payloads to handler.
func NewSession(c conn, handler Handler) *Session {
	return &Session{
		conn:    c,
		decoder: frame.NewDecoder(c),
		handler: handler,
		state:   stateOpen,
	}
}

// Run drives the session loop until STOP, a protocol violation, or an I/O
// error. TRUNCATED conditions (EOF mid-frame, including a clean peer
// disconnect) are treated as an ordinary session end and return nil, per
// spec.md §7 ("a single malformed tap message...MUST NOT terminate the
// service" — an interrupted stream is the same kind of externally caused
// fault).
func (s *Session) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	for {
		f, err := s.decoder.Decode()
		if err != nil {
			if errors.Is(err, frame.ErrTruncated) {
				return nil
			}
			logger.Warn("session.decode", zap.Error(err))
			return err
		}

		switch v := f.(type) {
		case frame.ControlFrame:
			if err := s.handleControl(v); err != nil {
				logger.Warn("session.control", zap.Stringer("type", v.Type), zap.Error(err))
				return err
			}
			if s.state == stateClosed {
				return nil
			}
		case frame.DataFrame:
			s.dispatch(v.Payload, logger)
		default:
			return fmt.Errorf("%w: unexpected frame type %T", ErrProtocol, f)
		}
	}
}

func (s *Session) handleControl(f frame.ControlFrame) error {
	switch f.Type {
	case frame.ControlReady:
		// Tolerated in both OPEN and RUNNING, idempotent per spec.md §4.B.
		return frame.Encode(s.conn, frame.ControlFrame{Type: frame.ControlAccept})
	case frame.ControlStart:
		s.state = stateRunning
		return nil
	case frame.ControlStop:
		if err := frame.Encode(s.conn, frame.ControlFrame{Type: frame.ControlFinish}); err != nil {
			return err
		}
		s.state = stateClosed
		return nil
	default:
		return fmt.Errorf("%w: unknown control type %s", ErrProtocol, f.Type)
	}
}

// dispatch invokes the handler, recovering and logging any panic so that
// one bad payload cannot tear down the session — the Go analogue of
// catching a callback exception (spec.md §4.B).
func (s *Session) dispatch(payload []byte, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("session.callback.panic", zap.Any("panic", r), zap.String("stack", string(debug.Stack())))
		}
	}()
	s.handler.HandleData(payload)
}
