// Package frame implements the Frame Streams wire codec: a 4-byte
// big-endian length header followed by either a control frame or a data
// frame, per the dnstap/Frame Streams framing convention.
package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ControlType identifies a control frame's payload.
type ControlType uint32

// Control frame types, per the Frame Streams handshake.
const (
	ControlAccept ControlType = 0x01
	ControlStart  ControlType = 0x02
	ControlStop   ControlType = 0x03
	ControlReady  ControlType = 0x04
	ControlFinish ControlType = 0x05
)

func (t ControlType) String() string {
	switch t {
	case ControlAccept:
		return "ACCEPT"
	case ControlStart:
		return "START"
	case ControlStop:
		return "STOP"
	case ControlReady:
		return "READY"
	case ControlFinish:
		return "FINISH"
	default:
		return fmt.Sprintf("CONTROL(%#x)", uint32(t))
	}
}

// Frame is a tagged union of ControlFrame and DataFrame. It exists only
// for the lifetime of one session loop iteration.
type Frame interface {
	isFrame()
}

// ControlFrame carries a handshake control type with no payload of
// interest to this codec; any trailing control data is read and discarded.
type ControlFrame struct {
	Type ControlType
}

func (ControlFrame) isFrame() {}

// DataFrame carries an opaque payload — one serialized tap message.
type DataFrame struct {
	Payload []byte
}

func (DataFrame) isFrame() {}

// DefaultMaxPayload is the default ceiling on a data frame's payload size.
const DefaultMaxPayload = 1 << 20 // 1 MiB

var (
	// ErrTruncated indicates an EOF (or short read) in the middle of a frame.
	ErrTruncated = errors.New("frame: truncated")

	// ErrOversize indicates a data frame payload exceeded the configured ceiling.
	ErrOversize = errors.New("frame: oversize payload")

	// ErrMalformedControl indicates a control frame's length field is inconsistent.
	ErrMalformedControl = errors.New("frame: malformed control frame")
)

// Decoder reads frames from an underlying stream.
type Decoder struct {
	r          *bufio.Reader
	MaxPayload uint32
}

// NewDecoder wraps r with a Decoder using DefaultMaxPayload.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r), MaxPayload: DefaultMaxPayload}
}

// Decode reads exactly one frame from the stream.
//
// Short reads (EOF mid-frame) fail with ErrTruncated. A data frame whose
// declared length exceeds MaxPayload fails with ErrOversize without
// consuming the remainder of the stream (the caller should close the
// connection). An unrecognised control type is not rejected here — it is
// decoded as an opaque ControlFrame and left to the caller to reject.
func (d *Decoder) Decode() (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(d.r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return d.decodeControl()
	}

	if length > d.maxPayload() {
		return nil, fmt.Errorf("%w: %d bytes exceeds ceiling of %d", ErrOversize, length, d.maxPayload())
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	return DataFrame{Payload: payload}, nil
}

func (d *Decoder) maxPayload() uint32 {
	if d.MaxPayload == 0 {
		return DefaultMaxPayload
	}
	return d.MaxPayload
}

func (d *Decoder) decodeControl() (Frame, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(d.r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	controlLen := binary.BigEndian.Uint32(hdr[0:4])
	controlType := ControlType(binary.BigEndian.Uint32(hdr[4:8]))

	if controlLen < 4 {
		return nil, fmt.Errorf("%w: control length %d shorter than type field", ErrMalformedControl, controlLen)
	}

	if trailing := int64(controlLen - 4); trailing > 0 {
		if _, err := io.CopyN(io.Discard, d.r, trailing); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
	}

	return ControlFrame{Type: controlType}, nil
}

// Encode writes f to w in wire format.
func Encode(w io.Writer, f Frame) error {
	switch v := f.(type) {
	case ControlFrame:
		var buf [12]byte
		binary.BigEndian.PutUint32(buf[0:4], 0)
		binary.BigEndian.PutUint32(buf[4:8], 4)
		binary.BigEndian.PutUint32(buf[8:12], uint32(v.Type))
		_, err := w.Write(buf[:])
		return err
	case DataFrame:
		var hdr [4]byte
		binary.BigEndian.PutUint32(hdr[:], uint32(len(v.Payload)))
		if _, err := w.Write(hdr[:]); err != nil {
			return err
		}
		_, err := w.Write(v.Payload)
		return err
	default:
		return fmt.Errorf("frame: unsupported frame type %T", f)
	}
}
