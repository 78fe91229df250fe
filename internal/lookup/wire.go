// Package lookup implements the TCP lookup protocol: a length-prefixed
// request/reply exchange against the reverse store, plus a symmetric
// client (spec.md §4.E, §4.F, §6).
package lookup

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync"
)

// maxNameLen bounds a reply's name field, since the wire format uses a
// single length byte. Names longer than this are truncated; the store
// itself always retains the full name (SPEC_FULL.md §4.D).
const maxNameLen = 255

// ErrProtocol indicates a malformed request: an ip_len other than 0, 4, or 16.
var ErrProtocol = errors.New("lookup: protocol violation")

// bufferPool reuses small byte slices for reply framing across the many
// requests the server answers (request buffers are allocated per request
// in readRequest), the same role
// go-dns's sync.Pool of datagram buffers plays for DNS messages.
var bufferPool = sync.Pool{
	New: func() any { b := make([]byte, 16); return &b },
}

func getBuf(n int) []byte {
	p := bufferPool.Get().(*[]byte)
	if cap(*p) < n {
		*p = make([]byte, n)
	}
	return (*p)[:n]
}

func putBuf(b []byte) {
	bufferPool.Put(&b)
}

// readRequest reads one request frame from r. ipLen==0 denotes the
// farewell; otherwise ip is the packed address (4 or 16 bytes).
func readRequest(r io.Reader) (ip []byte, farewell bool, err error) {
	var lenBuf [1]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, false, err
	}

	ipLen := int(lenBuf[0])
	if ipLen == 0 {
		return nil, true, nil
	}
	if ipLen != net.IPv4len && ipLen != net.IPv6len {
		return nil, false, fmt.Errorf("%w: ip_len %d", ErrProtocol, ipLen)
	}

	buf := make([]byte, ipLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, false, err
	}
	return buf, false, nil
}

// writeReply writes a reply frame: a length byte followed by up to
// maxNameLen bytes of the (possibly truncated) name. An empty name
// writes just the zero length byte (unknown, or farewell ack).
func writeReply(w io.Writer, name string) error {
	if len(name) > maxNameLen {
		name = truncateUTF8(name, maxNameLen)
	}

	buf := getBuf(1 + len(name))
	defer putBuf(buf)

	buf[0] = byte(len(name))
	copy(buf[1:], name)

	_, err := w.Write(buf)
	return err
}

// truncateUTF8 returns the longest prefix of s that is at most n bytes
// and does not split a multi-byte rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// canonicalPacked parses a packed address into its canonical textual form.
func canonicalPacked(b []byte) (string, error) {
	addr, ok := netip.AddrFromSlice(b)
	if !ok {
		return "", fmt.Errorf("%w: invalid packed address of length %d", ErrProtocol, len(b))
	}
	return addr.Unmap().String(), nil
}
