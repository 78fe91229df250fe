package lookup

import (
	"fmt"
	"io"
	"net"
	"net/netip"
	"time"
)

// Client is a symmetric client for the lookup protocol (spec.md §4.F),
// holding one persistent connection across multiple Get calls.
type Client struct {
	conn net.Conn
}

// Dial opens a new Client connection to addr ("host:port").
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("lookup: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Get looks up ip (a textual IPv4/IPv6 address) and returns the name
// last learned for it, or ok==false if unknown.
func (c *Client) Get(ip string) (name string, ok bool, err error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "", false, fmt.Errorf("lookup: invalid ip %q: %w", ip, err)
	}
	packed := addr.Unmap().AsSlice()

	req := make([]byte, 1+len(packed))
	req[0] = byte(len(packed))
	copy(req[1:], packed)

	if _, err := c.conn.Write(req); err != nil {
		return "", false, fmt.Errorf("lookup: write request: %w", err)
	}

	name, err = readReply(c.conn)
	if err != nil {
		return "", false, fmt.Errorf("lookup: read reply: %w", err)
	}
	if name == "" {
		return "", false, nil
	}
	return name, true, nil
}

// Close sends the farewell byte, awaits the farewell reply, and closes
// the underlying connection.
func (c *Client) Close() error {
	defer c.conn.Close()

	if _, err := c.conn.Write([]byte{0}); err != nil {
		return fmt.Errorf("lookup: write farewell: %w", err)
	}
	if _, err := readReply(c.conn); err != nil {
		return fmt.Errorf("lookup: read farewell ack: %w", err)
	}
	return nil
}

// readReply reads one reply frame: a length byte followed by that many
// UTF-8 bytes (possibly zero, meaning unknown or farewell ack).
func readReply(c net.Conn) (string, error) {
	var lenBuf [1]byte
	if _, err := io.ReadFull(c, lenBuf[:]); err != nil {
		return "", err
	}

	n := int(lenBuf[0])
	if n == 0 {
		return "", nil
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(c, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
