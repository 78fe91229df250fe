package framestream_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raincityio/dns-bindrev/internal/frame"
	"github.com/raincityio/dns-bindrev/internal/framestream"
)

func TestServeHandlesOneConnection(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	received := make(chan string, 1)
	handler := framestream.HandlerFunc(func(payload []byte) {
		received <- string(payload)
	})

	go framestream.Serve(context.Background(), listener, handler, nil)

	conn, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, frame.Encode(conn, frame.ControlFrame{Type: frame.ControlReady}))
	require.NoError(t, frame.Encode(conn, frame.DataFrame{Payload: []byte("payload")}))
	require.NoError(t, frame.Encode(conn, frame.ControlFrame{Type: frame.ControlStop}))

	select {
	case payload := <-received:
		assert.Equal(t, "payload", payload)
	case <-time.After(3 * time.Second):
		t.Fatal("handler was not invoked")
	}

	decoder := frame.NewDecoder(conn)
	f, err := decoder.Decode()
	require.NoError(t, err)
	assert.Equal(t, frame.ControlFrame{Type: frame.ControlAccept}, f)
}
