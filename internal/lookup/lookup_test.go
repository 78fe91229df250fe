package lookup_test

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raincityio/dns-bindrev/internal/lookup"
)

type fakeStore struct {
	entries map[string]string
}

func (f *fakeStore) Get(ip any) (string, bool) {
	name, ok := f.entries[ip.(string)]
	return name, ok
}

func startServer(t *testing.T, entries map[string]string) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go lookup.Serve(ctx, listener, &fakeStore{entries: entries}, nil)

	return listener.Addr().String()
}

func TestUnknownIPReturnsUnknown(t *testing.T) {
	addr := startServer(t, map[string]string{})

	client, err := lookup.Dial(addr)
	require.NoError(t, err)
	defer client.Close()

	name, ok, err := client.Get("10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, name)
}

func TestKnownIPReturnsName(t *testing.T) {
	addr := startServer(t, map[string]string{"192.0.2.7": "api.example."})

	client, err := lookup.Dial(addr)
	require.NoError(t, err)
	defer client.Close()

	name, ok, err := client.Get("192.0.2.7")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "api.example.", name)
}

func TestPipelinedRequestsOnOneConnection(t *testing.T) {
	addr := startServer(t, map[string]string{
		"192.0.2.1": "one.example.",
		"192.0.2.2": "two.example.",
	})

	client, err := lookup.Dial(addr)
	require.NoError(t, err)
	defer client.Close()

	name, ok, err := client.Get("192.0.2.1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "one.example.", name)

	name, ok, err = client.Get("192.0.2.2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "two.example.", name)
}

func TestFarewellClosesConnection(t *testing.T) {
	addr := startServer(t, map[string]string{})

	client, err := lookup.Dial(addr)
	require.NoError(t, err)
	require.NoError(t, client.Close())
}

func TestBadRequestClosesConnectionOnly(t *testing.T) {
	addr := startServer(t, map[string]string{"192.0.2.7": "api.example."})

	bad, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	_, err = bad.Write([]byte{3, 0xde, 0xad, 0xbe})
	require.NoError(t, err)

	buf := make([]byte, 1)
	bad.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = bad.Read(buf)
	assert.Error(t, err) // server closed without replying to a malformed ip_len

	client, err := lookup.Dial(addr)
	require.NoError(t, err)
	defer client.Close()

	name, ok, err := client.Get("192.0.2.7")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "api.example.", name)
}

func TestLongNameIsTruncatedOnWire(t *testing.T) {
	longName := strings.Repeat("a", 300) + "."
	addr := startServer(t, map[string]string{"192.0.2.9": longName})

	client, err := lookup.Dial(addr)
	require.NoError(t, err)
	defer client.Close()

	name, ok, err := client.Get("192.0.2.9")
	require.NoError(t, err)
	require.True(t, ok)
	assert.LessOrEqual(t, len(name), 255)
	assert.True(t, strings.HasPrefix(longName, name))
}
