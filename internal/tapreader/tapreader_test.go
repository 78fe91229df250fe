package tapreader_test

import (
	"net"
	"testing"
	"time"

	dnstapwire "github.com/dnstap/golang-dnstap"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/raincityio/dns-bindrev/internal/tapreader"
)

func timeoutCh() <-chan time.Time { return time.After(2 * time.Second) }

func noopLogger() *zap.Logger { return zap.NewNop() }

type fakeStore struct {
	entries map[string]string
}

func newFakeStore() *fakeStore { return &fakeStore{entries: map[string]string{}} }

func (f *fakeStore) Add(ip any, name string) { f.entries[ip.(string)] = name }

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	require.NoError(t, err)
	return rr
}

func TestDirectAnswerAttribution(t *testing.T) {
	store := newFakeStore()
	reader := tapreader.NewForTest(store, tapreader.DefaultLoopGuard)

	m := &dns.Msg{
		Question: []dns.Question{{Name: "api.example.", Qtype: dns.TypeA, Qclass: dns.ClassINET}},
		Answer:   []dns.RR{mustRR(t, "api.example. 300 IN A 192.0.2.7")},
	}

	require.NoError(t, reader.Walk(m))
	assert.Equal(t, "api.example.", store.entries["192.0.2.7"])
}

func TestCNAMEChainAttributesToOriginalQuestion(t *testing.T) {
	store := newFakeStore()
	reader := tapreader.NewForTest(store, tapreader.DefaultLoopGuard)

	m := &dns.Msg{
		Question: []dns.Question{{Name: "www.example.", Qtype: dns.TypeA, Qclass: dns.ClassINET}},
		Answer: []dns.RR{
			mustRR(t, "www.example. 300 IN CNAME lb.example."),
			mustRR(t, "lb.example. 300 IN CNAME edge.example."),
			mustRR(t, "edge.example. 300 IN A 10.0.0.1"),
		},
	}

	require.NoError(t, reader.Walk(m))
	assert.Equal(t, "www.example.", store.entries["10.0.0.1"])
	assert.NotContains(t, store.entries, "lb.example.")
}

func TestAAAAAndFanOutCNAMEs(t *testing.T) {
	store := newFakeStore()
	reader := tapreader.NewForTest(store, tapreader.DefaultLoopGuard)

	m := &dns.Msg{
		Question: []dns.Question{{Name: "multi.example.", Qtype: dns.TypeAAAA, Qclass: dns.ClassINET}},
		Answer: []dns.RR{
			mustRR(t, "multi.example. 300 IN CNAME a.example."),
			mustRR(t, "multi.example. 300 IN CNAME b.example."),
			mustRR(t, "a.example. 300 IN AAAA 2001:db8::1"),
			mustRR(t, "b.example. 300 IN AAAA 2001:db8::2"),
		},
	}

	require.NoError(t, reader.Walk(m))
	assert.Equal(t, "multi.example.", store.entries[net.ParseIP("2001:db8::1").String()])
	assert.Equal(t, "multi.example.", store.entries[net.ParseIP("2001:db8::2").String()])
}

func TestNonAQuestionIgnored(t *testing.T) {
	store := newFakeStore()
	reader := tapreader.NewForTest(store, tapreader.DefaultLoopGuard)

	m := &dns.Msg{
		Question: []dns.Question{{Name: "txt.example.", Qtype: dns.TypeTXT, Qclass: dns.ClassINET}},
		Answer:   []dns.RR{mustRR(t, `txt.example. 300 IN TXT "hello"`)},
	}

	require.NoError(t, reader.Walk(m))
	assert.Empty(t, store.entries)
}

func TestCycleIsBoundedByLoopGuard(t *testing.T) {
	store := newFakeStore()
	reader := tapreader.NewForTest(store, 8)

	m := &dns.Msg{
		Question: []dns.Question{{Name: "cycle.example.", Qtype: dns.TypeA, Qclass: dns.ClassINET}},
		Answer: []dns.RR{
			mustRR(t, "cycle.example. 300 IN CNAME loop1.example."),
			mustRR(t, "loop1.example. 300 IN CNAME loop2.example."),
			mustRR(t, "loop2.example. 300 IN CNAME cycle.example."),
		},
	}

	done := make(chan error, 1)
	go func() { done <- reader.Walk(m) }()

	select {
	case err := <-done:
		assert.NoError(t, err) // loop guard is swallowed at the walk() level, only logged
	case <-timeoutCh():
		t.Fatal("walk did not terminate within the loop guard bound")
	}
}

func TestTruncatedDNSMessageIsMalformed(t *testing.T) {
	store := newFakeStore()
	reader := tapreader.NewForTest(store, tapreader.DefaultLoopGuard)

	msgType := dnstapwire.Message_CLIENT_RESPONSE
	dnstapType := dnstapwire.Dnstap_MESSAGE
	envelope := &dnstapwire.Dnstap{
		Type: &dnstapType,
		Message: &dnstapwire.Message{
			Type:            &msgType,
			ResponseMessage: []byte{0xff}, // not a valid DNS message
		},
	}

	payload, err := proto.Marshal(envelope)
	require.NoError(t, err)

	err = reader.Process(payload)
	assert.ErrorIs(t, err, tapreader.ErrMalformed)
	assert.Empty(t, store.entries)
}

func TestParseBeforeInspectOnRealEnvelope(t *testing.T) {
	store := newFakeStore()
	reader := tapreader.New(store, noopLogger())

	msg := new(dns.Msg)
	msg.SetQuestion("api.example.", dns.TypeA)
	msg.Answer = []dns.RR{mustRR(t, "api.example. 300 IN A 192.0.2.7")}
	wire, err := msg.Pack()
	require.NoError(t, err)

	msgType := dnstapwire.Message_CLIENT_RESPONSE
	dnstapType := dnstapwire.Dnstap_MESSAGE
	envelope := &dnstapwire.Dnstap{
		Type: &dnstapType,
		Message: &dnstapwire.Message{
			Type:            &msgType,
			ResponseMessage: wire,
		},
	}

	payload, err := proto.Marshal(envelope)
	require.NoError(t, err)

	reader.HandleData(payload)
	assert.Equal(t, "api.example.", store.entries["192.0.2.7"])
}
