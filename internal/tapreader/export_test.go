package tapreader

import (
	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// Walk exposes walk for white-box testing of the question/answer chain
// resolution without needing to construct a full dnstap envelope.
func (r *Reader) Walk(m *dns.Msg) error { return r.walk(m) }

// Process exposes process for white-box testing of envelope/message
// decode failures.
func (r *Reader) Process(payload []byte) error { return r.process(payload) }

// NewForTest constructs a Reader with a custom loop guard bound, for
// exercising LOOP_GUARD without a fixture as deep as the real default.
func NewForTest(store Store, loopGuard int) *Reader {
	return &Reader{store: store, logger: zap.NewNop(), loopGuard: loopGuard}
}
