// Package tapreader interprets one Frame Streams data payload as a
// dnstap message, walks the embedded DNS response's question/answer
// chain, and attributes every terminal A/AAAA address back to the
// originally queried name.
package tapreader

import (
	"errors"
	"fmt"

	dnstap "github.com/dnstap/golang-dnstap"
	"github.com/miekg/dns"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

// DefaultLoopGuard bounds the number of worklist pops performed per
// question, so a crafted CNAME/PTR cycle cannot hang the interpreter.
const DefaultLoopGuard = 64

var (
	// ErrMalformed indicates a tap envelope or DNS message decode failure.
	ErrMalformed = errors.New("tapreader: malformed message")

	// ErrLoopGuard indicates a CNAME/PTR worklist walk exceeded the
	// configured pop bound for one question.
	ErrLoopGuard = errors.New("tapreader: loop guard exceeded")
)

// Store is the subset of the reverse store the interpreter writes to.
// ip is always a canonical textual address here; the parameter is typed
// any to match store.Store.Add's broader signature (which also accepts
// packed bytes, net.IP and netip.Addr).
type Store interface {
	Add(ip any, name string)
}

// Reader interprets data frame payloads and attributes observed
// addresses into a Store.
type Reader struct {
	store     Store
	logger    *zap.Logger
	loopGuard int
}

// New constructs a Reader that writes observations into store, logging
// per-message failures with logger.
func New(store Store, logger *zap.Logger) *Reader {
	return &Reader{store: store, logger: logger, loopGuard: DefaultLoopGuard}
}

// HandleData implements framestream.Handler: it is the data-frame
// callback wired into the framestream session for one connection.
func (r *Reader) HandleData(payload []byte) {
	if err := r.process(payload); err != nil {
		// A single malformed tap message must not terminate the
		// service (spec.md §7); the caller (framestream.Session)
		// also recovers any panic escaping this call.
		r.logger.Warn("tapreader.message", zap.Error(err))
	}
}

// process decodes payload as a tap message and, if it is a
// CLIENT_RESPONSE, walks its DNS response. Per spec.md §9, the tap
// envelope is always fully parsed before its Type fields are inspected.
func (r *Reader) process(payload []byte) error {
	var envelope dnstap.Dnstap
	if err := proto.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("%w: dnstap unmarshal: %v", ErrMalformed, err)
	}

	if envelope.GetType() != dnstap.Dnstap_MESSAGE {
		return nil
	}

	message := envelope.GetMessage()
	if message == nil || message.GetType() != dnstap.Message_CLIENT_RESPONSE {
		return nil
	}

	var m dns.Msg
	if err := m.Unpack(message.GetResponseMessage()); err != nil {
		return fmt.Errorf("%w: dns unpack: %v", ErrMalformed, err)
	}

	return r.walk(&m)
}

// walk builds the name->answer-items linker for m, then resolves every
// A/AAAA question through its CNAME/PTR chain, recording each terminal
// address against the original question name.
func (r *Reader) walk(m *dns.Msg) error {
	linker := make(map[string][]dns.RR, len(m.Answer))
	for _, rr := range m.Answer {
		name := rr.Header().Name
		linker[name] = append(linker[name], rr)
	}

	for _, q := range m.Question {
		if q.Qtype != dns.TypeA && q.Qtype != dns.TypeAAAA {
			continue
		}

		if err := r.walkQuestion(q.Name, linker); err != nil {
			// LOOP_GUARD aborts only this question; the rest of the
			// message's questions are still processed (spec.md §7).
			if !errors.Is(err, ErrLoopGuard) {
				return err
			}
			r.logger.Warn("tapreader.loop_guard", zap.String("question", q.Name))
		}
	}

	return nil
}

// walkQuestion performs the stack-based CNAME/PTR walk for one question,
// attributing every terminal A/AAAA it reaches back to questionName.
func (r *Reader) walkQuestion(questionName string, linker map[string][]dns.RR) error {
	work := []string{questionName}
	pops := 0

	for len(work) > 0 {
		pops++
		if pops > r.loopGuard {
			return fmt.Errorf("%w: question %q", ErrLoopGuard, questionName)
		}

		name := work[len(work)-1]
		work = work[:len(work)-1]

		items, ok := linker[name]
		if !ok {
			continue
		}

		for _, item := range items {
			switch rr := item.(type) {
			case *dns.A:
				r.store.Add(rr.A.String(), questionName)
			case *dns.AAAA:
				r.store.Add(rr.AAAA.String(), questionName)
			case *dns.CNAME:
				work = append(work, rr.Target)
			case *dns.PTR:
				work = append(work, rr.Ptr)
			default:
				// other rdtypes are ignored, per spec.md §4.C step 4.
			}
		}
	}

	return nil
}
