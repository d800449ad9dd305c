package propar

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultResponseTimeout is the liveness bound for a pending request:
// a request that draws no matching response within this window is
// completed locally with STATUS_TIMEOUT_ANSWER.
const DefaultResponseTimeout = 500 * time.Millisecond

// readerIdleSleep is how long the reader task rests between polls when
// the transport has nothing available.
const readerIdleSleep = time.Millisecond

type requestKind uint8

const (
	kindRequest  requestKind = iota // REQUEST_PARM was sent, expects a parameter list or single status
	kindWriteAck                    // SEND_PARM_WITH_ACK was sent, expects a wire status code
)

// Outcome is what the multiplexer posts to a pending request's delivery
// slot: either a decoded parameter list (reads) or a bare status (acked
// writes), or a synthesized timeout/protocol-error status in either case.
type Outcome struct {
	Status StatusCode
	Params []Descriptor
}

type pendingEntry struct {
	seq       uint8
	node      uint8
	kind      requestKind
	sentAt    time.Time
	requested []Descriptor
	done      chan Outcome
	callback  func(Outcome)
	delivered bool
}

// Multiplexer allocates sequence numbers, tracks pending requests,
// matches incoming frames to them, enforces per-request timeouts and
// fans out unsolicited broadcasts. One Multiplexer owns exactly one
// Transport and one reader goroutine.
type Multiplexer struct {
	transport Transport
	framer    Framer

	writeMu sync.Mutex

	mu         sync.Mutex
	seqCounter uint8
	pending    [256]*pendingEntry

	responseTimeout time.Duration
	broadcastSink   func([]Descriptor)
	broadcastSchema func() []Descriptor

	dumpLevel int

	stopCh   chan struct{}
	runningW sync.WaitGroup
	started  bool
}

// NewMultiplexer wires a Multiplexer to a transport and framer. The
// reader task is not started until Start is called.
func NewMultiplexer(transport Transport, framer Framer) *Multiplexer {
	return &Multiplexer{
		transport:       transport,
		framer:          framer,
		responseTimeout: DefaultResponseTimeout,
	}
}

// SetResponseTimeout overrides the default 500ms liveness bound.
func (m *Multiplexer) SetResponseTimeout(d time.Duration) {
	m.mu.Lock()
	m.responseTimeout = d
	m.mu.Unlock()
}

func (m *Multiplexer) getResponseTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.responseTimeout
}

// SetBroadcastSink registers the callback invoked with decoded,
// type-repaired parameter lists carried on SEND_PARM_BROADCAST frames
// that match no pending request. schema, if non-nil, is consulted each
// time to recover Float/SInt16/BSInt16 values from the catalogue.
func (m *Multiplexer) SetBroadcastSink(sink func([]Descriptor), schema func() []Descriptor) {
	m.mu.Lock()
	m.broadcastSink = sink
	m.broadcastSchema = schema
	m.mu.Unlock()
}

// SetDumpLevel controls how much of the raw wire traffic gets logged:
// 0 silent, 1 logs bytes observed outside of a frame, 2 logs everything.
func (m *Multiplexer) SetDumpLevel(level int) {
	m.dumpLevel = level
	if bf, ok := m.framer.(*BinaryFramer); ok {
		if level >= 1 {
			bf.OnNonPropar(func(b byte) {
				log.Debugf("[FRAMER] non-propar byte x%02x", b)
			})
		} else {
			bf.OnNonPropar(nil)
		}
	}
}

// Start opens the transport and launches the reader task.
func (m *Multiplexer) Start() error {
	if err := m.transport.Open(); err != nil {
		return err
	}
	m.stopCh = make(chan struct{})
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	m.runningW.Add(1)
	go m.readerLoop()
	return nil
}

// Stop ends the reader task, closes the transport and waits for the
// reader to exit; Start opens the transport again with a new reader.
func (m *Multiplexer) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	m.mu.Unlock()
	close(m.stopCh)
	err := m.transport.Close()
	m.runningW.Wait()
	return err
}

// allocate picks the next free sequence number, wrapping 0..255, and
// registers e under it in the same locked section as the free-slot scan.
// Allocation and registration must not be split across two lock
// acquisitions: otherwise two callers can observe the same free slot
// before either claims it.
func (m *Multiplexer) allocate(e *pendingEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < 256; i++ {
		seq := m.seqCounter
		m.seqCounter++
		if m.pending[seq] == nil {
			e.seq = seq
			m.pending[seq] = e
			return nil
		}
	}
	return ErrSeqTableFull
}

func (m *Multiplexer) matchAndRemove(seq uint8) *pendingEntry {
	m.mu.Lock()
	e := m.pending[seq]
	m.pending[seq] = nil
	m.mu.Unlock()
	return e
}

// write serializes caller writes onto the transport; reads stay owned
// solely by the reader goroutine.
func (m *Multiplexer) write(b []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if m.dumpLevel >= 2 {
		log.Debugf("[MUX] tx % x", b)
	}
	_, err := m.transport.Write(b)
	return err
}

// send registers a pending entry and writes the encoded frame, returning
// without waiting for the response. A nil callback means synchronous
// delivery: the caller then blocks on the entry with wait.
func (m *Multiplexer) send(node uint8, kind requestKind, requested []Descriptor, payload []byte, callback func(Outcome)) (*pendingEntry, error) {
	m.mu.Lock()
	running := m.started
	m.mu.Unlock()
	if !running {
		return nil, ErrTransportClosed
	}
	entry := &pendingEntry{
		node:      node,
		kind:      kind,
		sentAt:    time.Now(),
		requested: requested,
		callback:  callback,
	}
	if callback == nil {
		entry.done = make(chan Outcome, 1)
	}
	if err := m.allocate(entry); err != nil {
		return nil, err
	}

	if af, ok := m.framer.(*ASCIIFramer); ok {
		af.SetLastSeq(entry.seq)
	}
	frame := Frame{Seq: entry.seq, Node: node, Payload: payload}
	wire := m.framer.Encode(frame)
	if err := m.write(wire); err != nil {
		m.matchAndRemove(entry.seq)
		return nil, err
	}
	return entry, nil
}

// wait blocks the caller on a synchronous entry's delivery slot.
func (m *Multiplexer) wait(entry *pendingEntry) Outcome {
	timeout := m.getResponseTimeout()
	select {
	case out := <-entry.done:
		return out
	case <-time.After(timeout + 10*time.Millisecond):
		// The reader's own sweep should have already delivered a
		// TIMEOUT_ANSWER via entry.done; this is a backstop in case the
		// reader is busy. Remove any entry still registered under seq.
		m.matchAndRemove(entry.seq)
		out := Outcome{Status: STATUS_TIMEOUT_ANSWER}
		if entry.kind == kindRequest {
			out.Params = []Descriptor{{Status: STATUS_TIMEOUT_ANSWER}}
		}
		return out
	}
}

// deliver posts an outcome to a pending entry's sink, preferring the
// callback (async) over the blocking channel (sync). Delivery is
// non-blocking: it must never stall the reader task.
func (m *Multiplexer) deliver(e *pendingEntry, out Outcome) {
	if e.delivered {
		return
	}
	e.delivered = true
	if e.callback != nil {
		go e.callback(out)
		return
	}
	select {
	case e.done <- out:
	default:
	}
}

// readerLoop is the single task that drains the transport, drives the
// framer, matches responses and fans out broadcasts. It never blocks on
// application code.
func (m *Multiplexer) readerLoop() {
	defer m.runningW.Done()
	buf := make([]byte, 256)
	for {
		select {
		case <-m.stopCh:
			return
		default:
		}
		rx, err := m.transport.Read(len(buf))
		if err != nil {
			time.Sleep(readerIdleSleep)
			m.sweep(time.Now())
			continue
		}
		if len(rx) == 0 {
			time.Sleep(readerIdleSleep)
			m.sweep(time.Now())
			continue
		}
		if m.dumpLevel >= 2 {
			log.Debugf("[MUX] rx % x", rx)
		}
		for _, b := range rx {
			if fr, ok := m.framer.Decode(b); ok {
				m.handleFrame(fr)
			}
		}
		m.sweep(time.Now())
	}
}

// handleFrame classifies a decoded frame by its leading payload byte and
// delivers (or dispatches) the outcome.
func (m *Multiplexer) handleFrame(fr Frame) {
	if len(fr.Payload) == 0 {
		return
	}
	leading := fr.Payload[0]

	if len(fr.Payload) == 1 {
		if e := m.matchAndRemove(fr.Seq); e != nil {
			out := Outcome{Status: errorStatus(leading)}
			if e.kind == kindRequest {
				out.Params = []Descriptor{{Status: out.Status}}
			}
			m.deliver(e, out)
		}
		return
	}

	switch Command(leading) {
	case 0: // STATUS
		e := m.matchAndRemove(fr.Seq)
		if e == nil {
			return
		}
		status := StatusCode(fr.Payload[1])
		switch e.kind {
		case kindWriteAck:
			m.deliver(e, Outcome{Status: status})
		case kindRequest:
			m.deliver(e, Outcome{Status: status, Params: []Descriptor{{Status: status}}})
		}
	case CmdSendParm:
		e := m.matchAndRemove(fr.Seq)
		if e == nil {
			return
		}
		params := DecodeSendParameters(fr.Payload[1:], e.requested)
		m.deliver(e, Outcome{Status: STATUS_OK, Params: params})
	case CmdSendParmBroadcast:
		if e := m.matchAndRemove(fr.Seq); e != nil {
			// Matched an outstanding request: treat like a normal
			// parameter response rather than dropping it.
			params := DecodeSendParameters(fr.Payload[1:], e.requested)
			m.deliver(e, Outcome{Status: STATUS_OK, Params: params})
			return
		}
		m.dispatchBroadcast(fr.Payload[1:])
	default:
		// unrecognized leading byte: discard
	}
}

func (m *Multiplexer) dispatchBroadcast(body []byte) {
	m.mu.Lock()
	sink := m.broadcastSink
	schemaFn := m.broadcastSchema
	m.mu.Unlock()
	if sink == nil {
		return
	}
	var schema []Descriptor
	if schemaFn != nil {
		schema = schemaFn()
	}
	params := DecodeSendParameters(body, schema)
	go sink(params)
}

// sweep removes and completes any pending entry older than the response
// timeout, delivering TIMEOUT_ANSWER. Called by the reader between
// frames so timeouts are observed even without incoming traffic.
func (m *Multiplexer) sweep(now time.Time) {
	timeout := m.getResponseTimeout()
	m.mu.Lock()
	var expired []*pendingEntry
	for seq, e := range m.pending {
		if e != nil && now.Sub(e.sentAt) > timeout {
			expired = append(expired, e)
			m.pending[seq] = nil
		}
	}
	m.mu.Unlock()
	for _, e := range expired {
		out := Outcome{Status: STATUS_TIMEOUT_ANSWER}
		if e.kind == kindRequest {
			out.Params = []Descriptor{{Status: STATUS_TIMEOUT_ANSWER}}
		}
		m.deliver(e, out)
	}
}
