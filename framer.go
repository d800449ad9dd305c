package propar

import (
	log "github.com/sirupsen/logrus"
)

const (
	dle byte = 0x10
	stx byte = 0x02
	etx byte = 0x03
)

// Framer converts between raw Frame records and a byte stream. Two modes
// are supported: binary (DLE-stuffed) and ASCII (hex-encoded lines).
//
// Decode is fed one byte at a time by the multiplexer's reader loop; it
// is a pure state machine with no lookahead into payload structure, so
// that it can resynchronize after noise without losing the rest of the
// stream.
type Framer interface {
	Encode(f Frame) []byte
	Decode(b byte) (Frame, bool)
	ErrorCount() int
}

// decodeState names the binary framer's decoder states.
type decodeState int

const (
	stateAwaitStart1 decodeState = iota // S1: await start-1 (DLE)
	stateAwaitStart2                    // S2: await start-2 (STX)
	stateData                           // DATA: accumulating payload
	stateDataOrEnd                      // DATA_OR_END: saw DLE inside payload
	stateErr                            // ERR: resync on next byte
)

// BinaryFramer implements the default Propar wire mode: DLE STX seq node
// len data... DLE ETX, with DLE-byte stuffing throughout.
type BinaryFramer struct {
	state       decodeState
	buf         []byte
	errCount    int
	onNonPropar func(byte)
}

// NewBinaryFramer builds a framer starting in the await-start state.
func NewBinaryFramer() *BinaryFramer {
	return &BinaryFramer{state: stateAwaitStart1}
}

// OnNonPropar registers a sink invoked for every byte observed while
// waiting for a frame to start (used by the master's dump_level=1 mode).
func (f *BinaryFramer) OnNonPropar(cb func(byte)) {
	f.onNonPropar = cb
}

func (f *BinaryFramer) ErrorCount() int { return f.errCount }

// Encode produces the wire bytes for a frame, doubling every 0x10 found
// in seq, node, len or payload.
func (f *BinaryFramer) Encode(fr Frame) []byte {
	if len(fr.Payload) > 255 {
		panic(ErrBufferOverflow)
	}
	out := make([]byte, 0, 6+2*len(fr.Payload))
	out = append(out, dle, stx)
	emit := func(b byte) {
		out = append(out, b)
		if b == dle {
			out = append(out, dle)
		}
	}
	emit(fr.Seq)
	emit(fr.Node)
	emit(byte(len(fr.Payload)))
	for _, b := range fr.Payload {
		emit(b)
	}
	out = append(out, dle, etx)
	return out
}

// Decode advances the state machine by one byte. It returns a completed
// frame and true when DLE ETX closes a sufficiently long buffer.
func (f *BinaryFramer) Decode(b byte) (Frame, bool) {
	switch f.state {
	case stateAwaitStart1:
		if b == dle {
			f.buf = f.buf[:0]
			f.state = stateAwaitStart2
		} else if f.onNonPropar != nil {
			f.onNonPropar(b)
		}
	case stateAwaitStart2:
		if b == stx {
			f.state = stateData
		} else {
			f.state = stateErr
		}
	case stateData:
		if b == dle {
			f.state = stateDataOrEnd
		} else {
			f.buf = append(f.buf, b)
		}
	case stateDataOrEnd:
		switch b {
		case dle:
			f.buf = append(f.buf, dle)
			f.state = stateData
		case etx:
			f.state = stateAwaitStart1
			if len(f.buf) > 3 {
				fr := Frame{Seq: f.buf[0], Node: f.buf[1], Payload: append([]byte(nil), f.buf[3:]...)}
				return fr, true
			}
		default:
			f.state = stateErr
		}
	case stateErr:
		f.errCount++
		log.Debugf("[FRAMER] resynchronizing after malformed sequence, total errors=%d", f.errCount)
		f.state = stateAwaitStart1
	}
	return Frame{}, false
}

// ASCIIFramer implements the ":" HH HH (HH)* CR LF line mode. There is no
// seq on the wire; the framer stamps every decoded frame with the last
// transmitted seq. This assumes strict request/response usage: pipelined
// requests over an ASCII link would be matched to the wrong seq.
type ASCIIFramer struct {
	lastSeq  uint8
	errCount int

	started bool
	line    []byte
}

func NewASCIIFramer() *ASCIIFramer {
	return &ASCIIFramer{}
}

func (f *ASCIIFramer) ErrorCount() int { return f.errCount }

// SetLastSeq records the seq of the most recently transmitted request, so
// that the next decoded response can be stamped with it.
func (f *ASCIIFramer) SetLastSeq(seq uint8) { f.lastSeq = seq }

func (f *ASCIIFramer) Encode(fr Frame) []byte {
	f.lastSeq = fr.Seq
	body := make([]byte, 0, len(fr.Payload)+1)
	body = append(body, byte(len(fr.Payload)+1), fr.Node)
	body = append(body, fr.Payload...)
	out := make([]byte, 0, 1+len(body)*2+2)
	out = append(out, ':')
	for _, b := range body {
		out = append(out, hexDigits[b>>4], hexDigits[b&0xF])
	}
	out = append(out, '\r', '\n')
	return out
}

const hexDigits = "0123456789ABCDEF"

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}

// Decode accumulates one hex-pair line at a time; the caller still feeds
// one raw byte at a time, matching the binary framer's signature.
func (f *ASCIIFramer) Decode(b byte) (Frame, bool) {
	switch b {
	case ':':
		f.started = true
		f.line = f.line[:0]
		return Frame{}, false
	case '\r':
		return Frame{}, false
	case '\n':
		if !f.started {
			return Frame{}, false
		}
		f.started = false
		raw, ok := decodeHexLine(f.line)
		if !ok || len(raw) < 2 {
			f.errCount++
			return Frame{}, false
		}
		length := int(raw[0])
		node := raw[1]
		payload := raw[2:]
		if length-1 != len(payload) {
			f.errCount++
			return Frame{}, false
		}
		return Frame{Seq: f.lastSeq, Node: node, Payload: payload}, true
	default:
		if !f.started {
			return Frame{}, false
		}
		if _, ok := hexVal(b); !ok {
			f.errCount++
			f.started = false
			return Frame{}, false
		}
		f.line = append(f.line, b)
		return Frame{}, false
	}
}

func decodeHexLine(line []byte) ([]byte, bool) {
	if len(line)%2 != 0 {
		return nil, false
	}
	out := make([]byte, len(line)/2)
	for i := 0; i < len(out); i++ {
		hi, ok1 := hexVal(line[2*i])
		lo, ok2 := hexVal(line[2*i+1])
		if !ok1 || !ok2 {
			return nil, false
		}
		out[i] = hi<<4 | lo
	}
	return out, true
}
