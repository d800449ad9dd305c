package propar

import (
	"encoding/binary"
	"math"
)

// maxPayload is the transport's length-byte cap.
const maxPayload = 255

// maxStringLen is the wire cap on a STRING parameter's length.
const maxStringLen = 60

// chainFlags carries the two scratch bits the encoder computes for a run
// of descriptors. It lives only for the duration of one encode call and
// is never exposed on the caller's Descriptor.
type chainFlags struct {
	procChained bool
	parmChained bool
}

// computeChaining is the encoder's pre-pass: a run of
// descriptors sharing the same ProcNr sets parmChained on every member
// but the last, and procChained on the first member of every run but the
// final one.
func computeChaining(params []Descriptor) []chainFlags {
	flags := make([]chainFlags, len(params))
	runStart := 0
	for i := 1; i < len(params); i++ {
		if params[i].ProcNr == params[i-1].ProcNr {
			flags[i-1].parmChained = true
		} else {
			flags[runStart].procChained = true
			runStart = i
		}
	}
	return flags
}

// EncodeRequest builds a REQUEST_PARM payload for the given descriptors.
// Each parameter emits an index head (proc index and parameter index,
// carrying the chaining bits) followed by the plain proc/parm address
// bytes; a chained parameter omits the proc index. It stops early
// (returning only the parameters that fit) if the 255 byte transport
// cap would otherwise be exceeded.
func EncodeRequest(params []Descriptor) (payload []byte, sent int, err error) {
	flags := computeChaining(params)
	buf := []byte{byte(CmdRequestParm)}
	for i, p := range params {
		wt, werr := p.ParmType.wireType()
		if werr != nil {
			return nil, i, werr
		}
		newRun := i == 0 || params[i].ProcNr != params[i-1].ProcNr
		need := 3
		if newRun {
			need++
		}
		if wt == String {
			need++
		}
		if len(buf)+need > maxPayload {
			break
		}
		if newRun {
			buf = append(buf, p.ProcNr|chainBit(flags[i].procChained))
		}
		buf = append(buf, p.ParmNr|chainBit(flags[i].parmChained)|byte(wt))
		buf = append(buf, p.ProcNr)
		buf = append(buf, p.ParmNr|byte(wt))
		if wt == String {
			// ParmSize is written verbatim, including 0: a caller
			// requesting ParmSize 0 means "zero-terminated" and the
			// instrument must see a literal 0 length byte, not a 60-byte
			// substitution.
			if p.ParmSize < 0 || p.ParmSize > maxStringLen {
				return nil, i, ErrIllegalArgument
			}
			buf = append(buf, byte(p.ParmSize))
		}
		sent = i + 1
	}
	return buf, sent, nil
}

// EncodeSend builds a SEND_PARM* payload (ack, no-ack, or broadcast) for
// the given descriptors, value-encoding each one.
func EncodeSend(cmd Command, params []Descriptor) (payload []byte, sent int, err error) {
	flags := computeChaining(params)
	buf := []byte{byte(cmd)}
	for i, p := range params {
		wt, werr := p.ParmType.wireType()
		if werr != nil {
			return nil, i, werr
		}
		valueBytes, verr := encodeValue(p, wt)
		if verr != nil {
			return nil, i, verr
		}
		newRun := i == 0 || params[i].ProcNr != params[i-1].ProcNr
		need := 2 + len(valueBytes)
		if newRun {
			need++
		}
		if len(buf)+need > maxPayload {
			break
		}
		if newRun {
			buf = append(buf, p.ProcNr|chainBit(flags[i].procChained))
		}
		buf = append(buf, p.ParmNr|chainBit(flags[i].parmChained)|byte(wt))
		buf = append(buf, valueBytes...)
		sent = i + 1
	}
	return buf, sent, nil
}

func chainBit(set bool) byte {
	if set {
		return 0x80
	}
	return 0
}

// encodeValue renders a descriptor's Data field onto the wire, using the
// wire type's fixed encoding; semantic types (Float/SInt16/BSInt16) are
// written via their wire equivalent's byte pattern.
func encodeValue(p Descriptor, wt ParmType) ([]byte, error) {
	switch wt {
	case Int8:
		v, ok := toInt64(p.Data)
		if !ok {
			return nil, ErrIllegalArgument
		}
		return []byte{byte(v)}, nil
	case Int16:
		var w uint16
		switch p.ParmType {
		case Float, String, Int8, Int32:
			return nil, ErrIllegalArgument
		case SInt16:
			v, ok := toInt64(p.Data)
			if !ok {
				return nil, ErrIllegalArgument
			}
			w = uint16(int16(v))
		case BSInt16:
			v, ok := toInt64(p.Data)
			if !ok {
				return nil, ErrIllegalArgument
			}
			w = uint16(int32(v))
		default: // Int16
			v, ok := toInt64(p.Data)
			if !ok {
				return nil, ErrIllegalArgument
			}
			w = uint16(v)
		}
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, w)
		return b, nil
	case Int32:
		b := make([]byte, 4)
		if p.ParmType == Float {
			f, ok := toFloat64(p.Data)
			if !ok {
				return nil, ErrIllegalArgument
			}
			binary.BigEndian.PutUint32(b, math.Float32bits(float32(f)))
			return b, nil
		}
		v, ok := toInt64(p.Data)
		if !ok {
			return nil, ErrIllegalArgument
		}
		binary.BigEndian.PutUint32(b, uint32(v))
		return b, nil
	case String:
		return encodeStringValue(p)
	default:
		return nil, ErrNoSuchWireType
	}
}

func encodeStringValue(p Descriptor) ([]byte, error) {
	s, ok := p.Data.(string)
	if !ok {
		return nil, ErrIllegalArgument
	}
	data := []byte(s)
	declared := p.ParmSize
	if declared > 0 {
		if len(data) > declared {
			data = data[:declared]
		}
		for len(data) < declared {
			data = append(data, 0)
		}
	} else {
		declared = len(data)
	}
	out := make([]byte, 0, 1+declared+1)
	out = append(out, byte(declared+1))
	out = append(out, data...)
	out = append(out, 0)
	return out, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		i, ok := toInt64(v)
		return float64(i), ok
	}
}

// DecodeSendParameters parses a SEND_PARM/SEND_PARM_BROADCAST payload
// body (command byte already stripped) into a list of descriptors,
// mirroring the chaining state the encoder produced. schema, when
// non-nil, supplies the requested type/size for each position in order
// so the decoder knows how many value bytes to consume; callers decoding
// a genuinely unsolicited broadcast pass nil and rely on wire types only
// (Float/SInt16/BSInt16 cannot be recovered without a schema, see
// repair.go).
func DecodeSendParameters(body []byte, schema []Descriptor) []Descriptor {
	var out []Descriptor
	pos := 0
	var curProc uint8
	expectProcByte := true
	idx := 0
	for pos < len(body) {
		if expectProcByte {
			if pos >= len(body) {
				out = append(out, Descriptor{Status: STATUS_PROTOCOL_ERROR})
				break
			}
			curProc = body[pos] & 0x7F
			pos++
		}
		if pos >= len(body) {
			out = append(out, Descriptor{Status: STATUS_PROTOCOL_ERROR})
			break
		}
		parmByte := body[pos]
		pos++
		parmNr := parmByte & 0x1F
		parmChained := parmByte&0x80 != 0
		wt := ParmType(parmByte & 0x60)

		size := wt.wireSize()
		if wt == String {
			if pos >= len(body) {
				out = append(out, Descriptor{Status: STATUS_PROTOCOL_ERROR})
				break
			}
			wireLen := int(body[pos])
			pos++
			if wireLen == 0 {
				// A 0 length byte means "scan forward for the zero
				// terminator" rather than a protocol error: the sender
				// didn't know the length up front.
				cnt := pos
				for cnt < len(body) && body[cnt] != 0 {
					cnt++
				}
				if cnt >= len(body) {
					out = append(out, Descriptor{Status: STATUS_PROTOCOL_ERROR})
					break
				}
				strLen := cnt - pos
				strBytes := body[pos:cnt]
				pos = cnt + 1
				d := Descriptor{ProcNr: curProc, ParmNr: parmNr, ParmType: String, ParmSize: strLen, Data: string(strBytes), Status: STATUS_OK}
				applySchema(&d, schema, idx)
				out = append(out, d)
				idx++
				expectProcByte = !parmChained
				continue
			}
			if pos+wireLen > len(body) {
				out = append(out, Descriptor{Status: STATUS_PROTOCOL_ERROR})
				break
			}
			strBytes := body[pos : pos+wireLen-1]
			pos += wireLen
			d := Descriptor{ProcNr: curProc, ParmNr: parmNr, ParmType: String, ParmSize: wireLen - 1, Data: string(strBytes), Status: STATUS_OK}
			applySchema(&d, schema, idx)
			out = append(out, d)
		} else {
			if pos+size > len(body) {
				out = append(out, Descriptor{Status: STATUS_PROTOCOL_ERROR})
				break
			}
			raw := body[pos : pos+size]
			pos += size
			d := Descriptor{ProcNr: curProc, ParmNr: parmNr, ParmType: wt, ParmSize: size, Status: STATUS_OK}
			d.Data = decodeWireValue(wt, raw)
			applySchema(&d, schema, idx)
			out = append(out, d)
		}
		idx++
		expectProcByte = !parmChained
	}
	return out
}

func applySchema(d *Descriptor, schema []Descriptor, idx int) {
	if idx >= len(schema) {
		return
	}
	req := schema[idx]
	d.DDENr = req.DDENr
	d.ParmName = req.ParmName
	repairType(d, req.ParmType)
}

func decodeWireValue(wt ParmType, raw []byte) any {
	switch wt {
	case Int8:
		return int64(raw[0])
	case Int16:
		return int64(binary.BigEndian.Uint16(raw))
	case Int32:
		return int64(binary.BigEndian.Uint32(raw))
	default:
		return nil
	}
}
