package propar

// Command is the leading byte of a Propar frame payload.
type Command uint8

const (
	CmdSendParmWithAck   Command = 1
	CmdSendParm          Command = 2
	CmdSendParmBroadcast Command = 3
	CmdRequestParm       Command = 4
)

// ParmType is the semantic type tag carried on a Descriptor. It is wider
// than the wire alphabet: Float, SInt16 and BSInt16 are repaired locally
// from their wire equivalents, see repair.go.
type ParmType uint8

const (
	Int8    ParmType = 0x00
	Int16   ParmType = 0x20
	SInt16  ParmType = 0x21 // signed-16, range [-32767, 32767]; wire equivalent Int16
	BSInt16 ParmType = 0x22 // "Bronkhorst signed 16", range [-23593, 41942]; wire equivalent Int16
	Int32   ParmType = 0x40
	Float   ParmType = 0x41
	String  ParmType = 0x60
)

func (t ParmType) String() string {
	switch t {
	case Int8:
		return "INT8"
	case Int16:
		return "INT16"
	case SInt16:
		return "SINT16"
	case BSInt16:
		return "BSINT16"
	case Int32:
		return "INT32"
	case Float:
		return "FLOAT"
	case String:
		return "STRING"
	default:
		return "UNKNOWN"
	}
}

// wireType returns the four-value wire alphabet (Int8/Int16/Int32/String)
// that a semantic ParmType is actually transmitted as: Float rides on
// Int32, SInt16/BSInt16 ride on Int16.
func (t ParmType) wireType() (ParmType, error) {
	switch t {
	case Int8, Int16, Int32, String:
		return t, nil
	case Float:
		return Int32, nil
	case SInt16, BSInt16:
		return Int16, nil
	default:
		return 0, ErrNoSuchWireType
	}
}

// wireSize returns the byte length of the value as transmitted, for fixed
// size types. STRING has no fixed size; callers must consult ParmSize.
func (t ParmType) wireSize() int {
	switch t {
	case Int8:
		return 1
	case Int16, SInt16, BSInt16:
		return 2
	case Int32, Float:
		return 4
	default:
		return 0
	}
}

// LocalNode is the directly attached instrument's address (0x80), as
// opposed to a routed node address in [1, 127].
const LocalNode uint8 = 0x80

// Descriptor is the lingua franca of the API: a single parameter
// reference, used both to build requests/writes and to carry the
// decoded response back to the caller.
type Descriptor struct {
	Node     uint8      // instrument address; only meaningful on the first descriptor of a request
	ProcNr   uint8      // process number, 0-127
	ParmNr   uint8      // parameter number within the process, 0-31
	ParmType ParmType   // semantic type
	ParmSize int        // byte length; 0 for STRING means "zero-terminated"
	Data     any        // payload for writes, or decoded value on response
	Status   StatusCode // set on response

	DDENr    int    // optional catalogue annotation, propagated onto responses
	ParmName string // optional catalogue annotation, propagated onto responses
}
