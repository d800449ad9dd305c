package propar

import "math"

// repairType reinterprets a decoded wire value according to the type
// that was actually requested. The wire alphabet only distinguishes
// Int8/Int16/Int32/String; Float, SInt16 and BSInt16 are recovered here
// using the requested descriptor's type as schema.
func repairType(d *Descriptor, requested ParmType) {
	raw, ok := d.Data.(int64)
	if !ok {
		return
	}
	switch requested {
	case Float:
		if d.ParmType != Int32 {
			return
		}
		d.Data = math.Float32frombits(uint32(raw))
		d.ParmType = Float
	case SInt16:
		if d.ParmType != Int16 {
			return
		}
		d.Data = int16(uint16(raw))
		d.ParmType = SInt16
	case BSInt16:
		if d.ParmType != Int16 {
			return
		}
		d.Data = repairBSInt16(uint16(raw))
		d.ParmType = BSInt16
	default:
		// Int8/Int16/Int32/String: wire value already matches requested
		// type, nothing to repair beyond copying catalogue annotations.
	}
}

// repairBSInt16 implements the Bronkhorst-signed convention: values above
// 0xA3D6 (41942) wrap to negative, preserving the asymmetric range
// [-23593, +41942].
func repairBSInt16(w uint16) int32 {
	if w > 0xA3D6 {
		return -(int32(0x10000) - int32(w))
	}
	return int32(w)
}
