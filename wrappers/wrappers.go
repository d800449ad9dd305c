// Package wrappers holds convenience helpers that compose propar.Master's
// public API without adding protocol logic: read-setpoint, read-measure,
// wink-LED, and scan-network.
package wrappers

import (
	"fmt"

	propar "github.com/bronkhorst-developer/bronkhorst-propar"
)

// ReadSetpoint reads the measurement & control process's setpoint
// parameter (proc=1, parm=1) as a plain 16-bit value, 0-32000 meaning
// 0-100%.
func ReadSetpoint(m *propar.Master, node uint8) (int16, propar.StatusCode) {
	val, status := m.Read(node, 1, 1, propar.Int16)
	if !status.IsOK() {
		return 0, status
	}
	v, _ := val.(int64)
	return int16(v), status
}

// ReadMeasure reads the measurement & control process's measure
// parameter (proc=1, parm=0) as a Bronkhorst-signed 16-bit value.
func ReadMeasure(m *propar.Master, node uint8) (int32, propar.StatusCode) {
	val, status := m.Read(node, 1, 0, propar.BSInt16)
	if !status.IsOK() {
		return 0, status
	}
	v, _ := val.(int32)
	return v, status
}

// WinkLED writes the identification process's wink parameter
// (proc=0, parm=0) with a single ASCII duration digit ('1'-'9') to
// flash the instrument's LED for durationSeconds, for physically
// locating a node during commissioning.
func WinkLED(m *propar.Master, node uint8, durationSeconds int) bool {
	if durationSeconds < 1 {
		durationSeconds = 1
	}
	if durationSeconds > 9 {
		durationSeconds = 9
	}
	timeChar := string(rune(0x30 + durationSeconds))
	return m.Write(node, 0, 0, propar.String, timeChar)
}

// ScanNetwork is a thin wrapper over Master.GetNodes for callers who
// only need the discovery walk.
func ScanNetwork(m *propar.Master, findFirst bool) ([]propar.NodeInfo, error) {
	nodes, err := m.GetNodes(findFirst)
	if err != nil {
		return nil, fmt.Errorf("wrappers: scan network: %w", err)
	}
	return nodes, nil
}
