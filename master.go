package propar

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// findFirstProbeTimeout is the reduced per-request timeout used while
// scanning for the first responding node address.
const findFirstProbeTimeout = 50 * time.Millisecond

// NodeInfo describes one instrument discovered by GetNodes.
type NodeInfo struct {
	Address uint8
	Type    string
	Serial  string
	ID      string
}

// Master is the public facade over a single serial link: one Transport,
// one Framer, one Multiplexer, and an optional Catalogue for type repair
// and device-type lookups on broadcast traffic and network walks.
type Master struct {
	mux         *Multiplexer
	catalogue   *Catalogue
	node        uint8
	broadcastCB func([]Descriptor)

	dumpLevel int
}

// NewMaster builds a facade over transport using the binary framer by
// default. Use NewMasterWithFramer for ASCII mode.
func NewMaster(transport Transport, node uint8) *Master {
	return NewMasterWithFramer(transport, NewBinaryFramer(), node)
}

func NewMasterWithFramer(transport Transport, framer Framer, node uint8) *Master {
	m := &Master{
		mux:  NewMultiplexer(transport, framer),
		node: node,
	}
	// Wired unconditionally: SetBroadcastCallback must work whether or
	// not a catalogue is ever attached. The catalogue is an optional
	// annotation source, not a prerequisite for broadcasts.
	m.mux.SetBroadcastSink(m.dispatchBroadcast, func() []Descriptor { return nil })
	return m
}

// SetCatalogue attaches a parameter catalogue, used to resolve device
// types during GetNodes and to annotate/repair broadcast frames.
func (m *Master) SetCatalogue(cat *Catalogue) {
	m.catalogue = cat
}

// SetBroadcastCallback registers the sink invoked with decoded,
// type-repaired parameter lists carried on unsolicited broadcast frames.
func (m *Master) SetBroadcastCallback(cb func([]Descriptor)) {
	m.broadcastCB = cb
}

// dispatchBroadcast is the sink actually wired into the multiplexer; it
// forwards to the user callback, annotating each descriptor against the
// catalogue's (proc, parm) index when attached.
func (m *Master) dispatchBroadcast(params []Descriptor) {
	if m.catalogue != nil {
		for i := range params {
			m.catalogue.Annotate(&params[i])
		}
	}
	if m.broadcastCB != nil {
		m.broadcastCB(params)
	}
}

// SetDumpLevel forwards to the multiplexer: 0 silent, 1 non-propar
// bytes, 2 everything.
func (m *Master) SetDumpLevel(level int) {
	m.dumpLevel = level
	m.mux.SetDumpLevel(level)
}

// SetResponseTimeout overrides the 500ms default liveness bound.
func (m *Master) SetResponseTimeout(d time.Duration) {
	m.mux.SetResponseTimeout(d)
}

// Start opens the transport and begins reading.
func (m *Master) Start() error {
	return m.mux.Start()
}

// Stop closes the transport.
func (m *Master) Stop() error {
	return m.mux.Stop()
}

// SetBaudrate forwards to the transport.
func (m *Master) SetBaudrate(baud int) error {
	return m.mux.transport.SetBaudrate(baud)
}

// Read performs a single-parameter convenience read, returning the
// decoded (type-repaired) value, or nil if the instrument did not
// report STATUS_OK.
func (m *Master) Read(node uint8, proc, parm uint8, pt ParmType) (any, StatusCode) {
	req := []Descriptor{{Node: node, ProcNr: proc, ParmNr: parm, ParmType: pt}}
	out, err := m.ReadParameters(req)
	if err != nil || len(out) == 0 {
		return nil, STATUS_NO_RESPONSE
	}
	if !out[0].Status.IsOK() {
		return nil, out[0].Status
	}
	return out[0].Data, out[0].Status
}

// Write performs a single-parameter ACKed write, returning true iff the
// wire status was STATUS_OK.
func (m *Master) Write(node uint8, proc, parm uint8, pt ParmType, data any) bool {
	req := []Descriptor{{Node: node, ProcNr: proc, ParmNr: parm, ParmType: pt, Data: data}}
	status, err := m.WriteParameters(req, CmdSendParmWithAck, nil)
	return err == nil && status.IsOK()
}

// descriptorForDDE resolves a DDE number against the attached catalogue
// into a wire-addressed descriptor.
func (m *Master) descriptorForDDE(node uint8, dde int) (Descriptor, error) {
	if m.catalogue == nil {
		return Descriptor{}, fmt.Errorf("%w: no catalogue attached", ErrCatalogueLookup)
	}
	e, ok := m.catalogue.Lookup(dde)
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: dde %d", ErrCatalogueLookup, dde)
	}
	return Descriptor{
		Node:     node,
		ProcNr:   e.ProcNr,
		ParmNr:   e.ParmNr,
		ParmType: e.ParmType,
		ParmSize: e.ParmSize,
		DDENr:    e.DDENr,
		ParmName: e.ParmName,
	}, nil
}

// ReadDDE reads a parameter by its catalogue DDE number. Unknown DDE
// numbers (or a missing catalogue) fail with ErrCatalogueLookup.
func (m *Master) ReadDDE(node uint8, dde int) (any, StatusCode, error) {
	d, err := m.descriptorForDDE(node, dde)
	if err != nil {
		return nil, STATUS_NO_RESPONSE, err
	}
	out, rerr := m.ReadParameters([]Descriptor{d})
	if rerr != nil || len(out) == 0 {
		return nil, STATUS_NO_RESPONSE, rerr
	}
	if !out[0].Status.IsOK() {
		return nil, out[0].Status, nil
	}
	return out[0].Data, out[0].Status, nil
}

// WriteDDE writes a parameter by its catalogue DDE number.
func (m *Master) WriteDDE(node uint8, dde int, data any) (bool, error) {
	d, err := m.descriptorForDDE(node, dde)
	if err != nil {
		return false, err
	}
	return m.Write(node, d.ProcNr, d.ParmNr, d.ParmType, data), nil
}

// ReadParameters issues a REQUEST_PARM for the given descriptors. With no
// callback it blocks and returns the decoded list (or a single-item
// status list on timeout/protocol error); with a callback it returns
// immediately and the callback receives the eventual outcome.
func (m *Master) ReadParameters(params []Descriptor, callback ...func([]Descriptor)) ([]Descriptor, error) {
	if len(params) == 0 {
		return nil, ErrIllegalArgument
	}
	node := params[0].Node
	payload, sent, err := EncodeRequest(params)
	if err != nil {
		return nil, err
	}
	if sent < len(params) {
		log.Warnf("[MASTER] request truncated to fit payload cap: %d of %d parameters sent", sent, len(params))
	}
	schema := params[:sent]

	if len(callback) > 0 && callback[0] != nil {
		cb := callback[0]
		_, err := m.mux.send(node, kindRequest, schema, payload, func(out Outcome) {
			cb(out.Params)
		})
		return nil, err
	}

	entry, err := m.mux.send(node, kindRequest, schema, payload, nil)
	if err != nil {
		return nil, err
	}
	out := m.mux.wait(entry)
	return out.Params, nil
}

// WriteParameters issues a SEND_PARM* for the given descriptors under
// cmd (SEND_PARM_WITH_ACK, SEND_PARM, or SEND_PARM_BROADCAST). With no
// callback and an ack-requesting command it blocks for the wire status;
// SEND_PARM (no ack) returns STATUS_OK immediately without waiting.
func (m *Master) WriteParameters(params []Descriptor, cmd Command, callback func(StatusCode)) (StatusCode, error) {
	if len(params) == 0 {
		return STATUS_COMMAND_ERROR, ErrIllegalArgument
	}
	node := params[0].Node
	payload, sent, err := EncodeSend(cmd, params)
	if err != nil {
		return STATUS_COMMAND_ERROR, err
	}
	if sent < len(params) {
		log.Warnf("[MASTER] write truncated to fit payload cap: %d of %d parameters sent", sent, len(params))
	}

	if cmd != CmdSendParmWithAck {
		_, err := m.mux.send(node, kindWriteAck, nil, payload, func(Outcome) {})
		return STATUS_OK, err
	}

	if callback != nil {
		_, err := m.mux.send(node, kindWriteAck, nil, payload, func(out Outcome) {
			callback(out.Status)
		})
		return STATUS_OK, err
	}

	entry, err := m.mux.send(node, kindWriteAck, nil, payload, nil)
	if err != nil {
		return STATUS_COMMUNICATION_ERROR, err
	}
	out := m.mux.wait(entry)
	return out.Status, nil
}

// GetNodes walks the Propar network starting from the local instrument.
// With findFirst it first probes addresses 1..127 for the first
// responder using a reduced timeout; otherwise it starts directly from
// m.node.
func (m *Master) GetNodes(findFirst bool) ([]NodeInfo, error) {
	start := m.node
	if findFirst {
		addr, err := m.probeFirstNode()
		if err != nil {
			return nil, err
		}
		start = addr
	}

	var nodes []NodeInfo
	visited := make(map[uint8]bool)
	addr := start
	for {
		if visited[addr] {
			log.Debugf("[MASTER] network walk revisited node %d, stopping", addr)
			break
		}
		visited[addr] = true

		info, next, err := m.probeNode(addr)
		if err != nil {
			break
		}
		nodes = append(nodes, info)
		if next == 0 {
			break
		}
		addr = next
	}
	return nodes, nil
}

func (m *Master) probeFirstNode() (uint8, error) {
	saved := m.mux.getResponseTimeout()
	m.mux.SetResponseTimeout(findFirstProbeTimeout)
	defer m.mux.SetResponseTimeout(saved)

	for addr := uint8(1); addr <= 127 && addr != m.node; addr++ {
		out, _ := m.ReadParameters([]Descriptor{{Node: addr, ProcNr: 0, ParmNr: 1, ParmType: Int8}})
		if len(out) > 0 && out[0].Status.IsOK() {
			return addr, nil
		}
	}
	return 0, fmt.Errorf("propar: no responding node found")
}

// probeNode reads this node's own address, ID string and next-node
// address in one chained request, degrading to three single reads if
// the combined read is rejected; then resolves a device type.
func (m *Master) probeNode(addr uint8) (NodeInfo, uint8, error) {
	chained := []Descriptor{
		{Node: addr, ProcNr: 0, ParmNr: 1, ParmType: Int8},
		{Node: addr, ProcNr: 0, ParmNr: 0, ParmType: String, ParmSize: 0},
		{Node: addr, ProcNr: 0, ParmNr: 3, ParmType: Int8},
	}
	out, err := m.ReadParameters(chained)
	if err != nil || len(out) != 3 || !out[0].Status.IsOK() || !out[1].Status.IsOK() || !out[2].Status.IsOK() {
		out = nil
		for _, d := range chained {
			single, serr := m.ReadParameters([]Descriptor{d})
			if serr != nil || len(single) != 1 || !single[0].Status.IsOK() {
				return NodeInfo{}, 0, fmt.Errorf("propar: node %d did not respond to identification read", addr)
			}
			out = append(out, single[0])
		}
	}

	selfAddr, _ := toInt64(out[0].Data)
	id, _ := out[1].Data.(string)
	next, _ := toInt64(out[2].Data)

	info := NodeInfo{Address: uint8(selfAddr), ID: id, Serial: serialFromID(id)}
	info.Type = m.resolveDeviceType(addr, id)
	return info, uint8(next), nil
}

// serialFromID extracts the serial number from an identification string:
// the first three characters are a device-type prefix, the rest is the
// serial.
func serialFromID(id string) string {
	if len(id) <= 3 {
		return ""
	}
	return id[3:]
}

func (m *Master) resolveDeviceType(addr uint8, id string) string {
	out, err := m.ReadParameters([]Descriptor{{Node: addr, ProcNr: 113, ParmNr: 1, ParmType: String, ParmSize: 0}})
	if err == nil && len(out) == 1 && out[0].Status.IsOK() {
		if s, ok := out[0].Data.(string); ok && s != "" {
			return s
		}
	}
	if m.catalogue != nil && id != "" {
		return m.catalogue.LookupDeviceType(id[0])
	}
	return ""
}
