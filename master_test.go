package propar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMaster(t *testing.T) (*Master, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	m := NewMaster(ft, LocalNode)
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Stop() })
	return m, ft
}

// autoRespond starts a goroutine that inspects every frame the master
// writes and, via respond, injects a canned reply built from the
// decoded seq/node. It stops when the test cleans up the transport.
func autoRespond(t *testing.T, ft *fakeTransport, respond func(seq, node uint8) []byte) {
	t.Helper()
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go func() {
		framer := NewBinaryFramer()
		seen := 0
		for {
			select {
			case <-stop:
				return
			default:
			}
			ft.mu.Lock()
			n := len(ft.written)
			ft.mu.Unlock()
			if n > seen {
				ft.mu.Lock()
				wire := ft.written[seen]
				ft.mu.Unlock()
				seen = n
				for _, b := range wire {
					if fr, ok := framer.Decode(b); ok {
						reply := respond(fr.Seq, fr.Node)
						if reply != nil {
							ft.inject(NewBinaryFramer().Encode(Frame{Seq: fr.Seq, Node: fr.Node, Payload: reply}))
						}
					}
				}
			}
			time.Sleep(time.Millisecond)
		}
	}()
}

func TestMasterRead(t *testing.T) {
	m, ft := newTestMaster(t)
	autoRespond(t, ft, func(seq, node uint8) []byte {
		return []byte{byte(CmdSendParm), 0x01, 0x21, 0x7F, 0xFF} // proc=1, parm=1 INT16, value 0x7FFF
	})

	val, status := m.Read(LocalNode, 1, 1, Int16)
	require.True(t, status.IsOK())
	assert.EqualValues(t, 0x7FFF, val)
}

func TestMasterWriteAck(t *testing.T) {
	m, ft := newTestMaster(t)
	autoRespond(t, ft, func(seq, node uint8) []byte {
		return []byte{0x00, 0x00} // STATUS(0), STATUS_OK
	})

	ok := m.Write(LocalNode, 1, 1, Int32, 1234)
	assert.True(t, ok)
}

func TestMasterWriteAckNotOK(t *testing.T) {
	m, ft := newTestMaster(t)
	autoRespond(t, ft, func(seq, node uint8) []byte {
		return []byte{0x00, byte(STATUS_READONLY)}
	})

	ok := m.Write(LocalNode, 1, 1, Int32, 1234)
	assert.False(t, ok)
}

func TestMasterBroadcastCallback(t *testing.T) {
	m, ft := newTestMaster(t)

	received := make(chan []Descriptor, 1)
	m.SetBroadcastCallback(func(p []Descriptor) { received <- p })

	body := []byte{byte(CmdSendParmBroadcast), 0x01, 0x20, 0x3A, 0x98} // proc1 parm0 INT16 15000
	wire := NewBinaryFramer().Encode(Frame{Seq: 0x77, Node: 0x02, Payload: body})
	ft.inject(wire)

	select {
	case p := <-received:
		require.Len(t, p, 1)
		assert.EqualValues(t, 15000, p[0].Data)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("broadcast callback never fired")
	}
}

func TestMasterReadDDE(t *testing.T) {
	m, ft := newTestMaster(t)
	cat, err := LoadCatalogue("testdata/catalogue.json")
	require.NoError(t, err)
	m.SetCatalogue(cat)

	// DDE 9 is setpoint (proc=1, parm=1, BSINT16); reply with the wire
	// Int16 pattern 0xA3D7, which repairs to -23593.
	autoRespond(t, ft, func(seq, node uint8) []byte {
		return []byte{byte(CmdSendParm), 0x01, 0x01 | 0x20, 0xA3, 0xD7}
	})

	val, status, err := m.ReadDDE(LocalNode, 9)
	require.NoError(t, err)
	require.True(t, status.IsOK())
	assert.EqualValues(t, -23593, val)
}

func TestMasterReadDDEUnknownNumber(t *testing.T) {
	m, _ := newTestMaster(t)
	cat, err := LoadCatalogue("testdata/catalogue.json")
	require.NoError(t, err)
	m.SetCatalogue(cat)

	_, _, err = m.ReadDDE(LocalNode, 99999)
	assert.ErrorIs(t, err, ErrCatalogueLookup)
}

func TestGetNodesDerivesSerialFromID(t *testing.T) {
	m, ft := newTestMaster(t)

	// The identification string carries a three-character device-type
	// prefix followed by the serial number.
	const idString = "M21SN012345A"
	autoRespond(t, ft, func(seq, node uint8) []byte {
		params := []Descriptor{
			{ProcNr: 0, ParmNr: 1, ParmType: Int8, Data: int64(node)},
			{ProcNr: 0, ParmNr: 0, ParmType: String, Data: idString},
			{ProcNr: 0, ParmNr: 3, ParmType: Int8, Data: int64(0)},
		}
		payload, _, _ := EncodeSend(CmdSendParm, params)
		return payload
	})

	nodes, err := m.GetNodes(false)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, idString, nodes[0].ID)
	assert.Equal(t, "SN012345A", nodes[0].Serial)
	assert.NotEqual(t, nodes[0].ID, nodes[0].Serial)
}

func TestGetNodesStopsOnLoop(t *testing.T) {
	m, ft := newTestMaster(t)

	// Every node reports itself as its own next address: a one-node
	// self-loop the walk must detect and stop on.
	autoRespond(t, ft, func(seq, node uint8) []byte {
		params := []Descriptor{
			{ProcNr: 0, ParmNr: 1, ParmType: Int8, Data: int64(node)},
			{ProcNr: 0, ParmNr: 0, ParmType: String, Data: "X"},
			{ProcNr: 0, ParmNr: 3, ParmType: Int8, Data: int64(node)},
		}
		payload, _, _ := EncodeSend(CmdSendParm, params)
		return payload
	})

	nodes, err := m.GetNodes(false)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, m.node, nodes[0].Address)
}
