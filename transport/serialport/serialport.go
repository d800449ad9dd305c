// Package serialport is the default propar.Transport implementation, a
// thin adapter over github.com/tarm/serial. It is a swappable adapter,
// not a core dependency: the protocol engine only ever sees the
// propar.Transport interface.
package serialport

import (
	"sync"
	"time"

	"github.com/tarm/serial"
)

// Port opens a real serial device for a propar.Master.
type Port struct {
	mu   sync.Mutex
	cfg  serial.Config
	port *serial.Port
}

// New builds a Port bound to name at baud, with the given read timeout.
// tarm/serial has no per-call write timeout, so writeTimeout is accepted
// for interface symmetry but not applied.
func New(name string, baud int, readTimeout, writeTimeout time.Duration) *Port {
	return &Port{
		cfg: serial.Config{
			Name:        name,
			Baud:        baud,
			Size:        8,
			Parity:      serial.ParityNone,
			StopBits:    serial.Stop1,
			ReadTimeout: readTimeout,
		},
	}
}

func (p *Port) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	port, err := serial.OpenPort(&p.cfg)
	if err != nil {
		return err
	}
	p.port = port
	return nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	return err
}

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	port := p.port
	p.mu.Unlock()
	if port == nil {
		return 0, nil
	}
	return port.Write(b)
}

// Read returns whatever is available up to n bytes, blocking up to the
// configured read timeout.
func (p *Port) Read(n int) ([]byte, error) {
	p.mu.Lock()
	port := p.port
	p.mu.Unlock()
	if port == nil {
		return nil, nil
	}
	buf := make([]byte, n)
	k, err := port.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:k], nil
}

// InWaiting is not exposed by tarm/serial; the reader loop's own
// idle-sleep/poll cadence tolerates always reporting zero here.
func (p *Port) InWaiting() (int, error) {
	return 0, nil
}

// SetBaudrate reopens the port at the new baudrate, since tarm/serial
// has no live baud-change call.
func (p *Port) SetBaudrate(baud int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.Baud = baud
	if p.port == nil {
		return nil
	}
	if err := p.port.Close(); err != nil {
		return err
	}
	port, err := serial.OpenPort(&p.cfg)
	if err != nil {
		return err
	}
	p.port = port
	return nil
}
