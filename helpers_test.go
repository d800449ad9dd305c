package propar

import "sync"

// fakeTransport is an in-memory Transport used by multiplexer and
// master tests: test code injects bytes for the reader loop to consume
// and inspects what got written, so the client can be exercised without
// real hardware.
type fakeTransport struct {
	mu      sync.Mutex
	toRead  []byte
	written [][]byte
	opened  bool
}

func (f *fakeTransport) Open() error {
	f.mu.Lock()
	f.opened = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.opened = false
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Write(b []byte) (int, error) {
	f.mu.Lock()
	f.written = append(f.written, append([]byte(nil), b...))
	f.mu.Unlock()
	return len(b), nil
}

func (f *fakeTransport) Read(n int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.toRead) == 0 {
		return nil, nil
	}
	if n > len(f.toRead) {
		n = len(f.toRead)
	}
	out := append([]byte(nil), f.toRead[:n]...)
	f.toRead = f.toRead[n:]
	return out, nil
}

func (f *fakeTransport) InWaiting() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.toRead), nil
}

func (f *fakeTransport) SetBaudrate(int) error { return nil }

// inject queues bytes for the next Read calls to return, as if they had
// arrived on the wire.
func (f *fakeTransport) inject(b []byte) {
	f.mu.Lock()
	f.toRead = append(f.toRead, b...)
	f.mu.Unlock()
}

func (f *fakeTransport) lastWrite() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.written) == 0 {
		return nil
	}
	return f.written[len(f.written)-1]
}
