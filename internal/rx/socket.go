package rx

import (
	"net"
	"sync"
	"time"
)

// UDPSocket is the subset of *net.UDPConn the engine uses. It lets tests
// drive the receive loop without a real network.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// UDPSocketFactory opens sockets.
type UDPSocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// RealUDPSocketFactory opens sockets with net.ListenUDP.
type RealUDPSocketFactory struct{}

// ListenUDP implements UDPSocketFactory.
func (RealUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// MockUDPPacket is one datagram queued on a MockUDPSocket.
type MockUDPPacket struct {
	Data []byte
	Addr *net.UDPAddr
}

// MockUDPSocket is an in-memory UDPSocket. Reads block until a datagram is
// pushed, the read deadline passes or the socket is closed.
type MockUDPSocket struct {
	packets   chan MockUDPPacket
	closed    chan struct{}
	closeOnce sync.Once

	mu             sync.Mutex
	readDeadline   time.Time
	readErr        error
	readBufferSize int
	localAddr      *net.UDPAddr
}

// NewMockUDPSocket returns a socket preloaded with packets.
func NewMockUDPSocket(packets ...MockUDPPacket) *MockUDPSocket {
	m := &MockUDPSocket{
		packets:   make(chan MockUDPPacket, len(packets)+1024),
		closed:    make(chan struct{}),
		localAddr: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9001},
	}
	for _, p := range packets {
		m.packets <- p
	}
	return m
}

// Push queues a datagram for the reader.
func (m *MockUDPSocket) Push(data []byte) {
	m.packets <- MockUDPPacket{Data: append([]byte(nil), data...)}
}

// FailNextRead makes the next read return err.
func (m *MockUDPSocket) FailNextRead(err error) {
	m.mu.Lock()
	m.readErr = err
	m.mu.Unlock()
}

// Pending returns the number of datagrams not yet read.
func (m *MockUDPSocket) Pending() int { return len(m.packets) }

// ReadFromUDP implements UDPSocket.
func (m *MockUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	deadline := m.readDeadline
	err := m.readErr
	m.readErr = nil
	m.mu.Unlock()

	if err != nil {
		return 0, nil, err
	}

	var expired <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-m.closed:
		return 0, nil, net.ErrClosed
	case p := <-m.packets:
		return copy(b, p.Data), p.Addr, nil
	case <-expired:
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: timeoutError{}}
	}
}

// SetReadBuffer implements UDPSocket.
func (m *MockUDPSocket) SetReadBuffer(bytes int) error {
	m.mu.Lock()
	m.readBufferSize = bytes
	m.mu.Unlock()
	return nil
}

// ReadBufferSize returns the value last passed to SetReadBuffer.
func (m *MockUDPSocket) ReadBufferSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readBufferSize
}

// SetReadDeadline implements UDPSocket.
func (m *MockUDPSocket) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	m.readDeadline = t
	m.mu.Unlock()
	return nil
}

// Close implements UDPSocket.
func (m *MockUDPSocket) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

// LocalAddr implements UDPSocket.
func (m *MockUDPSocket) LocalAddr() net.Addr { return m.localAddr }

// MockUDPSocketFactory hands out one MockUDPSocket.
type MockUDPSocketFactory struct {
	Socket *MockUDPSocket
	Err    error
	Calls  []string
}

// ListenUDP implements UDPSocketFactory.
func (f *MockUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	f.Calls = append(f.Calls, network+" "+laddr.String())
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Socket, nil
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
