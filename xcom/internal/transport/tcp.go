// Package transport provides the passive TCP listener the Xcom-LAN gateway
// dials into.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// ErrNoPeer is returned by Send and Receive while no gateway is attached.
var ErrNoPeer = errors.New("transport: no peer connected")

// TCPServer accepts a single inbound connection. The Moxa gateway is the
// dialing side; a second connection while one is active is closed on accept.
type TCPServer struct {
	listenAddr   string
	port         int
	logger       *slog.Logger
	readTimeout  time.Duration
	writeTimeout time.Duration

	mu       sync.RWMutex
	listener net.Listener
	peer     net.Conn
	started  bool
	closed   bool

	// OnConnect and OnDisconnect are invoked from the accept loop, after
	// the peer field is updated. Set before Start.
	OnConnect    func(remote net.Addr)
	OnDisconnect func(remote net.Addr)
	OnReject     func(remote net.Addr)

	wg sync.WaitGroup
}

// NewTCPServer creates a listener for the given address and port.
func NewTCPServer(listenAddr string, port int, logger *slog.Logger) *TCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TCPServer{
		listenAddr:   listenAddr,
		port:         port,
		logger:       logger,
		readTimeout:  3 * time.Second,
		writeTimeout: 3 * time.Second,
	}
}

// SetReadTimeout sets the default read timeout
func (t *TCPServer) SetReadTimeout(d time.Duration) {
	t.mu.Lock()
	t.readTimeout = d
	t.mu.Unlock()
}

// SetWriteTimeout sets the default write timeout
func (t *TCPServer) SetWriteTimeout(d time.Duration) {
	t.mu.Lock()
	t.writeTimeout = d
	t.mu.Unlock()
}

// Start opens the listener and begins accepting. Calling Start on a server
// that is already running is a no-op.
func (t *TCPServer) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", t.listenAddr, t.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen TCP: %w", err)
	}

	t.listener = listener
	t.started = true
	t.closed = false

	t.wg.Add(1)
	go t.acceptLoop(listener)

	t.logger.Info("listening for gateway", "addr", listener.Addr().String())
	return nil
}

func (t *TCPServer) acceptLoop(listener net.Listener) {
	defer t.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			// Listener closed during Stop, or a transient accept error.
			t.mu.RLock()
			closed := t.closed
			t.mu.RUnlock()
			if closed {
				return
			}
			t.logger.Warn("accept failed", "error", err)
			return
		}

		t.mu.Lock()
		if t.peer != nil {
			t.mu.Unlock()
			t.logger.Warn("rejecting second gateway connection", "remote", conn.RemoteAddr().String())
			_ = conn.Close()
			if t.OnReject != nil {
				t.OnReject(conn.RemoteAddr())
			}
			continue
		}
		t.peer = conn
		t.mu.Unlock()

		t.logger.Info("gateway connected", "remote", conn.RemoteAddr().String())
		if t.OnConnect != nil {
			t.OnConnect(conn.RemoteAddr())
		}
	}
}

// Connected reports whether a gateway peer is currently attached.
func (t *TCPServer) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.peer != nil
}

// LocalAddr returns the listener address, or nil before Start.
func (t *TCPServer) LocalAddr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Send writes data to the attached peer.
func (t *TCPServer) Send(ctx context.Context, data []byte) error {
	t.mu.RLock()
	peer := t.peer
	writeTimeout := t.writeTimeout
	t.mu.RUnlock()

	if peer == nil {
		return ErrNoPeer
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}
	if err := peer.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	n, err := peer.Write(data)
	if err != nil {
		t.dropPeer(peer)
		return fmt.Errorf("write TCP: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("partial write: %d of %d bytes", n, len(data))
	}

	return nil
}

// Receive fills buf from the attached peer, returning the number of bytes
// read. A closed or failed peer connection is detached so a reconnecting
// gateway can attach again.
func (t *TCPServer) Receive(ctx context.Context, buf []byte) (int, error) {
	t.mu.RLock()
	peer := t.peer
	readTimeout := t.readTimeout
	t.mu.RUnlock()

	if peer == nil {
		return 0, ErrNoPeer
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(readTimeout)
	}
	if err := peer.SetReadDeadline(deadline); err != nil {
		return 0, fmt.Errorf("set read deadline: %w", err)
	}

	n, err := peer.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return n, err
		}
		t.dropPeer(peer)
		return n, err
	}
	return n, nil
}

// dropPeer detaches the given connection if it is still the current peer.
func (t *TCPServer) dropPeer(peer net.Conn) {
	t.mu.Lock()
	if t.peer != peer {
		t.mu.Unlock()
		return
	}
	t.peer = nil
	t.mu.Unlock()

	_ = peer.Close()
	t.logger.Info("gateway disconnected", "remote", peer.RemoteAddr().String())
	if t.OnDisconnect != nil {
		t.OnDisconnect(peer.RemoteAddr())
	}
}

// Stop closes the peer connection and the listener. Errors during teardown
// are logged, never returned; Stop is safe to call more than once and waits
// briefly for the accept loop to finish.
func (t *TCPServer) Stop() {
	t.mu.Lock()
	if !t.started || t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.started = false
	peer := t.peer
	listener := t.listener
	t.peer = nil
	t.listener = nil
	t.mu.Unlock()

	if peer != nil {
		if err := peer.Close(); err != nil {
			t.logger.Warn("close peer failed", "error", err)
		}
	}
	if listener != nil {
		if err := listener.Close(); err != nil {
			t.logger.Warn("close listener failed", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.logger.Warn("accept loop did not stop in time")
	}
}
