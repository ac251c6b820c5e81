package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

func newTestServer(t *testing.T) *TCPServer {
	t.Helper()
	srv := NewTCPServer("127.0.0.1", 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv.SetReadTimeout(500 * time.Millisecond)
	srv.SetWriteTimeout(500 * time.Millisecond)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv
}

func dialPeer(t *testing.T, srv *TCPServer) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", srv.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for !srv.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("peer never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestStartIsIdempotent(t *testing.T) {
	srv := newTestServer(t)

	addr := srv.LocalAddr().String()
	if err := srv.Start(); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if got := srv.LocalAddr().String(); got != addr {
		t.Errorf("address changed across Start calls: %s != %s", got, addr)
	}
}

func TestStopBeforeStart(t *testing.T) {
	srv := NewTCPServer("127.0.0.1", 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	// Must not panic or block.
	srv.Stop()
	srv.Stop()
}

func TestSendReceiveNoPeer(t *testing.T) {
	srv := newTestServer(t)

	if err := srv.Send(context.Background(), []byte{0x01}); !errors.Is(err, ErrNoPeer) {
		t.Errorf("Send() error = %v, want ErrNoPeer", err)
	}
	if _, err := srv.Receive(context.Background(), make([]byte, 1)); !errors.Is(err, ErrNoPeer) {
		t.Errorf("Receive() error = %v, want ErrNoPeer", err)
	}
}

func TestSendReceive(t *testing.T) {
	srv := newTestServer(t)
	conn := dialPeer(t, srv)

	if err := srv.Send(context.Background(), []byte("ping")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if !bytes.Equal(buf, []byte("ping")) {
		t.Errorf("peer got %q, want ping", buf)
	}

	if _, err := conn.Write([]byte("pong")); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	got := make([]byte, 4)
	if _, err := io.ReadFull(&serverReader{srv}, got); err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if !bytes.Equal(got, []byte("pong")) {
		t.Errorf("Receive() = %q, want pong", got)
	}
}

type serverReader struct{ t *TCPServer }

func (r *serverReader) Read(p []byte) (int, error) {
	return r.t.Receive(context.Background(), p)
}

func TestReceiveTimeoutKeepsPeer(t *testing.T) {
	srv := newTestServer(t)
	dialPeer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := srv.Receive(ctx, make([]byte, 1))
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("Receive() error = %v, want net timeout", err)
	}
	if !srv.Connected() {
		t.Error("peer dropped after a read timeout")
	}
}

func TestPeerDisconnectDetaches(t *testing.T) {
	srv := newTestServer(t)
	conn := dialPeer(t, srv)

	var disconnected atomic.Bool
	srv.OnDisconnect = func(net.Addr) { disconnected.Store(true) }

	conn.Close()

	// The disconnect is noticed on the next read.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := srv.Receive(ctx, make([]byte, 1)); err == nil {
		t.Fatal("Receive() succeeded on a closed peer")
	}
	if srv.Connected() {
		t.Error("closed peer still attached")
	}
	if !disconnected.Load() {
		t.Error("OnDisconnect not called")
	}
}
