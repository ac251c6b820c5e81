package xcom

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

func testDataset() *Dataset {
	return NewDataset([]*Datapoint{
		{Family: "xt", Level: LevelInfo, Nr: 3000, Name: "Battery voltage", Abbr: "bat_voltage", Unit: "Vdc", Format: FormatFloat, Bounds: Signal{}},
		{Family: "xt", Level: LevelInfo, Nr: 3028, Name: "Operating state", Abbr: "state", Format: FormatShortEnum, Bounds: Signal{},
			Options: []EnumOption{{0, "Invalid"}, {1, "Inverter"}, {2, "Charger"}}},
		{Family: "xt", Level: LevelExpert, Parent: 1100, Nr: 1107, Name: "Maximum current of AC source", Unit: "Aac",
			Format: FormatFloat, Bounds: Bounded{Default: f64(32), Min: f64(2), Max: f64(50), Inc: f64(2)}},
	})
}

func f64(v float64) *float64 { return &v }

// startTestServer binds a server to an ephemeral loopback port so tests
// can play the gateway side of the connection.
func startTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()

	base := []Option{
		WithListenAddr("127.0.0.1"),
		WithPort(0),
		WithDataset(testDataset()),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithTimeout(500 * time.Millisecond),
	}
	srv, err := NewServer(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv
}

// dialGateway connects to the server like the Moxa gateway would and waits
// for the server to register the peer.
func dialGateway(t *testing.T, srv *Server) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", srv.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial server: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for !srv.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("server never registered the peer")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

// respond writes a response package for req back over the gateway side.
func respond(t *testing.T, conn net.Conn, req *Package, payload []byte, code ErrorCode) {
	t.Helper()

	flags := uint8(frameFlagResponse)
	if code != ErrorCodeNone {
		flags |= frameFlagError
		payload = []byte{byte(code), byte(code >> 8)}
	}

	resp := NewRequest(req.Frame.ServiceID, req.Frame.ObjectType, req.Frame.ObjectID,
		req.Frame.PropertyID, payload, req.Header.DstAddr, req.Header.SrcAddr)
	resp.Frame.Flags = flags

	if _, err := conn.Write(resp.Assemble()); err != nil {
		t.Errorf("gateway write: %v", err)
	}
}

func TestServerNotConnected(t *testing.T) {
	srv := startTestServer(t)

	dp, err := srv.Dataset().GetByNr(3000, "xt")
	if err != nil {
		t.Fatal(err)
	}

	_, err = srv.RequestValue(context.Background(), dp, 101)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("RequestValue() error = %v, want ErrNotConnected", err)
	}
	if got := srv.Metrics().RequestsSent.Value(); got != 0 {
		t.Errorf("requests sent = %d, want 0", got)
	}
}

func TestServerRequestValue(t *testing.T) {
	srv := startTestServer(t)
	conn := dialGateway(t, srv)

	go func() {
		req, err := ParsePackage(conn)
		if err != nil {
			t.Errorf("gateway parse: %v", err)
			return
		}
		if req.Frame.ServiceID != ServiceRead || req.Frame.ObjectID != 3000 ||
			req.Frame.PropertyID != PropertyValue {
			t.Errorf("unexpected request: %s", req)
			return
		}
		payload, _ := Pack(float32(48.5), FormatFloat)
		respond(t, conn, req, payload, ErrorCodeNone)
	}()

	dp, _ := srv.Dataset().GetByNr(3000, "xt")
	value, err := srv.RequestValue(context.Background(), dp, 101)
	if err != nil {
		t.Fatalf("RequestValue() error = %v", err)
	}
	if got, ok := value.(float32); !ok || got != 48.5 {
		t.Errorf("value = %v (%T), want 48.5 (float32)", value, value)
	}
	if got := srv.Metrics().ResponsesReceived.Value(); got != 1 {
		t.Errorf("responses received = %d, want 1", got)
	}
}

func TestServerDiscardsUnrelatedPackages(t *testing.T) {
	srv := startTestServer(t)
	conn := dialGateway(t, srv)

	go func() {
		req, err := ParsePackage(conn)
		if err != nil {
			t.Errorf("gateway parse: %v", err)
			return
		}

		// Unsolicited traffic for another datapoint arrives first.
		stray := NewRequest(ServiceRead, ObjectTypeInfo, 3081, PropertyValue,
			[]byte{0x00, 0x00, 0x00, 0x00}, req.Header.DstAddr, req.Header.SrcAddr)
		stray.Frame.Flags = frameFlagResponse
		conn.Write(stray.Assemble())

		payload, _ := Pack(float32(51.2), FormatFloat)
		respond(t, conn, req, payload, ErrorCodeNone)
	}()

	dp, _ := srv.Dataset().GetByNr(3000, "xt")
	value, err := srv.RequestValue(context.Background(), dp, 101)
	if err != nil {
		t.Fatalf("RequestValue() error = %v", err)
	}
	if got := value.(float32); got != 51.2 {
		t.Errorf("value = %v, want 51.2", got)
	}
	if got := srv.Metrics().PackagesDiscarded.Value(); got != 1 {
		t.Errorf("packages discarded = %d, want 1", got)
	}
}

func TestServerRemoteError(t *testing.T) {
	srv := startTestServer(t, WithRetryOnRemoteError(false))
	conn := dialGateway(t, srv)

	go func() {
		req, err := ParsePackage(conn)
		if err != nil {
			t.Errorf("gateway parse: %v", err)
			return
		}
		respond(t, conn, req, nil, ErrorCodeGatewayBusy)
	}()

	dp, _ := srv.Dataset().GetByNr(3000, "xt")
	_, err := srv.RequestValue(context.Background(), dp, 101)
	if err == nil {
		t.Fatal("RequestValue() succeeded, want remote error")
	}
	code, ok := IsRemote(err)
	if !ok || code != ErrorCodeGatewayBusy {
		t.Fatalf("IsRemote() = (%v, %v), want (gateway-busy, true)", code, ok)
	}
	if got := srv.Metrics().RequestRetries.Value(); got != 0 {
		t.Errorf("request retries = %d, want 0 with retry disabled", got)
	}
}

func TestServerRetriesThenTimesOut(t *testing.T) {
	srv := startTestServer(t, WithRetries(2), WithTimeout(150*time.Millisecond))
	conn := dialGateway(t, srv)

	var seen atomic.Int64
	go func() {
		for {
			if _, err := ParsePackage(conn); err != nil {
				return
			}
			seen.Add(1)
			// Never answer; the bus side of the gateway is down.
		}
	}()

	dp, _ := srv.Dataset().GetByNr(3000, "xt")
	_, err := srv.RequestValue(context.Background(), dp, 101)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("RequestValue() error = %v, want ErrTimeout", err)
	}

	deadline := time.Now().Add(time.Second)
	for seen.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := seen.Load(); got != 2 {
		t.Errorf("gateway saw %d requests, want 2", got)
	}
	if got := srv.Metrics().RequestsTimedOut.Value(); got != 2 {
		t.Errorf("requests timed out = %d, want 2", got)
	}
}

func TestServerRetriesMalformedResponse(t *testing.T) {
	srv := startTestServer(t, WithRetries(3))
	conn := dialGateway(t, srv)

	go func() {
		req, err := ParsePackage(conn)
		if err != nil {
			t.Errorf("gateway parse: %v", err)
			return
		}
		// First answer is matched but carries a truncated float payload.
		respond(t, conn, req, []byte{0x00, 0x00, 0x40}, ErrorCodeNone)

		req, err = ParsePackage(conn)
		if err != nil {
			t.Errorf("gateway parse retry: %v", err)
			return
		}
		payload, _ := Pack(float32(3.0), FormatFloat)
		respond(t, conn, req, payload, ErrorCodeNone)
	}()

	dp, _ := srv.Dataset().GetByNr(3000, "xt")
	value, err := srv.RequestValue(context.Background(), dp, 101)
	if err != nil {
		t.Fatalf("RequestValue() error = %v", err)
	}
	if got := value.(float32); got != 3.0 {
		t.Errorf("value = %v, want 3.0", got)
	}
	if got := srv.Metrics().UnpackErrors.Value(); got != 1 {
		t.Errorf("unpack errors = %d, want 1", got)
	}
	if got := srv.Metrics().RequestRetries.Value(); got != 1 {
		t.Errorf("request retries = %d, want 1", got)
	}
}

func TestServerUpdateValue(t *testing.T) {
	srv := startTestServer(t)
	conn := dialGateway(t, srv)

	go func() {
		req, err := ParsePackage(conn)
		if err != nil {
			t.Errorf("gateway parse: %v", err)
			return
		}
		if req.Frame.ServiceID != ServiceWrite || req.Frame.PropertyID != PropertyUnsavedValue {
			t.Errorf("unexpected request: %s", req)
			return
		}
		want, _ := Pack(float32(12), FormatFloat)
		if len(req.Frame.PropertyData) != len(want) {
			t.Errorf("payload = %x, want %x", req.Frame.PropertyData, want)
		}
		respond(t, conn, req, nil, ErrorCodeNone)
	}()

	dp, _ := srv.Dataset().GetByNr(1107, "xt")
	ok, err := srv.UpdateValue(context.Background(), dp, 12.0, 100)
	if err != nil {
		t.Fatalf("UpdateValue() error = %v", err)
	}
	if !ok {
		t.Error("UpdateValue() = false, want true")
	}
}

func TestServerRejectsWriteToInfo(t *testing.T) {
	srv := startTestServer(t)
	dialGateway(t, srv)

	dp, _ := srv.Dataset().GetByNr(3000, "xt")
	ok, err := srv.UpdateValue(context.Background(), dp, 48.0, 101)
	if err != nil {
		t.Fatalf("UpdateValue() error = %v, want silent refusal", err)
	}
	if ok {
		t.Error("UpdateValue() = true for a read-only datapoint")
	}
	if got := srv.Metrics().RequestsSent.Value(); got != 0 {
		t.Errorf("requests sent = %d, want 0 for refused write", got)
	}
}

func TestServerRejectsSecondPeer(t *testing.T) {
	srv := startTestServer(t)
	first := dialGateway(t, srv)

	second, err := net.Dial("tcp", srv.LocalAddr().String())
	if err != nil {
		t.Fatalf("second dial: %v", err)
	}
	defer second.Close()

	// The server closes the intruder right after accept.
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := second.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("second peer read error = %v, want EOF", err)
	}

	// The first peer is unaffected.
	go func() {
		req, err := ParsePackage(first)
		if err != nil {
			t.Errorf("gateway parse: %v", err)
			return
		}
		payload, _ := Pack(float32(49.9), FormatFloat)
		respond(t, first, req, payload, ErrorCodeNone)
	}()

	dp, _ := srv.Dataset().GetByNr(3000, "xt")
	if _, err := srv.RequestValue(context.Background(), dp, 101); err != nil {
		t.Fatalf("RequestValue() after rejected peer: %v", err)
	}
	if got := srv.Metrics().PeerRejects.Value(); got != 1 {
		t.Errorf("peer rejects = %d, want 1", got)
	}
}

func TestServerLookupResolvesPhaseFamilies(t *testing.T) {
	srv := startTestServer(t)

	// L1 shares the Xtender numbering, so a lookup against an L1 address
	// must resolve xt datapoints.
	dp, err := srv.lookup(3000, 191)
	if err != nil {
		t.Fatalf("lookup() error = %v", err)
	}
	if dp.Family != "xt" {
		t.Errorf("family = %q, want xt", dp.Family)
	}
}

func TestServerDiscover(t *testing.T) {
	srv := startTestServer(t, WithRetries(1), WithTimeout(200*time.Millisecond))
	conn := dialGateway(t, srv)

	// Two Xtenders at 101 and 102; 103 and beyond stay silent.
	go func() {
		for {
			req, err := ParsePackage(conn)
			if err != nil {
				return
			}
			if req.Header.DstAddr != 101 && req.Header.DstAddr != 102 {
				continue
			}
			payload, _ := Pack(float32(48.0), FormatFloat)
			respond(t, conn, req, payload, ErrorCodeNone)
		}
	}()

	devices, err := srv.Discover(context.Background(),
		WithFamilies("xt"),
		WithDiscoverTimeout(200*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("discovered %d devices, want 2", len(devices))
	}
	if devices[0].Code != "XT1" || devices[0].Addr != 101 {
		t.Errorf("first device = %s addr %d, want XT1 at 101", devices[0].Code, devices[0].Addr)
	}
	if devices[1].Code != "XT2" || devices[1].Addr != 102 {
		t.Errorf("second device = %s addr %d, want XT2 at 102", devices[1].Code, devices[1].Addr)
	}
}
