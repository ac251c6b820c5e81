// Copyright 2025 ankohanse
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package xcom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ankohanse/xcom-go/xcom/internal/transport"
)

// ServerState represents the server lifecycle state
type ServerState int32

const (
	StateStopped ServerState = iota
	StateListening
	StateConnected
)

func (s ServerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateListening:
		return "listening"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Server speaks the Xcom protocol with a gateway that dials into it. The bus
// behind the gateway is half-duplex, so requests are serialized: one request
// owns the wire from send until its response, timeout or failure.
type Server struct {
	opts      *serverOptions
	transport *transport.TCPServer

	state atomic.Int32

	// requestMu serializes request/response exchanges on the wire.
	requestMu sync.Mutex

	metrics *Metrics
	logger  *slog.Logger
}

// NewServer creates a server with the given options. Start must be called
// before requests can be served.
func NewServer(opts ...Option) (*Server, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.dataset == nil {
		ds, err := DefaultDataset()
		if err != nil {
			return nil, fmt.Errorf("load dataset: %w", err)
		}
		options.dataset = ds
	}

	s := &Server{
		opts:    options,
		metrics: NewMetrics(),
		logger:  options.logger,
	}

	s.transport = transport.NewTCPServer(options.listenAddr, options.port, options.logger)
	s.transport.SetReadTimeout(options.timeout)
	s.transport.SetWriteTimeout(options.timeout)
	s.transport.OnConnect = func(remote net.Addr) {
		s.state.Store(int32(StateConnected))
		s.metrics.PeerConnects.Inc()
	}
	s.transport.OnDisconnect = func(remote net.Addr) {
		if s.state.Load() == int32(StateConnected) {
			s.state.Store(int32(StateListening))
		}
		s.metrics.PeerDisconnects.Inc()
	}
	s.transport.OnReject = func(remote net.Addr) {
		s.metrics.PeerRejects.Inc()
	}

	return s, nil
}

// Start opens the listener. It returns once the listener is bound; the
// gateway attaches whenever it dials in. Start on a running server is a
// no-op.
func (s *Server) Start() error {
	if s.state.Load() != int32(StateStopped) {
		return nil
	}
	if err := s.transport.Start(); err != nil {
		return fmt.Errorf("start listener: %w", err)
	}
	s.state.Store(int32(StateListening))
	return nil
}

// Stop tears the server down: peer connection first, then the listener.
// Teardown failures are logged by the transport, never raised.
func (s *Server) Stop() {
	if s.state.Load() == int32(StateStopped) {
		return
	}
	s.state.Store(int32(StateStopped))
	s.transport.Stop()
	s.logger.Info("stopped")
}

// State returns the current lifecycle state
func (s *Server) State() ServerState {
	return ServerState(s.state.Load())
}

// Connected reports whether the gateway is currently attached.
func (s *Server) Connected() bool {
	return s.transport.Connected()
}

// LocalAddr returns the listener address, or nil before Start.
func (s *Server) LocalAddr() net.Addr {
	return s.transport.LocalAddr()
}

// Metrics returns the server metrics
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Dataset returns the datapoint dictionary the server resolves against.
func (s *Server) Dataset() *Dataset {
	return s.opts.dataset
}

// transportReader adapts the transport's Receive to io.Reader so response
// packages can be parsed straight off the wire.
type transportReader struct {
	t       *transport.TCPServer
	ctx     context.Context
	metrics *Metrics
}

func (r *transportReader) Read(p []byte) (int, error) {
	n, err := r.t.Receive(r.ctx, p)
	if n > 0 {
		r.metrics.BytesReceived.Add(int64(n))
	}
	return n, err
}

// matches reports whether pkg answers the given request. Packages that
// answer something else (stale responses from an earlier attempt, or traffic
// for another tool on the same bus) are the caller's to discard.
func matches(pkg, req *Package) bool {
	return pkg.IsResponse() &&
		pkg.Frame.ServiceID == req.Frame.ServiceID &&
		pkg.Frame.ObjectID == req.Frame.ObjectID &&
		pkg.Frame.PropertyID == req.Frame.PropertyID
}

// sendRequest performs one request/response exchange with retries. It holds
// the wire for the whole exchange. A non-nil decode runs on the matched
// response inside the retry loop; a decode failure burns the attempt like a
// read failure does, since malformed frames are transient.
func (s *Server) sendRequest(ctx context.Context, req *Package, decode func(*Package) (interface{}, error)) (interface{}, error) {
	if !s.Connected() {
		return nil, ErrNotConnected
	}

	s.requestMu.Lock()
	defer s.requestMu.Unlock()

	s.metrics.ActiveRequests.Inc()
	defer s.metrics.ActiveRequests.Dec()

	data := req.Assemble()

	var lastErr error
	for attempt := 0; attempt < s.opts.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 0 {
			s.metrics.RequestRetries.Inc()
			s.logger.Debug("retrying request",
				slog.Int("attempt", attempt+1),
				slog.String("request", req.String()),
				slog.String("error", lastErr.Error()),
			)
		}

		resp, err := s.attempt(ctx, req, data)
		if err == nil {
			if decode == nil {
				return nil, nil
			}
			value, derr := decode(resp)
			if derr == nil {
				return value, nil
			}
			s.metrics.UnpackErrors.Inc()
			err = derr
		}
		lastErr = err

		if !s.retryable(err) {
			break
		}
		if !s.Connected() {
			lastErr = ErrNotConnected
			break
		}
	}

	s.metrics.RequestsFailed.Inc()
	return nil, lastErr
}

// attempt sends the assembled request once and reads until the matching
// response or the per-attempt deadline.
func (s *Server) attempt(ctx context.Context, req *Package, data []byte) (*Package, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	start := time.Now()
	s.metrics.RequestsSent.Inc()

	if err := s.transport.Send(attemptCtx, data); err != nil {
		if errors.Is(err, transport.ErrNoPeer) {
			return nil, ErrNotConnected
		}
		return nil, fmt.Errorf("%w: %v", ErrWrite, err)
	}
	s.metrics.BytesSent.Add(int64(len(data)))
	s.metrics.RecordActivity()

	reader := &transportReader{t: s.transport, ctx: attemptCtx, metrics: s.metrics}
	for {
		pkg, err := ParsePackage(reader)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.metrics.RequestsTimedOut.Inc()
				return nil, fmt.Errorf("%w: no response within %s", ErrTimeout, s.opts.timeout)
			}
			if errors.Is(err, transport.ErrNoPeer) {
				return nil, ErrNotConnected
			}
			return nil, err
		}

		s.metrics.RecordActivity()

		if !matches(pkg, req) {
			s.metrics.PackagesDiscarded.Inc()
			s.logger.Debug("discarding package", slog.String("package", pkg.String()))
			continue
		}

		s.metrics.ResponsesReceived.Inc()
		s.metrics.RequestLatency.Record(time.Since(start))

		if pkg.IsError() {
			s.metrics.ErrorsReceived.Inc()
			return nil, NewRemoteError(pkg.ErrorCode())
		}
		return pkg, nil
	}
}

// retryable decides whether a failed attempt is worth repeating. Remote
// errors follow the configured policy; the gateway answers gateway-busy
// while its serial side is still settling, which a later attempt survives.
func (s *Server) retryable(err error) bool {
	switch {
	case errors.Is(err, ErrNotConnected):
		return false
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrWrite),
		errors.Is(err, ErrRead), errors.Is(err, ErrUnpack):
		return true
	}
	if _, ok := IsRemote(err); ok {
		return s.opts.retryOnRemoteError
	}
	return false
}

// RequestValue reads the current value of a datapoint from the device at
// dstAddr and decodes it according to the datapoint's format.
func (s *Server) RequestValue(ctx context.Context, dp *Datapoint, dstAddr uint32) (interface{}, error) {
	return s.RequestProperty(ctx, dp, PropertyValue, dstAddr)
}

// RequestProperty reads an arbitrary property (value, min, max, level) of a
// datapoint from the device at dstAddr.
func (s *Server) RequestProperty(ctx context.Context, dp *Datapoint, property PropertyID, dstAddr uint32) (interface{}, error) {
	req := NewRequest(ServiceRead, dp.Level.ObjectType(), dp.Nr, property, nil, s.opts.srcAddr, dstAddr)

	value, err := s.sendRequest(ctx, req, func(resp *Package) (interface{}, error) {
		return Unpack(resp.Frame.PropertyData, dp.Format)
	})
	if err != nil {
		return nil, fmt.Errorf("read %s of datapoint %d from %d: %w", property, dp.Nr, dstAddr, err)
	}

	s.logger.Debug("value read",
		slog.Uint64("nr", uint64(dp.Nr)),
		slog.Uint64("dst", uint64(dstAddr)),
		slog.Any("value", value),
	)
	return value, nil
}

// RequestValueByNr reads a datapoint by its dictionary number, resolving it
// against the family owning dstAddr.
func (s *Server) RequestValueByNr(ctx context.Context, nr uint32, dstAddr uint32) (interface{}, error) {
	dp, err := s.lookup(nr, dstAddr)
	if err != nil {
		return nil, err
	}
	return s.RequestValue(ctx, dp, dstAddr)
}

// UpdateValue writes a new value to a writable datapoint on the device at
// dstAddr. The value is written to volatile RAM, sparing the device's flash
// from wear under periodic writes. It reports true once the device has
// acknowledged the write. A write to a read-only datapoint is refused
// locally: nothing goes on the wire and the call returns false without an
// error.
func (s *Server) UpdateValue(ctx context.Context, dp *Datapoint, value interface{}, dstAddr uint32) (bool, error) {
	if !dp.Level.Writable() {
		s.logger.Warn("refusing write to read-only datapoint",
			slog.Uint64("nr", uint64(dp.Nr)),
			slog.String("level", dp.Level.String()),
		)
		return false, nil
	}

	payload, err := Pack(value, dp.Format)
	if err != nil {
		s.metrics.UnpackErrors.Inc()
		return false, fmt.Errorf("write datapoint %d to %d: %w", dp.Nr, dstAddr, err)
	}

	req := NewRequest(ServiceWrite, dp.Level.ObjectType(), dp.Nr, PropertyUnsavedValue, payload, s.opts.srcAddr, dstAddr)

	if _, err := s.sendRequest(ctx, req, nil); err != nil {
		return false, fmt.Errorf("write datapoint %d to %d: %w", dp.Nr, dstAddr, err)
	}

	s.logger.Debug("value written",
		slog.Uint64("nr", uint64(dp.Nr)),
		slog.Uint64("dst", uint64(dstAddr)),
		slog.Any("value", value),
	)
	return true, nil
}

// UpdateValueByNr writes a datapoint by its dictionary number.
func (s *Server) UpdateValueByNr(ctx context.Context, nr uint32, value interface{}, dstAddr uint32) (bool, error) {
	dp, err := s.lookup(nr, dstAddr)
	if err != nil {
		return false, err
	}
	return s.UpdateValue(ctx, dp, value, dstAddr)
}

// lookup resolves a datapoint number against the family that owns dstAddr.
// The broadcast address carries no family, so the number alone must be
// unambiguous there.
func (s *Server) lookup(nr uint32, dstAddr uint32) (*Datapoint, error) {
	var familyID string
	if fam, err := FamilyForAddr(dstAddr); err == nil {
		familyID = fam.IDForNr
	}
	return s.opts.dataset.GetByNr(nr, familyID)
}
