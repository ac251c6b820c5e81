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
	"log/slog"
	"time"
)

// serverOptions holds configuration for the Xcom server
type serverOptions struct {
	// Listener configuration
	listenAddr string
	port       int

	// Addressing
	srcAddr uint32

	// Timeouts
	timeout time.Duration
	retries int

	// Retry policy for explicit error responses from the gateway.
	// Transient codes such as gateway-busy benefit from a retry.
	retryOnRemoteError bool

	// Dataset used to resolve datapoint numbers
	dataset *Dataset

	// Logging
	logger *slog.Logger
}

// defaultOptions returns the default server options
func defaultOptions() *serverOptions {
	return &serverOptions{
		listenAddr:         "",
		port:               DefaultPort,
		srcAddr:            AddrSource,
		timeout:            3 * time.Second,
		retries:            3,
		retryOnRemoteError: true,
		logger:             slog.Default(),
	}
}

// Option is a functional option for configuring the server
type Option func(*serverOptions)

// WithListenAddr sets the local address to listen on
func WithListenAddr(addr string) Option {
	return func(o *serverOptions) {
		o.listenAddr = addr
	}
}

// WithPort sets the TCP port the gateway dials into
func WithPort(port int) Option {
	return func(o *serverOptions) {
		o.port = port
	}
}

// WithSrcAddr sets the source address used in request headers
func WithSrcAddr(addr uint32) Option {
	return func(o *serverOptions) {
		o.srcAddr = addr
	}
}

// WithTimeout sets the per-attempt response timeout
func WithTimeout(d time.Duration) Option {
	return func(o *serverOptions) {
		o.timeout = d
	}
}

// WithRetries sets the number of attempts for failed requests
func WithRetries(n int) Option {
	return func(o *serverOptions) {
		o.retries = n
	}
}

// WithRetryOnRemoteError controls whether explicit error responses are
// retried like timeouts are
func WithRetryOnRemoteError(retry bool) Option {
	return func(o *serverOptions) {
		o.retryOnRemoteError = retry
	}
}

// WithDataset sets the datapoint dataset used by name based lookups
func WithDataset(ds *Dataset) Option {
	return func(o *serverOptions) {
		o.dataset = ds
	}
}

// WithLogger sets the logger for the server
func WithLogger(logger *slog.Logger) Option {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// DiscoverOptions holds configuration for device discovery
type DiscoverOptions struct {
	// Families to probe; empty means all known families
	Families []string

	// Per-probe response timeout
	Timeout time.Duration
}

// DiscoverOption is a functional option for discovery
type DiscoverOption func(*DiscoverOptions)

// defaultDiscoverOptions returns default discovery options
func defaultDiscoverOptions() *DiscoverOptions {
	return &DiscoverOptions{
		Timeout: 2 * time.Second,
	}
}

// WithFamilies limits discovery to the named families
func WithFamilies(ids ...string) DiscoverOption {
	return func(o *DiscoverOptions) {
		o.Families = ids
	}
}

// WithDiscoverTimeout sets the per-probe timeout for discovery
func WithDiscoverTimeout(d time.Duration) DiscoverOption {
	return func(o *DiscoverOptions) {
		o.Timeout = d
	}
}
