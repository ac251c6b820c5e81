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
	"fmt"
	"sync"
)

// Registry hands out at most one running server per port. A process that
// embeds several pollers against the same gateway shares the server, and
// with it the single TCP listener, instead of fighting over the port. The
// registry is owned by the embedding process: construct it once, close it
// on shutdown.
type Registry struct {
	mu      sync.Mutex
	servers map[int]*Server
	closed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		servers: make(map[int]*Server),
	}
}

// Get returns the server listening on the given port, creating and starting
// it on first use. Options are applied only on creation; a later Get for
// the same port returns the existing server unchanged.
func (r *Registry) Get(port int, opts ...Option) (*Server, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("xcom: registry is closed")
	}

	if srv, ok := r.servers[port]; ok {
		return srv, nil
	}

	srv, err := NewServer(append(opts, WithPort(port))...)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(); err != nil {
		return nil, err
	}

	r.servers[port] = srv
	return srv, nil
}

// Remove stops and discards the server for the given port, if any. The next
// Get for the port creates a fresh one; callers use this on configuration
// reload.
func (r *Registry) Remove(port int) {
	r.mu.Lock()
	srv, ok := r.servers[port]
	delete(r.servers, port)
	r.mu.Unlock()

	if ok {
		srv.Stop()
	}
}

// Close stops every server and rejects further Gets.
func (r *Registry) Close() {
	r.mu.Lock()
	servers := r.servers
	r.servers = nil
	r.closed = true
	r.mu.Unlock()

	for _, srv := range servers {
		srv.Stop()
	}
}
