// Copyright (C) 2015 The Gravitee team (http://gravitee.io)
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

package drain

import (
	"context"
	"net"
	"net/http"

	"golang.org/x/net/http/httpguts"
)

type connAcceptedAtKey struct{}

// ConnContext records the connection accept time, for use as http.Server.ConnContext.
func (c *Coordinator) ConnContext(ctx context.Context, _ net.Conn) context.Context {
	return context.WithValue(ctx, connAcceptedAtKey{}, c.clock.Now().UnixMilli())
}

// AcceptedAt returns the accept time of the request connection, in unix milliseconds.
func AcceptedAt(ctx context.Context) (int64, bool) {
	acceptedAt, ok := ctx.Value(connAcceptedAtKey{}).(int64)
	return acceptedAt, ok
}

// ShouldClose returns true if the connection of the request must be closed.
// Connections of unknown age are treated as established before the drain.
func (c *Coordinator) ShouldClose(r *http.Request) bool {
	requestedAt := c.DrainRequestedAt()
	if requestedAt == NotRequested {
		return false
	}

	acceptedAt, ok := AcceptedAt(r.Context())
	return !ok || acceptedAt <= requestedAt
}

// Middleware marks connections established before the drain for close.
// HTTP/1.x connections are closed after the response; the HTTP/2 server
// turns the close directive into a graceful shutdown of the connection.
func (c *Coordinator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.ShouldClose(r) && !httpguts.HeaderValuesContainsToken(w.Header()["Connection"], "close") {
			w.Header().Add("Connection", "close")
		}
		next.ServeHTTP(w, r)
	})
}
