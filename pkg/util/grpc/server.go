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

package grpc

import (
	"context"
	"crypto/tls"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/util/tcp"
)

// Server is a wrapper of a gRPC server.
// Handler panics are recovered and reported to the caller as codes.Internal.
type Server struct {
	tcp.Listener

	server *grpc.Server

	logger *logrus.Entry
}

// Option configures a server.
type Option func(*options)

type options struct {
	tlsConfig *tls.Config
}

// WithTLS serves over TLS using the given configuration.
func WithTLS(tlsConfig *tls.Config) Option {
	return func(o *options) {
		o.tlsConfig = tlsConfig
	}
}

// Registrar returns the registrar of services served by this server.
func (s *Server) Registrar() grpc.ServiceRegistrar {
	return s.server
}

// Start the server.
func (s *Server) Start() error {
	return s.server.Serve(s.GetListener())
}

// Stop the server.
func (s *Server) Stop() error {
	s.server.Stop()
	return nil
}

// GracefulStop does a graceful stop of the server.
func (s *Server) GracefulStop() error {
	s.server.GracefulStop()
	return nil
}

func (s *Server) recoverUnary(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("Panic in '%s': %v.", info.FullMethod, r)
			err = status.Error(codes.Internal, "internal error")
		}
	}()

	return handler(ctx, req)
}

func (s *Server) recoverStream(
	srv any,
	ss grpc.ServerStream,
	info *grpc.StreamServerInfo,
	handler grpc.StreamHandler,
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("Panic in '%s': %v.", info.FullMethod, r)
			err = status.Error(codes.Internal, "internal error")
		}
	}()

	return handler(srv, ss)
}

// NewServer returns a new server. Without WithTLS the server is plaintext.
func NewServer(name string, opts ...Option) *Server {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	creds := insecure.NewCredentials()
	if o.tlsConfig != nil {
		creds = credentials.NewTLS(o.tlsConfig)
	}

	s := &Server{
		Listener: tcp.NewListener(name),
		logger: logrus.WithFields(logrus.Fields{
			"component": "grpc-server",
			"name":      name,
		}),
	}
	s.server = grpc.NewServer(
		grpc.Creds(creds),
		grpc.ChainUnaryInterceptor(s.recoverUnary),
		grpc.ChainStreamInterceptor(s.recoverStream))

	return s
}
