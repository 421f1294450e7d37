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


package grpc_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	utilgrpc "github.com/gravitee-io/gravitee-api-management-sub106/pkg/util/grpc"
)

type healthServer struct {
	healthpb.UnimplementedHealthServer
}

func (s *healthServer) Check(
	_ context.Context,
	req *healthpb.HealthCheckRequest,
) (*healthpb.HealthCheckResponse, error) {
	if req.GetService() == "panic" {
		panic("boom")
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

func TestServer(t *testing.T) {
	server := utilgrpc.NewServer("test")
	healthpb.RegisterHealthServer(server.Registrar(), &healthServer{})

	require.Nil(t, server.Listen("127.0.0.1:0"))
	defer server.Close()

	errs := make(chan error, 1)
	go func() {
		errs <- server.Start()
	}()

	conn, err := grpc.NewClient(server.GetAddress(),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.Nil(t, err)
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)

	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.Nil(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	// a panicking handler fails the call, not the server
	_, err = client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "panic"})
	require.Equal(t, codes.Internal, status.Code(err))

	resp, err = client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.Nil(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	require.Nil(t, server.GracefulStop())
	require.Nil(t, <-errs)
}
