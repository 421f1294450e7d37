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

package health

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"k8s.io/utils/clock"
)

// DefaultWatchInterval is the delay between two runs of a watched check.
const DefaultWatchInterval = time.Second

// GRPCServer serves the checks as gRPC health services, one per check id.
// The empty service runs every check.
type GRPCServer struct {
	checker  *Checker
	interval time.Duration
	clock    clock.WithTicker

	logger *logrus.Entry
}

func (s *GRPCServer) status(ctx context.Context, service string) healthpb.HealthCheckResponse_ServingStatus {
	var (
		healthy bool
		err     error
	)
	if service == "" {
		_, healthy, err = s.checker.Check(ctx, s.checker.IDs()...)
	} else {
		_, healthy, err = s.checker.Check(ctx, service)
	}

	switch {
	case err != nil:
		return healthpb.HealthCheckResponse_SERVICE_UNKNOWN
	case healthy:
		return healthpb.HealthCheckResponse_SERVING
	default:
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
}

// Check a service.
func (s *GRPCServer) Check(ctx context.Context, in *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	servingStatus := s.status(ctx, in.GetService())
	if servingStatus == healthpb.HealthCheckResponse_SERVICE_UNKNOWN {
		return nil, status.Errorf(codes.NotFound, "unknown service '%s'", in.GetService())
	}

	s.logger.Debugf("Service '%s' status: %v.", in.GetService(), servingStatus)
	return &healthpb.HealthCheckResponse{Status: servingStatus}, nil
}

// List the status of every service.
func (s *GRPCServer) List(ctx context.Context, _ *healthpb.HealthListRequest) (*healthpb.HealthListResponse, error) {
	statuses := make(map[string]*healthpb.HealthCheckResponse)
	for _, service := range append([]string{""}, s.checker.IDs()...) {
		statuses[service] = &healthpb.HealthCheckResponse{Status: s.status(ctx, service)}
	}

	return &healthpb.HealthListResponse{Statuses: statuses}, nil
}

// Watch a service, sending its status on every change.
func (s *GRPCServer) Watch(in *healthpb.HealthCheckRequest, stream healthpb.Health_WatchServer) error {
	ctx := stream.Context()
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	last := healthpb.HealthCheckResponse_ServingStatus(-1)
	for {
		current := s.status(ctx, in.GetService())
		if current != last {
			if err := stream.Send(&healthpb.HealthCheckResponse{Status: current}); err != nil {
				return err
			}
			last = current
		}

		select {
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		case <-ticker.C():
		}
	}
}

// NewGRPCServer returns a new gRPC health server of the checks.
func NewGRPCServer(checker *Checker, interval time.Duration, clk clock.WithTicker) *GRPCServer {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	return &GRPCServer{
		checker:  checker,
		interval: interval,
		clock:    clk,
		logger:   logrus.WithField("component", "health.grpc"),
	}
}
