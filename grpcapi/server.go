// Copyright 2016 Google Inc. All Rights Reserved.
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

// Package grpcapi is the ambient admin/health surface every long-running
// verifidb-server process exposes: standard gRPC health checking (spec.md
// leaves the data-plane HTTP surface out of scope, but a health endpoint
// is the one piece of "exposed operations" every teacher server binary
// carries regardless). Recovery and request-tagging interceptors come
// from the teacher's own grpc-ecosystem/go-grpc-middleware dependency.
package grpcapi

import (
	"context"
	"net"
	"sync"

	"github.com/golang/glog"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	grpc_ctxtags "github.com/grpc-ecosystem/go-grpc-middleware/tags"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// HealthSource reports whether the assembled service is ready to take
// traffic. service.Engine's implementation is liveness-only: it reports
// healthy once constructed and does not track a rebuild in progress.
type HealthSource interface {
	Healthy() bool
}

// Server wraps a *grpc.Server carrying only the health service, plus the
// logging/recovery interceptor chain every RPC (including future
// data-plane methods, should one ever be registered here) passes
// through.
type Server struct {
	grpc   *grpc.Server
	health *health.Server

	mu      sync.Mutex
	sources []HealthSource
}

// New builds a Server. Call RegisterHealthSource for each component
// whose readiness should gate the SERVING status, then Serve.
func New() *Server {
	healthSrv := health.NewServer()
	s := &Server{health: healthSrv}

	s.grpc = grpc.NewServer(
		grpc_middleware.WithUnaryServerChain(
			grpc_ctxtags.UnaryServerInterceptor(),
			loggingUnaryInterceptor,
			grpc_recovery.UnaryServerInterceptor(),
		),
	)
	grpc_health_v1.RegisterHealthServer(s.grpc, healthSrv)
	return s
}

// RegisterHealthSource adds a component whose Healthy() gates the
// overall SERVING/NOT_SERVING status reported to health-checking
// clients (e.g. a Kubernetes readiness probe).
func (s *Server) RegisterHealthSource(src HealthSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = append(s.sources, src)
}

// RefreshHealth recomputes the health status from every registered
// source. Callers typically invoke this on a short ticker and once
// immediately after startup completes.
func (s *Server) RefreshHealth() {
	s.mu.Lock()
	sources := append([]HealthSource(nil), s.sources...)
	s.mu.Unlock()

	status := grpc_health_v1.HealthCheckResponse_SERVING
	for _, src := range sources {
		if !src.Healthy() {
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
			break
		}
	}
	s.health.SetServingStatus("", status)
}

// Serve blocks, accepting connections on lis until the server is
// stopped or lis closes.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// GracefulStop drains in-flight RPCs before returning.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// loggingUnaryInterceptor logs each RPC's method and outcome via glog,
// the same ambient logger every other package in this tree uses.
func loggingUnaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		glog.Warningf("grpcapi: %s failed: %v", info.FullMethod, err)
	} else {
		glog.V(1).Infof("grpcapi: %s ok", info.FullMethod)
	}
	return resp, err
}
