package httpapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"harborview.app/internal/obs"
)

// HealthServer exposes the readiness probe over the standard gRPC health
// protocol, for load balancers that speak it instead of HTTP.
type HealthServer struct {
	healthpb.UnimplementedHealthServer
	probe ReadyProbe
}

// NewHealthServer builds a health server over the same probe the HTTP
// /readyz endpoint uses.
func NewHealthServer(probe ReadyProbe) *HealthServer {
	return &HealthServer{probe: probe}
}

// Register attaches the health service to gs.
func (h *HealthServer) Register(gs *grpc.Server) {
	healthpb.RegisterHealthServer(gs, h)
}

func (h *HealthServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if err := h.probe.Check(ctx); err != nil {
		obs.SetReady(false)
		return &healthpb.HealthCheckResponse{
			Status: healthpb.HealthCheckResponse_NOT_SERVING,
		}, nil
	}
	obs.SetReady(true)
	return &healthpb.HealthCheckResponse{
		Status: healthpb.HealthCheckResponse_SERVING,
	}, nil
}

func (h *HealthServer) Watch(req *healthpb.HealthCheckRequest, stream healthpb.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "watch is not supported")
}
