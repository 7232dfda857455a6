package grpcserver

import (
	"context"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rzbill/conduit/pkg/log"
)

// Service names reported by the health server besides the overall "" entry.
const (
	ServiceAggregation = "conduit.Aggregation"
	ServiceLeader      = "conduit.Leader"
)

// Refresh recomputes health statuses. The overall and aggregation entries
// follow the store; the leader entry is SERVING only on the leader.
func (s *Server) Refresh(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if err := s.rt.CheckHealth(ctx); err != nil {
		s.logger.Debug("runtime unhealthy", log.Err(err))
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceAggregation, status)

	leader := healthpb.HealthCheckResponse_NOT_SERVING
	if status == healthpb.HealthCheckResponse_SERVING && s.rt.IsLeader() {
		leader = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceLeader, leader)
}
