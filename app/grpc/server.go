package grpc

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-collector/app/dispatcher"
	"github.com/vibast-solutions/ms-go-collector/app/processor"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const servicePrefix = "spool."

// ServiceName is the health service reported for a processor.
func ServiceName(processorName string) string {
	return servicePrefix + processorName
}

// Server exposes the standard gRPC health service. Each toggleable processor
// is reported as spool.<name>, SERVING while its flush flag is on.
type Server struct {
	health     *health.Server
	dispatcher *dispatcher.Dispatcher
	logger     logrus.FieldLogger
}

// NewServer constructs the health server and sets the initial statuses.
func NewServer(d *dispatcher.Dispatcher, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		health:     health.NewServer(),
		dispatcher: d,
		logger:     logger.WithField("component", "grpc-health"),
	}
	s.Refresh()
	return s
}

// Register attaches the health service to srv.
func (s *Server) Register(srv grpclib.ServiceRegistrar) {
	healthpb.RegisterHealthServer(srv, s.health)
}

// Refresh recomputes every processor status from its flush flag.
func (s *Server) Refresh() {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, p := range s.dispatcher.Processors() {
		toggler, ok := p.(processor.FlushToggler)
		if !ok {
			s.health.SetServingStatus(ServiceName(p.Name()), healthpb.HealthCheckResponse_SERVING)
			continue
		}
		s.OnToggle(p.Name(), toggler.FlushEnabled())
	}
}

// OnToggle records a flush flag change.
func (s *Server) OnToggle(name string, enabled bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if enabled {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName(name), status)
	s.logger.WithFields(logrus.Fields{"processor": name, "status": status.String()}).Debug("health status updated")
}

// Check reports the status of one service.
func (s *Server) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Shutdown marks every service NOT_SERVING ahead of a graceful stop.
func (s *Server) Shutdown() {
	s.health.Shutdown()
}
