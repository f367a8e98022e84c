package server

import (
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/loan-extractor/internal/breaker"
)

// RemoteOCRService is the gRPC health service name that tracks the OCR breaker.
const RemoteOCRService = "ocr.remote"

// HealthReporter publishes breaker state through the standard gRPC health service.
// The remote OCR service is SERVING while the breaker is closed.
type HealthReporter struct {
	hs     *health.Server
	logger *slog.Logger
}

func NewHealthReporter(logger *slog.Logger) *HealthReporter {
	if logger == nil {
		logger = slog.Default()
	}
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(RemoteOCRService, healthpb.HealthCheckResponse_SERVING)
	return &HealthReporter{hs: hs, logger: logger}
}

// OnStateChange matches breaker.Settings.OnStateChange.
func (r *HealthReporter) OnStateChange(name string, from, to breaker.State) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if to == breaker.StateClosed {
		st = healthpb.HealthCheckResponse_SERVING
	}
	r.hs.SetServingStatus(RemoteOCRService, st)
	r.logger.Info("health.ocr_remote", "breaker", name, "from", from, "to", to, "status", st.String())
}

// Register installs the health service on s.
func (r *HealthReporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, r.hs)
}

// Server returns the underlying health server.
func (r *HealthReporter) Server() *health.Server { return r.hs }

// Shutdown marks every service NOT_SERVING.
func (r *HealthReporter) Shutdown() { r.hs.Shutdown() }
