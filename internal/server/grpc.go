package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"LootLedger/internal/failure"
	"LootLedger/internal/observability"
)

// GRPCServer serves gRPC health and reflection, and the JSON API through
// the gateway mux.
type GRPCServer struct {
	grpcServer    *grpc.Server
	health        *health.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	api           *API
	healthChecker *observability.HealthChecker
	logger        zerolog.Logger
}

// NewGRPCServer creates the servers. api serves the HTTP routes.
func NewGRPCServer(grpcAddr, httpAddr string, api *API, healthChecker *observability.HealthChecker, logger zerolog.Logger) *GRPCServer {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:    grpcServer,
		health:        healthServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		api:           api,
		healthChecker: healthChecker,
		logger:        logger,
	}
}

// SetServing flips the gRPC health status alongside HTTP readiness.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	if s.healthChecker != nil {
		s.healthChecker.SetReady(serving)
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway starts the HTTP/JSON API (blocking).
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	mux, err := s.api.Mux()
	if err != nil {
		return err
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	}
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           httpMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// GRPCCode maps a failure code onto the gRPC status space. The gateway
// derives HTTP statuses from it.
func GRPCCode(code failure.Code) codes.Code {
	switch code {
	case failure.InputMalformed, failure.ArithmeticOverflow, failure.NonFinite, failure.DivisionByZero:
		return codes.InvalidArgument
	case failure.NotFound, failure.LockNotFound:
		return codes.NotFound
	case failure.LockExpired, failure.LockAlreadyUsed, failure.AmountMismatch, failure.OnchainMismatch:
		return codes.FailedPrecondition
	case failure.ReplayDetected, failure.DecisionAlreadyMade:
		return codes.AlreadyExists
	case failure.DecisionConflict:
		return codes.Aborted
	case failure.PaymentUnverified:
		return codes.PermissionDenied
	case failure.ExternalTimeout:
		return codes.DeadlineExceeded
	case failure.ExternalFailure:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// Status converts an error into a gRPC status.
func Status(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}
	return status.New(GRPCCode(failure.CodeOf(err)), err.Error())
}
