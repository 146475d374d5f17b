// Package grpc runs the users service gRPC endpoint: the standard health
// service, whose status follows database reachability, and reflection.
// Unary calls other than health checks pass through the principal resolver.
package grpc

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/dmitrijs2005/chatauth/internal/logging"
	"github.com/dmitrijs2005/chatauth/internal/principal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported alongside the overall status.
const ServiceName = "chatauth.users"

const defaultHealthInterval = 5 * time.Second

// publicMethodPrefix marks methods served without resolving a principal.
// Resolving there would burn service credential nonces on liveness probes.
var publicMethodPrefix = "/" + healthpb.Health_ServiceDesc.ServiceName + "/"

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type GRPCServer struct {
	address        string
	logger         logging.Logger
	resolver       *principal.Resolver
	pinger         Pinger
	healthInterval time.Duration
}

func NewGRPCServer(a string, l logging.Logger, resolver *principal.Resolver, pinger Pinger) *GRPCServer {
	return &GRPCServer{
		address:        a,
		logger:         l.With("module", "grpc_server"),
		resolver:       resolver,
		pinger:         pinger,
		healthInterval: defaultHealthInterval,
	}
}

func (s *GRPCServer) Run(ctx context.Context) error {
	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.serve(ctx, listen)
}

func (s *GRPCServer) serve(ctx context.Context, listen net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		s.loggingInterceptor,
		s.principalInterceptor(),
	))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	go s.watchHealth(ctx, hs)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gPRC server...")
		hs.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}
	return nil
}

// watchHealth pings the store until ctx is done, mirroring the result into hs.
func (s *GRPCServer) watchHealth(ctx context.Context, hs *health.Server) {
	ticker := time.NewTicker(s.healthInterval)
	defer ticker.Stop()

	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		st := healthpb.HealthCheckResponse_SERVING
		pingCtx, cancel := context.WithTimeout(ctx, s.healthInterval)
		err := s.pinger.Ping(pingCtx)
		cancel()
		if err != nil {
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
		if ctx.Err() != nil {
			return
		}
		if st != last {
			if err != nil {
				s.logger.Warn(ctx, "database unreachable", "error", err)
			}
			hs.SetServingStatus("", st)
			hs.SetServingStatus(ServiceName, st)
			last = st
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// principalInterceptor resolves the caller of every non-public method.
func (s *GRPCServer) principalInterceptor() grpc.UnaryServerInterceptor {
	resolve := principal.UnaryServerInterceptor(s.resolver)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, publicMethodPrefix) {
			return handler(ctx, req)
		}
		return resolve(ctx, req, info, handler)
	}
}

func (s *GRPCServer) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		s.logger.Warn(ctx, "grpc call failed", "method", info.FullMethod, "duration", time.Since(start), "error", err)
	} else {
		s.logger.Debug(ctx, "grpc call", "method", info.FullMethod, "duration", time.Since(start))
	}
	return resp, err
}
