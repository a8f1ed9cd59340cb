package station

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const HealthService = "plantpi.Station"

// ReadyFunc reports dependency readiness by name.
type ReadyFunc func() map[string]bool

// AllReady is true when every dependency reports ready.
func AllReady(m map[string]bool) bool {
	for _, ok := range m {
		if !ok {
			return false
		}
	}
	return true
}

// HealthServer publishes readiness over the standard gRPC health protocol.
type HealthServer struct {
	srv    *grpc.Server
	health *health.Server
	ready  ReadyFunc
	log    zerolog.Logger
}

func NewHealthServer(ready ReadyFunc, log zerolog.Logger) *HealthServer {
	h := &HealthServer{srv: grpc.NewServer(), health: health.NewServer(), ready: ready, log: log}
	healthpb.RegisterHealthServer(h.srv, h.health)
	h.refresh()
	return h
}

func (h *HealthServer) refresh() {
	st := healthpb.HealthCheckResponse_SERVING
	if !AllReady(h.ready()) {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus("", st)
	h.health.SetServingStatus(HealthService, st)
}

// Serve blocks until ctx is done, re-evaluating readiness every interval.
func (h *HealthServer) Serve(ctx context.Context, lis net.Listener, interval time.Duration) error {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				h.health.Shutdown()
				h.srv.GracefulStop()
				return
			case <-t.C:
				h.refresh()
			}
		}
	}()
	h.log.Info().Str("addr", lis.Addr().String()).Msg("grpc health listening")
	return h.srv.Serve(lis)
}
