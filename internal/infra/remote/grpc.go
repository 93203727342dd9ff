package remote

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCProbe checks reachability through the standard gRPC health service.
type GRPCProbe struct {
	endpoint string
	service  string
	conn     *grpc.ClientConn
	client   healthpb.HealthClient
}

// NewGRPCProbe creates a probe against a gRPC health endpoint. The service
// name may be empty to query overall server health.
func NewGRPCProbe(endpoint, service string) (*GRPCProbe, error) {
	target := endpoint
	var opts []grpc.DialOption

	if strings.HasPrefix(endpoint, "https://") || strings.HasSuffix(endpoint, ":443") {
		creds := credentials.NewTLS(&tls.Config{})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		target = strings.TrimPrefix(target, "https://")
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		target = strings.TrimPrefix(target, "http://")
	}

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial grpc endpoint %s: %w", target, err)
	}

	return &GRPCProbe{
		endpoint: endpoint,
		service:  service,
		conn:     conn,
		client:   healthpb.NewHealthClient(conn),
	}, nil
}

// Check issues one health-check RPC and returns the round-trip latency.
func (p *GRPCProbe) Check(ctx context.Context) (int64, error) {
	start := time.Now()

	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		return -1, fmt.Errorf("grpc health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return -1, fmt.Errorf("grpc health status: %s", resp.GetStatus())
	}

	return time.Since(start).Milliseconds(), nil
}

// Close releases the underlying connection.
func (p *GRPCProbe) Close() error {
	return p.conn.Close()
}
