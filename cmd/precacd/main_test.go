package main

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/dfs-precac/internal/config"
	"github.com/signalsfoundry/dfs-precac/internal/logging"
)

func TestPrecacdStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.HTTPAddr = ""
	cfg.GRPCAddr = lis.Addr().String()
	cfg.JournalPath = filepath.Join(t.TempDir(), "precac.db")
	tick := "20ms"
	cfg.Tick = &tick

	log := logging.New(logging.Config{Level: "warn", Format: "text"})

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, log, lis)
	}()

	conn, err := grpc.NewClient(cfg.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	var resp *healthpb.HealthCheckResponse
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: healthService}, grpc.WaitForReady(true))
		if err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("health check = %v, %v; want SERVING", resp.GetStatus(), err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()

	if err := <-errCh; err != nil {
		t.Fatalf("precacd returned error: %v", err)
	}
}

func TestRunRejectsBadCatalog(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer lis.Close()

	cfg := config.DefaultConfig()
	cfg.HTTPAddr = ""
	cfg.JournalPath = filepath.Join(t.TempDir(), "precac.db")
	cfg.CatalogPath = filepath.Join(t.TempDir(), "missing.json")

	if err := run(context.Background(), cfg, logging.Noop(), lis); err == nil {
		t.Fatalf("expected error for a missing channel table")
	}
}
