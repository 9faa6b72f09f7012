package main

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/md-rashed-zaman/crewdispatch/libs/config"
	"github.com/md-rashed-zaman/crewdispatch/libs/grpcx"
	"github.com/md-rashed-zaman/crewdispatch/libs/runtime"
)

// startGrpcServer serves grpc.health.v1 only, mirroring /readyz.
func startGrpcServer(ctx context.Context, logger *slog.Logger, service string, checks []runtime.ReadyCheck) error {
	port, err := config.Port("GRPC_PORT", "9090")
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}

	srv := grpcx.NewServer(logger)
	health := grpcx.NewHealthReporter(srv, service, 5*time.Second, logger, checks...)
	go health.Run(ctx)
	go func() {
		if err := grpcx.Serve(ctx, srv, lis, logger); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()
	return nil
}
