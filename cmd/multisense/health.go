package main

import (
	"context"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// healthService is the name the receive loop reports under.
const healthService = "multisense.rx"

type runner interface {
	Running() bool
}

// watchHealth mirrors whether the receive loop is running into hs until ctx
// is done, then reports NOT_SERVING.
func watchHealth(ctx context.Context, hs *health.Server, r runner, every time.Duration) {
	set := func(serving bool) {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if serving {
			status = healthpb.HealthCheckResponse_SERVING
		}
		hs.SetServingStatus(healthService, status)
		hs.SetServingStatus("", status)
	}

	set(r.Running())
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			set(false)
			return
		case <-ticker.C:
			set(r.Running())
		}
	}
}
