package main

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/multisense/internal/bufpool"
	"github.com/banshee-data/multisense/internal/config"
	"github.com/banshee-data/multisense/internal/monitoring"
	"github.com/banshee-data/multisense/internal/rx"
	"github.com/banshee-data/multisense/internal/wire"
)

func init() {
	monitoring.SetLogger(nil)
}

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, ":9001", *udpAddr)
	assert.Equal(t, ":8081", *listen)
	assert.Equal(t, 0, *pcapPort)
	assert.Equal(t, time.Duration(0), *timeOffset)
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultEngineConfig().GetTrackerCacheDepth(), cfg.GetTrackerCacheDepth())

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestSummaryCountsDeliveries(t *testing.T) {
	e, err := rx.New(rx.Config{
		Socket: rx.NewMockUDPSocket(),
		Pool:   bufpool.Config{SmallSize: 1024, SmallCount: 4, LargeSize: 4096, LargeCount: 1},
	})
	require.NoError(t, err)
	defer e.Close()

	sum := &summary{}
	sum.register(e.Registry(), config.DefaultEngineConfig())

	send := func(seq uint16, m wire.Message) {
		msg, err := wire.Encode(m)
		require.NoError(t, err)
		datagrams, err := wire.Fragment(seq, msg, 1024)
		require.NoError(t, err)
		for _, d := range datagrams {
			require.NoError(t, e.Handle(d))
		}
	}
	send(1, &wire.SysPps{PpsNanoSeconds: 5_000_000_000})
	send(2, &wire.ImuData{Sequence: 1, Samples: []wire.ImuSample{
		{Type: wire.ImuAccelerometer, TimeNanoSeconds: 1, Z: 9.81},
		{Type: wire.ImuGyroscope, TimeNanoSeconds: 1},
		{Type: wire.ImuMagnetometer, TimeNanoSeconds: 1, X: 0.2},
	}})

	// Closing the registry drains the queued listeners.
	e.Registry().Close()
	assert.Equal(t, uint64(1), sum.pps.Load())
	assert.Equal(t, int64(5_000_000_000), sum.lastPps.Load())
	assert.Equal(t, uint64(3), sum.imu.Load())
	assert.Contains(t, sum.String(), "1 pps, 3 imu samples")
}

type fakeRunner struct{ running atomic.Bool }

func (f *fakeRunner) Running() bool { return f.running.Load() }

func TestWatchHealth(t *testing.T) {
	hs := health.NewServer()
	r := &fakeRunner{}
	r.running.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		watchHealth(ctx, hs, r, 5*time.Millisecond)
		close(done)
	}()

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: healthService})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.Status
	}

	require.Eventually(t, func() bool { return check() == healthpb.HealthCheckResponse_SERVING }, time.Second, time.Millisecond)

	r.running.Store(false)
	require.Eventually(t, func() bool { return check() == healthpb.HealthCheckResponse_NOT_SERVING }, time.Second, time.Millisecond)

	r.running.Store(true)
	require.Eventually(t, func() bool { return check() == healthpb.HealthCheckResponse_SERVING }, time.Second, time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())
}
