// Command multisense receives MultiSense sensor traffic on a UDP port,
// reassembles and dispatches it, and serves engine diagnostics over HTTP and
// a gRPC health check.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/banshee-data/multisense/internal/config"
	"github.com/banshee-data/multisense/internal/monitoring"
	"github.com/banshee-data/multisense/internal/rx"
	"github.com/banshee-data/multisense/internal/telemetry"
	"github.com/banshee-data/multisense/internal/timeutil"
	"github.com/banshee-data/multisense/internal/version"
	"github.com/banshee-data/multisense/internal/wire"
)

var (
	configFile = flag.String("config", "", "Path to engine JSON config (default: built-in defaults)")
	udpAddr    = flag.String("udp-addr", ":9001", "UDP address to receive sensor traffic on")
	listen     = flag.String("listen", ":8081", "HTTP listen address for /debug/ routes")
	grpcListen = flag.String("grpc-listen", ":9091", "gRPC health service address (empty to disable)")
	dbFile     = flag.String("db", "multisense_telemetry.db", "SQLite telemetry database (empty to disable)")
	logFile    = flag.String("log-file", "", "Also write logs to this file, rotated")
	logMaxMB   = flag.Int("log-max-mb", 50, "Rotate the log file after this many megabytes")
	pcapFile   = flag.String("pcap", "", "Replay this capture through the engine and exit")
	pcapPort   = flag.Int("pcap-port", 0, "Only replay UDP datagrams to or from this port (0 for all)")
	timeOffset = flag.Duration("time-offset", 0, "Host minus device clock offset applied when network time sync is on")
	debug      = flag.Bool("debug", false, "Log every dropped datagram and periodic listener samples")
	showVer    = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println(version.String())
		return
	}

	if closer := setupLogging(*logFile, *logMaxMB); closer != nil {
		defer closer.Close()
	}
	monitoring.SetDebug(*debug)
	log.Printf("multisense %s", version.String())

	engineCfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	translator := &timeutil.OffsetTranslator{}
	translator.SetOffset(*timeOffset)

	var store *telemetry.Store
	var recorder *telemetry.Recorder
	if *dbFile != "" {
		if store, err = telemetry.Open(*dbFile); err != nil {
			log.Fatalf("Failed to open telemetry database: %v", err)
		}
		defer store.Close()
	}

	rxCfg := rx.ConfigFromEngine(engineCfg)
	rxCfg.Address = *udpAddr
	rxCfg.Translator = translator
	if store != nil {
		rxCfg.OnReply = func(m wire.Message) { recorder.OnReply(m) }
	}
	if *pcapFile != "" {
		// Replays never read the socket; bind anywhere so a running instance
		// does not block the port.
		rxCfg.Address = "127.0.0.1:0"
	}

	engine, err := rx.New(rxCfg)
	if err != nil {
		log.Fatalf("Failed to start receive engine: %v", err)
	}
	defer engine.Close()
	if store != nil {
		recorder = telemetry.NewRecorder(store, engine, nil, engineCfg.GetTelemetryFlushInterval())
	}

	count, size := engine.LargeBufferDetails()
	log.Printf("receive engine on %s, large buffers %d x %d bytes", engine.LocalAddr(), count, size)

	sum := &summary{}
	sum.register(engine.Registry(), engineCfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *pcapFile != "" {
		replay(ctx, engine, recorder, sum)
		return
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("receive loop stopped: %v", err)
		}
		log.Print("receive routine terminated")
	}()

	if recorder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.Run(ctx)
			log.Printf("telemetry routine terminated, %d rows written, %d replies dropped", recorder.Written(), recorder.Dropped())
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logSummary(ctx, sum, engineCfg.GetStatsLogInterval())
	}()

	if *grpcListen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveHealth(ctx, *grpcListen, engine)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		serveHTTP(ctx, *listen, engine, store)
	}()

	wg.Wait()
	log.Printf("%s", sum)
	log.Printf("Graceful shutdown complete")
}

func loadConfig(path string) (*config.EngineConfig, error) {
	if path == "" {
		return config.DefaultEngineConfig(), nil
	}
	return config.LoadEngineConfig(path)
}

// setupLogging tees the standard logger into a rotating file when path is set.
func setupLogging(path string, maxMB int) io.Closer {
	if path == "" {
		return nil
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxMB,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, lj))
	return lj
}

func replay(ctx context.Context, engine *rx.Engine, recorder *telemetry.Recorder, sum *summary) {
	recCtx, stopRecorder := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	if recorder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.Run(recCtx)
		}()
	}

	stats, err := engine.ReplayFile(ctx, *pcapFile, uint16(*pcapPort))
	if err != nil {
		log.Printf("replay failed: %v", err)
	}
	log.Printf("replayed %d packets, %d datagrams, %d dropped in %v", stats.Packets, stats.Matched, stats.Rejected, stats.Elapsed)

	// Queued listeners finish their backlog on close.
	engine.Registry().Close()
	log.Printf("%s", sum)

	stopRecorder()
	wg.Wait()
}

func logSummary(ctx context.Context, sum *summary, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("delivered: %s", sum)
		}
	}
}

func serveHealth(ctx context.Context, addr string, engine *rx.Engine) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Printf("failed to listen for gRPC on %s: %v", addr, err)
		return
	}

	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	reflection.Register(grpcServer)

	go watchHealth(ctx, hs, engine, time.Second)
	go func() {
		<-ctx.Done()
		hs.Shutdown()
		grpcServer.GracefulStop()
	}()

	log.Printf("gRPC health service listening on %s", addr)
	if err := grpcServer.Serve(lis); err != nil {
		log.Printf("gRPC server error: %v", err)
	}
	log.Printf("gRPC routine stopped")
}

func serveHTTP(ctx context.Context, addr string, engine *rx.Engine, store *telemetry.Store) {
	mux := http.NewServeMux()
	engine.AttachAdminRoutes(mux)
	if store != nil {
		if err := store.AttachAdminRoutes(mux); err != nil {
			log.Printf("telemetry admin routes unavailable: %v", err)
		}
	}

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
}
