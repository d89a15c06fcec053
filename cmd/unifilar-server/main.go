package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/unifilar/config"
	"github.com/signalsfoundry/unifilar/core"
	"github.com/signalsfoundry/unifilar/internal/logging"
	"github.com/signalsfoundry/unifilar/internal/nbi"
	"github.com/signalsfoundry/unifilar/internal/observability"
	sim "github.com/signalsfoundry/unifilar/internal/sim/state"
	"github.com/signalsfoundry/unifilar/internal/store"
	"github.com/signalsfoundry/unifilar/internal/stream"
	"github.com/signalsfoundry/unifilar/internal/telemetry"
	"github.com/signalsfoundry/unifilar/internal/watch"
	"github.com/signalsfoundry/unifilar/timectrl"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

func main() {
	configPath := flag.String("config", "", "YAML config file merged over the built-in defaults")
	grpcAddr := flag.String("grpc-addr", "", "override server.grpc_addr")
	metricsAddr := flag.String("metrics-addr", "", "override server.metrics_addr")
	wsAddr := flag.String("ws-addr", "", "override server.ws_addr")
	storePath := flag.String("store", "", "override store.path")
	watchPath := flag.String("watch", "", "override watch.path")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error(ctx, "failed to load config", logging.String("path", *configPath), logging.Err(err))
		os.Exit(1)
	}
	overrideString(&cfg.Server.GRPCAddr, *grpcAddr)
	overrideString(&cfg.Server.MetricsAddr, *metricsAddr)
	overrideString(&cfg.Server.WSAddr, *wsAddr)
	overrideString(&cfg.Store.Path, *storePath)
	overrideString(&cfg.Watch.Path, *watchPath)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.Server.GRPCAddr), logging.Err(err))
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(runCtx, cfg, log, lis); err != nil {
		log.Error(ctx, "server exited", logging.Err(err))
		os.Exit(1)
	}
}

func overrideString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// run wires the diagram state to every surface and blocks until ctx is
// cancelled or one of the servers fails.
func run(ctx context.Context, cfg *config.Config, log logging.Logger, lis net.Listener) error {
	log = logging.OrNoop(log)

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnvOver(observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
		Workspace:   cfg.Diagram.Workspace,
		Station:     cfg.Diagram.Station,
	}), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	diagramMetrics, err := observability.NewDiagramCollector(reg)
	if err != nil {
		return fmt.Errorf("diagram metrics: %w", err)
	}
	sparkMetrics, err := observability.NewSparkCollector(reg)
	if err != nil {
		return fmt.Errorf("spark metrics: %w", err)
	}

	out, err := telemetry.NewOutputManager(cfg.Telemetry.OutputDir)
	if err != nil {
		return err
	}
	defer out.Close()
	if err := out.WriteConfig(cfg); err != nil {
		log.Warn(ctx, "failed to write run config", logging.Err(err))
	}
	windows := telemetry.NewCollector(cfg.Telemetry.Window)

	opts := []sim.Option{
		sim.WithMetricsRecorder(diagramMetrics),
		sim.WithSparkMetrics(sim.MultiSparkMetrics(sparkMetrics, windows)),
		sim.WithSparkConfig(cfg.SparkConfig()),
		sim.WithBranchMode(cfg.BranchMode()),
		sim.WithRNG(core.NewSeededRNG(cfg.Simulation.Seed)),
	}

	var (
		db  *store.DiagramStore
		key string
	)
	if cfg.Store.Path != "" {
		key, err = store.Key(cfg.Diagram.Workspace, cfg.Diagram.Station)
		if err != nil {
			return fmt.Errorf("diagram key: %w", err)
		}
		db, err = store.Open(cfg.Store.Path, log)
		if err != nil {
			return err
		}
		defer db.Close()
		opts = append(opts, sim.WithPersistHook(db.PersistHook(key)))
	}

	state := sim.NewDiagramState(log, opts...)
	if err := restore(ctx, state, db, key, cfg.Diagram.LineWidth, log); err != nil {
		return err
	}

	hub := stream.NewHub(log)
	defer hub.Close()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Watch.Path != "" {
		w, err := watch.New(cfg.Watch.Path, state, log, watch.WithDebounce(cfg.Watch.Debounce))
		if err != nil {
			return err
		}
		if err := w.Reload(ctx); err != nil {
			log.Warn(ctx, "initial diagram file load failed", logging.Err(err))
		}
		g.Go(func() error { return w.Run(gctx) })
	}

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			nbi.RequestIDUnaryServerInterceptor(log),
			nbi.TracingUnaryServerInterceptor(),
			diagramMetrics.UnaryServerInterceptor(),
		),
	)
	nbi.RegisterDiagramServiceServer(server, nbi.NewDiagramService(state, log))

	g.Go(func() error {
		log.Info(gctx, "starting diagram gRPC server", logging.String("addr", lis.Addr().String()))
		if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		server.GracefulStop()
		return nil
	})

	for _, srv := range httpServers(cfg.Server, diagramMetrics.Handler(), hub) {
		g.Go(func() error {
			log.Info(gctx, "serving HTTP", logging.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http %s: %w", srv.Addr, err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	loop := timectrl.NewFrameLoop(
		cfg.Simulation.FrameInterval,
		newFrameStep(state, windows, out, hub, log),
		timectrl.WithMaxDelta(cfg.Simulation.MaxFrameDelta),
	)
	g.Go(func() error {
		if err := loop.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		loop.Stop()
		if ws, ok := windows.Flush(); ok {
			if err := out.WriteWindow(ws); err != nil {
				log.Warn(ctx, "failed to write final telemetry window", logging.Err(err))
			}
		}
		return nil
	})

	err = g.Wait()
	log.Info(ctx, "diagram server stopped")
	return err
}

// restore loads the stored diagram, if any. A fresh diagram takes its
// line width from the config.
func restore(ctx context.Context, state *sim.DiagramState, db *store.DiagramStore, key string, lineWidth int, log logging.Logger) error {
	if db != nil {
		data, err := db.Get(ctx, key)
		switch {
		case err == nil:
			if err := state.Load(ctx, bytes.NewReader(data)); err != nil {
				return fmt.Errorf("load stored diagram: %w", err)
			}
			log.Info(ctx, "restored stored diagram",
				logging.String("key", key),
				logging.Int("bytes", len(data)),
			)
			return nil
		case errors.Is(err, store.ErrNotFound):
		default:
			return fmt.Errorf("read stored diagram: %w", err)
		}
	}
	state.SetLineWidth(ctx, lineWidth)
	return nil
}

// httpServers builds the metrics and websocket servers. Both handlers share
// one server when the addresses match; an empty address disables a server.
func httpServers(cfg config.ServerConfig, metrics http.Handler, hub http.Handler) []*http.Server {
	mux := func() *http.ServeMux {
		m := http.NewServeMux()
		m.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		return m
	}

	if cfg.MetricsAddr != "" && cfg.MetricsAddr == cfg.WSAddr {
		m := mux()
		m.Handle("/metrics", metrics)
		m.Handle("/ws", hub)
		return []*http.Server{{Addr: cfg.MetricsAddr, Handler: m, ReadHeaderTimeout: 5 * time.Second}}
	}

	var servers []*http.Server
	if cfg.MetricsAddr != "" {
		m := mux()
		m.Handle("/metrics", metrics)
		servers = append(servers, &http.Server{Addr: cfg.MetricsAddr, Handler: m, ReadHeaderTimeout: 5 * time.Second})
	}
	if cfg.WSAddr != "" {
		m := mux()
		m.Handle("/ws", hub)
		servers = append(servers, &http.Server{Addr: cfg.WSAddr, Handler: m, ReadHeaderTimeout: 5 * time.Second})
	}
	return servers
}
