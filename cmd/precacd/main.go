package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/dfs-precac/forest"
	"github.com/signalsfoundry/dfs-precac/internal/config"
	"github.com/signalsfoundry/dfs-precac/internal/journal"
	"github.com/signalsfoundry/dfs-precac/internal/logging"
	"github.com/signalsfoundry/dfs-precac/internal/observability"
	"github.com/signalsfoundry/dfs-precac/internal/precac"
	"github.com/signalsfoundry/dfs-precac/internal/timer"
	"github.com/signalsfoundry/dfs-precac/kb"
	"github.com/signalsfoundry/dfs-precac/model"
	"github.com/signalsfoundry/dfs-precac/timectrl"
)

// healthService is the gRPC health service name reporting precac state.
const healthService = "dfs.precac"

func main() {
	configPath := flag.String("config", "", "Path to a JSON daemon config; built-in defaults when empty")
	httpAddr := flag.String("http-addr", "", "HTTP address for /metrics and the control API (overrides the config)")
	grpcAddr := flag.String("grpc-addr", "", "TCP address of the gRPC health service (overrides the config)")
	journalPath := flag.String("journal", "", "SQLite journal path (overrides the config)")
	tracingExporter := flag.String("tracing-exporter", "", "span exporter, stdout or otlp; enables tracing (overrides the config)")
	otlpEndpoint := flag.String("otlp-endpoint", "", "OTLP/gRPC collector address (overrides the config)")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Error(ctx, "failed to load config", logging.String("path", *configPath), logging.Err(err))
		os.Exit(1)
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *grpcAddr != "" {
		cfg.GRPCAddr = *grpcAddr
	}
	if *journalPath != "" {
		cfg.JournalPath = *journalPath
	}

	cfg.Tracing.ApplyEnv(os.LookupEnv)
	if *tracingExporter != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = *tracingExporter
	}
	if *otlpEndpoint != "" {
		cfg.Tracing.Endpoint = *otlpEndpoint
	}
	names, domains := cfg.RadioNames()
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log, observability.RadioAttributes(names, domains)...)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.GRPCAddr), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "precacd exited", logging.Err(err))
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.DaemonConfig, error) {
	if path == "" {
		cfg := config.DefaultConfig()
		return cfg, cfg.Validate()
	}
	return config.LoadConfig(path)
}

// run wires the scheduler, its stores and servers, and blocks until ctx is
// cancelled. lis carries the gRPC health service.
func run(ctx context.Context, cfg *config.DaemonConfig, log logging.Logger, lis net.Listener) error {
	reg := prometheus.NewRegistry()
	forestMetrics, err := observability.NewForestCollector(reg)
	if err != nil {
		return fmt.Errorf("forest metrics: %w", err)
	}
	schedMetrics, err := observability.NewSchedulerCollector(reg)
	if err != nil {
		return fmt.Errorf("scheduler metrics: %w", err)
	}

	j, err := journal.Open(ctx, cfg.JournalPath, log)
	if err != nil {
		return err
	}
	defer j.Close()

	store := kb.NewKnowledgeBase()
	if cfg.CatalogPath != "" {
		tbl, err := kb.LoadTableFile(cfg.CatalogPath)
		if err != nil {
			return err
		}
		if err := store.SetTable(tbl); err != nil {
			return err
		}
		log.Info(ctx, "loaded channel table",
			logging.String("path", cfg.CatalogPath),
			logging.String("domain", tbl.Domain.String()),
			logging.Int("channels", len(tbl.Channels)),
		)
	}

	pcfg, err := cfg.PrecacConfig()
	if err != nil {
		return err
	}

	tc := timectrl.NewTimeController(time.Now(), cfg.GetTick(), timectrl.RealTime)
	events := timer.NewEventScheduler(tc)
	tc.AddListener(func(time.Time) { events.RunDue() })

	sink := newRadioSink(log)
	sched, err := precac.New(pcfg, timer.New(events), sink, log,
		precac.WithMetrics(schedMetrics),
		precac.WithJournal(j),
		precac.WithEventScheduler(events),
		precac.WithForestOptions(forest.WithStatusRecorder(forestMetrics)),
	)
	if err != nil {
		return err
	}
	defer sched.Close()

	for _, spec := range cfg.Radios {
		if err := store.SetRadioDomain(spec.Name, model.ParseDomain(spec.Domain)); err != nil {
			return fmt.Errorf("radio %q: %w", spec.Name, err)
		}
		catalog := store.Catalog(spec.Name)
		idx, err := sched.AddRadio(ctx, precac.RadioConfig{
			Name:      spec.Name,
			Catalog:   catalog,
			Operating: spec.Operating(catalog.IsDFS),
		})
		if err != nil {
			return err
		}
		if spec.Agile {
			if err := sched.StartAgile(ctx, idx); err != nil {
				log.Warn(ctx, "agile precac not started", logging.String("radio", spec.Name), logging.Err(err))
			}
		}
	}

	healthSrv := health.NewServer()
	reporter := &healthReporter{srv: healthSrv, sched: sched}
	reporter.update()
	tc.AddListener(func(time.Time) { reporter.update() })

	unsubscribe := watchCatalog(ctx, store, sched, log, reporter.update)
	defer unsubscribe()

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(eventIDUnaryServerInterceptor(log)),
	)
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	log.Info(ctx, "starting gRPC health server", logging.String("addr", lis.Addr().String()))
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Error(ctx, "gRPC server exited", logging.Err(err))
		}
	}()

	a := &api{sched: sched, store: store, journal: j, sink: sink, log: log}
	httpSrv := serveHTTP(cfg.HTTPAddr, a.routes(forestMetrics.Handler()), log)

	stopClock := make(chan struct{})
	clockDone := tc.Start(0, stopClock)
	log.Info(ctx, "precacd running",
		logging.String("mode", sched.Mode().String()),
		logging.Int("radios", len(cfg.Radios)),
		logging.Duration("tick", cfg.GetTick()),
	)

	<-ctx.Done()

	log.Info(context.Background(), "shutting down precacd")
	close(stopClock)
	<-clockDone
	healthSrv.Shutdown()
	grpcServer.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if httpSrv != nil {
		_ = httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// watchCatalog rebuilds every forest when a channel table or a radio's
// domain changes. after runs once the forests are rebuilt.
func watchCatalog(ctx context.Context, store *kb.KnowledgeBase, sched *precac.Scheduler, log logging.Logger, after func()) (unsubscribe func()) {
	return store.Subscribe(func(ev kb.Event) {
		log.Info(ctx, "regulatory catalog changed; rebuilding forests",
			logging.String("event", ev.Type.String()),
			logging.String("domain", ev.Domain.String()),
			logging.String("radio", ev.Radio),
		)
		sched.ResetForests(ctx)
		if after != nil {
			after()
		}
	})
}

func serveHTTP(addr string, handler http.Handler, log logging.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "HTTP server exited", logging.Err(err))
		}
	}()
	log.Info(context.Background(), "serving metrics and control API", logging.String("addr", addr))
	return srv
}

// healthReporter mirrors the scheduler mode into the gRPC health service:
// SERVING while precac runs in some mode, NOT_SERVING when disabled.
type healthReporter struct {
	srv   *health.Server
	sched *precac.Scheduler

	mu   sync.Mutex
	last healthpb.HealthCheckResponse_ServingStatus
}

func (h *healthReporter) update() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if h.sched.Mode() != precac.ModeDisabled {
		status = healthpb.HealthCheckResponse_SERVING
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if status == h.last {
		return
	}
	h.last = status
	h.srv.SetServingStatus(healthService, status)
}
