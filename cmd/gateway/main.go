package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/agent-governance/go-controller/internal/gateway"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/ledger"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/observability"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/policy"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/transport/httpapi"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/transport/rpc"
)

// #region main

func main() {
	configPath := pflag.String("config", envOr("GOVERNANCE_CONFIG", ""), "policy TOML file (defaults when empty)")
	dbPath := pflag.String("db", envOr("GOVERNANCE_DB", ledger.MemoryDSN), "ledger SQLite path")
	httpAddr := pflag.String("http", envOr("GOVERNANCE_HTTP_ADDR", ":8000"), "HTTP listen address (empty disables)")
	grpcAddr := pflag.String("grpc", envOr("GOVERNANCE_GRPC_ADDR", ":50061"), "gRPC listen address (empty disables)")
	apiKey := pflag.String("api-key", os.Getenv("GOVERNANCE_API_KEY"), "bearer key required on POST routes (empty disables auth)")
	tiered := pflag.Bool("tiered", false, "enable per-risk-tier cadence")
	pflag.Parse()

	logger := observability.InitLogger("gateway")
	if err := run(logger, *configPath, *dbPath, *httpAddr, *grpcAddr, *apiKey, *tiered); err != nil {
		logger.Fatal().Err(err).Msg("gateway stopped")
	}
}

func run(logger zerolog.Logger, configPath, dbPath, httpAddr, grpcAddr, apiKey string, tiered bool) error {
	cfg := policy.DefaultConfig()
	if configPath != "" {
		loaded, err := policy.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if tiered {
		cfg.Tiered = true
	}

	store, err := ledger.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	engine := gateway.NewEngine(cfg,
		gateway.WithLedger(store),
		gateway.WithLogger(logger),
		gateway.WithMetrics(metrics),
	)

	logger.Info().
		Str("db", dbPath).
		Str("http", httpAddr).
		Str("grpc", grpcAddr).
		Bool("tiered", cfg.Tiered).
		Dur("report_interval", cfg.ReportInterval.Duration).
		Bool("auth", apiKey != "").
		Msg("gateway starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	if httpAddr != "" {
		api := httpapi.NewServer(engine,
			httpapi.WithAPIKey(apiKey),
			httpapi.WithServerLogger(logger),
			httpapi.WithServerMetrics(metrics, reg),
		)
		srv := &http.Server{Addr: httpAddr, Handler: api.Handler(), ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		gs := grpc.NewServer()
		rpc.NewServer(engine).Register(gs)
		g.Go(func() error {
			if err := gs.Serve(lis); err != nil {
				return fmt.Errorf("grpc: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			gs.GracefulStop()
			return nil
		})
	}

	err = g.Wait()
	logger.Info().Msg("gateway shut down")
	return err
}

// #endregion main

// #region helpers

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
