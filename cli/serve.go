package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/podly-labs/podflow"
	"github.com/podly-labs/podflow/config"
	podotel "github.com/podly-labs/podflow/otel"
	"github.com/podly-labs/podflow/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			events := podflow.SlogEventHandler(logger)
			if cfg.Telemetry.Enabled {
				handler, shutdown, err := setupTelemetry(ctx, cfg)
				if err != nil {
					return err
				}
				defer shutdown(context.Background())
				events = podflow.MultiEventHandler(events, handler)
			}

			svcs, err := buildServices(ctx, cfg, logger, events)
			if err != nil {
				return err
			}

			scripts, err := server.NewSQLiteScriptStore(cfg.Server.DatabasePath)
			if err != nil {
				return err
			}
			defer scripts.Close()

			if cfg.Server.JanitorSchedule != "" {
				janitor := server.NewJanitor(
					cfg.Audio.ScratchDir, cfg.Audio.AssetCacheDir,
					scripts, 0, logger,
				)
				if err := janitor.Start(cfg.Server.JanitorSchedule); err != nil {
					return err
				}
				defer janitor.Stop()
			}

			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           server.New(scripts, svcs.script, svcs.audio, logger).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", "addr", cfg.Server.Addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

// setupTelemetry wires the OTLP trace exporter and metric provider and
// returns a combined event handler.
func setupTelemetry(ctx context.Context, cfg *config.Config) (podflow.EventHandler, func(context.Context) error, error) {
	var exporterOpts []otlptracehttp.Option
	if cfg.Telemetry.Endpoint != "" {
		exporterOpts = append(exporterOpts, otlptracehttp.WithEndpointURL(cfg.Telemetry.Endpoint))
	}
	exporter, err := otlptracehttp.New(ctx, exporterOpts...)
	if err != nil {
		return nil, nil, err
	}

	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	meterProvider := sdkmetric.NewMeterProvider()

	tracing := podotel.NewTracingHandler(tracerProvider.Tracer("podflow"))
	metrics, err := podotel.NewMetricsHandler(meterProvider.Meter("podflow"))
	if err != nil {
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		traceErr := tracerProvider.Shutdown(ctx)
		if metricErr := meterProvider.Shutdown(ctx); metricErr != nil {
			return metricErr
		}
		return traceErr
	}
	return podflow.MultiEventHandler(tracing.Handle, metrics.Handle), shutdown, nil
}
