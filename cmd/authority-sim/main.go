// Command authority-sim runs a local key-issuance authority for development
// and testing. It serves the envelope and verification-key endpoints the
// library consumes, plus grant management, Prometheus metrics and optional
// stdout trace export.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/kenneth/record-encryption/internal/authority/sim"
	"github.com/kenneth/record-encryption/internal/metrics"
	"github.com/kenneth/record-encryption/internal/middleware"
)

func main() {
	var (
		addr        = flag.String("addr", ":9321", "Listen address")
		seedHex     = flag.String("master-seed", "", "Hex-encoded 32-byte master seed (random if empty)")
		verbose     = flag.Bool("verbose", false, "Enable debug logging")
		traceStdout = flag.Bool("trace", false, "Export traces to stdout")
	)
	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	if *traceStdout {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			logger.WithError(err).Fatal("failed to create trace exporter")
		}
		provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(provider)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = provider.Shutdown(ctx)
		}()
	}

	simulator, err := buildSimulator(*seedHex)
	if err != nil {
		logger.WithError(err).Fatal("failed to build simulator")
	}

	server := sim.NewServer(simulator, logger)
	router := server.Router()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health", metrics.HealthHandler()).Methods(http.MethodGet)
	router.HandleFunc("/ready", metrics.ReadinessHandler(nil)).Methods(http.MethodGet)
	router.HandleFunc("/live", metrics.LivenessHandler()).Methods(http.MethodGet)
	router.Use(mux.MiddlewareFunc(middleware.Recovery(logger)))
	router.Use(mux.MiddlewareFunc(middleware.Logging(logger)))

	httpServer := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("addr", *addr).Info("authority simulator listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("shutdown failed")
	}
}

func buildSimulator(seedHex string) (*sim.Simulator, error) {
	if seedHex == "" {
		return sim.NewRandom()
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, err
	}
	return sim.New(seed)
}
