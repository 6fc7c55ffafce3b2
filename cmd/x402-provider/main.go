// Command x402-provider serves the endpoints listed in a config file behind
// x402 payment gates.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vitwit/x402"
	"github.com/vitwit/x402/config"
	"github.com/vitwit/x402/logger"
	"github.com/vitwit/x402/metrics"
)

func main() {
	path := flag.String("config", "config.yaml", "path to the provider config file")
	flag.Parse()

	if err := run(*path); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(path string) error {
	conf, err := config.Load(path)
	if err != nil {
		return err
	}

	log := logger.New(conf.X402.LogBackend, conf.X402.LogLevel)
	if conf.X402.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	opts := []x402.Option{x402.WithLogger(log)}

	var reg *prometheus.Registry
	if conf.X402.EnableMetrics {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		recorder, err := metrics.NewPrometheusRecorder(reg)
		if err != nil {
			return err
		}
		opts = append(opts, x402.WithMetrics(recorder))
	}

	app, err := x402.New(&conf.X402, opts...)
	if err != nil {
		return err
	}
	defer app.Close()

	router, err := newRouter(app, conf, log, reg)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", conf.Server.Port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen failed", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
	}()
	log.Info("server listening", map[string]any{
		"port":      conf.Server.Port,
		"endpoints": len(conf.Endpoints),
		"chains":    app.Registry().ChainIDs(),
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server", nil)

	ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	log.Info("server exited", nil)
	return nil
}
