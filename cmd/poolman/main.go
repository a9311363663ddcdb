package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/subosito/gotenv"

	"github.com/guileen/poolman/api"
	"github.com/guileen/poolman/client"
	"github.com/guileen/poolman/config"
	"github.com/guileen/poolman/logger"
	"github.com/guileen/poolman/registry"
)

const warmTimeout = 10 * time.Second

func main() {
	startTime := time.Now()

	flags := pflag.NewFlagSet("poolman", pflag.ExitOnError)
	path := flags.StringP("config", "c", os.Getenv("POOLMAN_CONFIG"), "pool file (.yaml, .yml or .toml)")
	envFile := flags.String("env-file", "", "file of POOLMAN_* variables to load before reading the pool file")
	listen := flags.String("listen", "", "admin API address, overrides the pool file")
	watch := flags.Bool("watch", true, "warm pools added to the pool file while running")
	flags.Parse(os.Args[1:])

	if *path == "" && flags.NArg() > 0 {
		*path = flags.Arg(0)
	}
	if *path == "" {
		log.Fatalf("usage: poolman --config <pools.yaml|pools.toml>")
	}

	if *envFile != "" {
		if err := gotenv.Load(*envFile); err != nil {
			logger.Error("Failed to load env file", "error", err, "path", *envFile)
			log.Fatalf("failed to load env file: %v", err)
		}
	}

	file, err := config.LoadFile(*path)
	if err != nil {
		logger.Error("Failed to load pool file", "error", err, "path", *path)
		log.Fatalf("failed to load pool file: %v", err)
	}
	if *listen != "" {
		file.Listen = *listen
	}
	logger.Info("Pool file loaded", "path", *path, "pools", len(file.Pools))

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	reg := registry.New(registry.Options{Logger: logger.Logger, Registerer: metrics})
	c := client.New(reg)
	warmPools(c, file.Pools)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.HandleFunc("/debug/pprof/", pprof.Index)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	r.Handle("/metrics", promhttp.HandlerFor(metrics, promhttp.HandlerOpts{}))

	api.NewHandler(reg, logger.Logger).RegisterRoutes(r)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if *watch {
		go watchPoolFile(ctx, *path, c)
	}

	server := &http.Server{
		Addr:    file.Listen,
		Handler: r,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", file.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed to start", "error", err, "addr", file.Listen)
			log.Fatalf("HTTP server failed to start: %v", err)
		}
	}()
	logger.Info("poolman started", "init_duration", time.Since(startTime).String())

	// Pools shut down before the HTTP server
	<-reg.ShutdownOnSignal(ctx)
	stop()

	shutdownStart := time.Now()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	logger.Info("poolman shutdown complete", "shutdown_duration", time.Since(shutdownStart).String())
}

// warmPools builds every declared pool and checks one connection out and
// back in, so the first consumer finds a live connection on the free list.
// A pool that cannot connect is logged and left cold.
func warmPools(c *client.Client, specs []config.PoolSpec) {
	for _, spec := range specs {
		props := make(map[string]string, len(spec.Properties)+1)
		for k, v := range spec.Properties {
			props[k] = v
		}
		props[config.KeyName] = spec.Name

		if !client.AcceptsURL(spec.URL) {
			logger.Error("Pool url is not a poolman url", "pool", spec.Name, "url_prefix", client.Prefix)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), warmTimeout)
		conn, err := c.Open(ctx, spec.URL, props)
		if err != nil {
			cancel()
			logger.Error("Failed to warm pool", "pool", spec.Name, "error", err)
			continue
		}
		if err := conn.PingContext(ctx); err != nil {
			logger.Warn("Warm-up ping failed", "pool", spec.Name, "error", err)
		}
		conn.Close()
		cancel()
		logger.Info("Pool ready", "pool", spec.Name)
	}
}
