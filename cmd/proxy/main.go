// Command proxy runs the forwarding HTTP/1.x cache proxy.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fcprojects/htcacheproxy/internal/applog"
	"github.com/fcprojects/htcacheproxy/internal/balancer"
	"github.com/fcprojects/htcacheproxy/internal/cacheproxy"
	"github.com/fcprojects/htcacheproxy/internal/config"
	"github.com/fcprojects/htcacheproxy/internal/healthcheck"
)

func main() {
	cfg, err := config.Load(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	log := applog.New("proxy", os.Getenv("PROXY_DEBUG") != "")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	origins := make(map[string]balancer.Balancer, len(cfg.Origins))
	for _, o := range cfg.Origins {
		bal := balancer.New(cfg.BalancerStrategy, o.Addresses)
		origins[o.Host] = bal

		checker := healthcheck.New(bal, cfg.HealthCheckEvery)
		go checker.Run(ctx)
	}

	if cfg.MetricsPort != "" && cfg.MetricsPort != "0" {
		go serveMetrics(cfg.MetricsPort, log)
	}

	handler := cacheproxy.NewHandler(cfg.CacheEnabled, log, nil, origins)
	defer handler.Shutdown()

	server, err := cacheproxy.Listen(cfg.Port, handler, log)
	if err != nil {
		log.Error("listen on port %s: %v", cfg.Port, err)
		os.Exit(1)
	}

	log.Info("listening on %s (cache=%v)", server.Addr(), cfg.CacheEnabled)
	if err := server.Run(ctx); err != nil {
		log.Error("accept loop stopped: %v", err)
		os.Exit(1)
	}
}

func serveMetrics(port string, log *applog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%s", port)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server stopped: %v", err)
	}
}
