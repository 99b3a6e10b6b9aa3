package runtime

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StartMetricsServer serves the Prometheus text exposition of gatherer under
// "/metrics" on addr (host:port). Each of routes may add further handlers to
// the same mux. It returns the bound address (which differs from addr when
// port 0 was used) and a shutdown function.
func StartMetricsServer(addr string, gatherer prometheus.Gatherer, routes ...func(*http.ServeMux)) (string, func(ctx context.Context) error, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	for _, route := range routes {
		route(mux)
	}
	return serveHTTP(addr, mux)
}

func serveHTTP(addr string, handler http.Handler) (string, func(ctx context.Context) error, error) {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 3 * time.Second}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}
	bound := ln.Addr().String()
	go func() {
		_ = srv.Serve(ln)
	}()
	stop := func(ctx context.Context) error {
		return srv.Shutdown(ctx)
	}
	return bound, stop, nil
}
