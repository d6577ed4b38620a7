// Package metric provides Prometheus-based metrics collection for the
// robot client stack.
//
// The package offers a centralized registry managing component-scoped
// metrics (control-plane request counts, streaming frame rates, drop
// counters) plus an optional HTTP server exposing them in Prometheus
// format.
//
// Metrics are always optional: every component in this module accepts a
// nil *MetricsRegistry and skips instrumentation when none is provided.
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//
//	go func() {
//	    if err := server.Start(); err != nil && err != http.ErrServerClosed {
//	        log.Printf("metrics server error: %v", err)
//	    }
//	}()
//
//	counter := prometheus.NewCounter(prometheus.CounterOpts{
//	    Name: "egm_frames_received_total",
//	    Help: "Total sensor frames received",
//	})
//	_ = registry.RegisterCounter("egm", "frames_received", counter)
package metric
