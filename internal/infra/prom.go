package infra

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "market_maker"

// MetricsCollector exposes a Metrics instance to Prometheus scrapes.
// It converts an atomic snapshot on each Collect, so the trading hot path
// never touches prometheus types.
type MetricsCollector struct {
	source *Metrics

	requestsTotal    *prometheus.Desc
	ordersPlaced     *prometheus.Desc
	ordersFailed     *prometheus.Desc
	ordersCancelled  *prometheus.Desc
	reconnectsTotal  *prometheus.Desc
	booksTotal       *prometheus.Desc
	rotationsTotal   *prometheus.Desc
	responseSeconds  *prometheus.Desc
	executionSeconds *prometheus.Desc
	reactionSeconds  *prometheus.Desc
	uptimeRatio      *prometheus.Desc
}

// NewMetricsCollector creates a collector reading from source.
func NewMetricsCollector(source *Metrics) *MetricsCollector {
	counter := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", name), help, nil, nil)
	}
	latency := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", name), help, []string{"stat"}, nil)
	}

	return &MetricsCollector{
		source:           source,
		requestsTotal:    counter("requests_total", "Trading requests sent to the exchange"),
		ordersPlaced:     counter("orders_placed_total", "Successfully placed orders"),
		ordersFailed:     counter("orders_failed_total", "Rejected or failed order requests"),
		ordersCancelled:  counter("orders_cancelled_total", "Successfully cancelled orders"),
		reconnectsTotal:  counter("reconnects_total", "Connection recoveries"),
		booksTotal:       counter("book_updates_total", "Depth updates received"),
		rotationsTotal:   counter("rotations_total", "Completed quote rotations"),
		responseSeconds:  latency("response_seconds", "Exchange response time"),
		executionSeconds: latency("execution_latency_seconds", "Decision to placement latency"),
		reactionSeconds:  latency("reaction_latency_seconds", "Book arrival to placement latency"),
		uptimeRatio:      counter("uptime_percent", "Connected share of elapsed runtime"),
	}
}

// Describe implements prometheus.Collector.
func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requestsTotal
	ch <- c.ordersPlaced
	ch <- c.ordersFailed
	ch <- c.ordersCancelled
	ch <- c.reconnectsTotal
	ch <- c.booksTotal
	ch <- c.rotationsTotal
	ch <- c.responseSeconds
	ch <- c.executionSeconds
	ch <- c.reactionSeconds
	ch <- c.uptimeRatio
}

// Collect implements prometheus.Collector.
func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.requestsTotal, prometheus.CounterValue, float64(snap.TotalRequests))
	ch <- prometheus.MustNewConstMetric(c.ordersPlaced, prometheus.CounterValue, float64(snap.SuccessfulOrders))
	ch <- prometheus.MustNewConstMetric(c.ordersFailed, prometheus.CounterValue, float64(snap.FailedOrders))
	ch <- prometheus.MustNewConstMetric(c.ordersCancelled, prometheus.CounterValue, float64(snap.CancelledOrders))
	ch <- prometheus.MustNewConstMetric(c.reconnectsTotal, prometheus.CounterValue, float64(snap.ReconnectCount))
	ch <- prometheus.MustNewConstMetric(c.booksTotal, prometheus.CounterValue, float64(snap.BooksReceived))
	ch <- prometheus.MustNewConstMetric(c.rotationsTotal, prometheus.CounterValue, float64(snap.Rotations))

	c.emitLatency(ch, c.responseSeconds, snap.ResponseTime)
	c.emitLatency(ch, c.executionSeconds, snap.Execution)
	c.emitLatency(ch, c.reactionSeconds, snap.Reaction)

	ch <- prometheus.MustNewConstMetric(c.uptimeRatio, prometheus.GaugeValue, snap.UptimePercent)
}

func (c *MetricsCollector) emitLatency(ch chan<- prometheus.Metric, desc *prometheus.Desc, stats LatencyStats) {
	emit := func(stat string, d time.Duration) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, d.Seconds(), stat)
	}
	emit("min", stats.Min)
	emit("avg", stats.Avg)
	emit("max", stats.Max)
}

// ServeMetrics runs the Prometheus endpoint on addr.
// Blocks until the listener fails, so run it in its own goroutine.
func ServeMetrics(addr string, source *Metrics) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(NewMetricsCollector(source))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	slog.Info("Metrics server started", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("Metrics server failed", slog.Any("error", err))
	}
}
