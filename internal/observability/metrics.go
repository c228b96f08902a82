package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rahul/hitobot/internal/milestone"
	"github.com/rahul/hitobot/internal/notify"
)

// Collector owns the process metrics on a private registry.
type Collector struct {
	Registry *prometheus.Registry

	completions   *prometheus.CounterVec
	replans       *prometheus.CounterVec
	cascaded      prometheus.Counter
	sweeps        *prometheus.CounterVec
	sweepMatches  prometheus.Gauge
	sweepDuration prometheus.Histogram
	deliveries    *prometheus.CounterVec
	commands      *prometheus.CounterVec
	storeOps      *prometheus.HistogramVec
}

var (
	_ milestone.Observer      = (*Collector)(nil)
	_ notify.RunObserver      = (*Collector)(nil)
	_ notify.DeliveryObserver = (*Collector)(nil)
)

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Collector{
		Registry: reg,
		completions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hitobot_milestone_completions_total",
			Help: "Milestones completed, by kind",
		}, []string{"kind"}),
		replans: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hitobot_milestone_replans_total",
			Help: "Milestones replanned, by kind",
		}, []string{"kind"}),
		cascaded: f.NewCounter(prometheus.CounterOpts{
			Name: "hitobot_cascade_adjustments_total",
			Help: "Later milestones moved by replan cascades",
		}),
		sweeps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hitobot_sweeps_total",
			Help: "Notification sweeps, by outcome",
		}, []string{"outcome"}),
		sweepMatches: f.NewGauge(prometheus.GaugeOpts{
			Name: "hitobot_sweep_matches",
			Help: "Due milestones found by the latest sweep",
		}),
		sweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hitobot_sweep_duration_seconds",
			Help:    "Sweep plus delivery duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hitobot_deliveries_total",
			Help: "Notification messages, by channel and outcome",
		}, []string{"channel", "outcome"}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hitobot_commands_total",
			Help: "Chat commands handled, by command and outcome",
		}, []string{"command", "outcome"}),
		storeOps: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hitobot_store_operation_duration_seconds",
			Help:    "Store operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"operation", "outcome"}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (c *Collector) ObserveCompletion(done milestone.Completion) {
	c.completions.WithLabelValues(done.Completed.Key).Inc()
}

func (c *Collector) ObserveReplan(r milestone.Replan) {
	c.replans.WithLabelValues(r.Kind.Key).Inc()
	c.cascaded.Add(float64(len(r.Adjustments)))
}

// ObserveSweep also refreshes the status snapshot.
func (c *Collector) ObserveSweep(d notify.Digest, rep notify.Report, err error, elapsed time.Duration) {
	c.sweeps.WithLabelValues(outcome(err)).Inc()
	c.sweepMatches.Set(float64(d.Len()))
	c.sweepDuration.Observe(elapsed.Seconds())
	RecordSweep(d.Target.String(), d.Len(), rep.Sent, rep.Failed, err)
}

func (c *Collector) ObserveDelivery(channel string, err error) {
	c.deliveries.WithLabelValues(channel, outcome(err)).Inc()
}

func (c *Collector) ObserveCommand(command string, ok bool) {
	result := "ok"
	if !ok {
		result = "rejected"
	}
	c.commands.WithLabelValues(command, result).Inc()
}

// ObserveStoreOp matches store.WithOpObserver.
func (c *Collector) ObserveStoreOp(op string, d time.Duration, err error) {
	c.storeOps.WithLabelValues(op, outcome(err)).Observe(d.Seconds())
}

// Serve exposes /metrics on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Metrics endpoint listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
