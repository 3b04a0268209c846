// Package metrics holds the Prometheus collectors shared by the bot loops
// and the optional HTTP listener that exports them.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m3rciful/leakbot/core/logger"
)

const namespace = "leakbot"

// Registry is the process-wide registry; tests may read it with testutil.
var Registry = prometheus.NewRegistry()

var (
	updates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Updates handed to the bot after a successful getUpdates call.",
		},
	)
	updateFetchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_fetch_errors_total",
			Help:      "Failed getUpdates calls by error kind.",
		},
		[]string{"kind"},
	)
	replies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Replies sent to users by dispatcher branch.",
		},
		[]string{"kind"},
	)
	sweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Sweeper passes by outcome.",
		},
		[]string{"status"},
	)
	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Leak notifications by result.",
		},
		[]string{"result"},
	)
	pendingLeaks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_leaks",
			Help:      "Leaks not yet marked notified at the end of the last sweep.",
		},
	)
	deadLetteredLeaks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dead_lettered_leaks",
			Help:      "Pending leaks the sweeper no longer retries.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		updates,
		updateFetchErrors,
		replies,
		sweeps,
		notifications,
		pendingLeaks,
		deadLetteredLeaks,
	)
}

// IncUpdate counts one update handed to the bot.
func IncUpdate() { updates.Inc() }

// IncFetchError counts a failed getUpdates call.
func IncFetchError(kind string) { updateFetchErrors.WithLabelValues(label(kind)).Inc() }

// IncReply counts a reply sent for the given dispatcher branch.
func IncReply(kind string) { replies.WithLabelValues(label(kind)).Inc() }

// IncSweep counts a finished sweep pass.
func IncSweep(status string) { sweeps.WithLabelValues(label(status)).Inc() }

// AddNotifications adds n to the notification counter for result.
func AddNotifications(result string, n int) {
	if n <= 0 {
		return
	}
	notifications.WithLabelValues(label(result)).Add(float64(n))
}

// SetPendingLeaks records the number of leaks still waiting for delivery.
func SetPendingLeaks(n int) { pendingLeaks.Set(float64(n)) }

// SetDeadLetteredLeaks records the number of pending leaks no longer retried.
func SetDeadLetteredLeaks(n int) { deadLetteredLeaks.Set(float64(n)) }

func label(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Serve runs the /metrics listener until ctx is done. An empty listen address disables it.
func Serve(ctx context.Context, listen string) error {
	listen = strings.TrimSpace(listen)
	if listen == "" {
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L.Info("metrics listener started",
			slog.String("component", "metrics"),
			slog.String("event", "metrics.listen"),
			slog.String("addr", listen),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
