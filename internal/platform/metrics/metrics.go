package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the claimer's Prometheus collectors. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	registry       *prometheus.Registry
	claimAttempts  *prometheus.CounterVec
	mintOutcomes   *prometheus.CounterVec
	triggers       *prometheus.CounterVec
	blastLatency   prometheus.Histogram
	authorizations prometheus.Counter
}

func New() *Recorder {
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "b402_claim_attempts_total",
		Help: "Claim orchestration attempts by result",
	}, []string{"result"})

	mints := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "b402_mint_submissions_total",
		Help: "Per-authorization mint submissions by result",
	}, []string{"result"})

	triggers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "b402_watch_triggers_total",
		Help: "Watched-sender transactions seen by the watcher, by decision",
	}, []string{"decision"})

	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "b402_blast_duration_seconds",
		Help:    "Wall time for a whole batch to resolve",
		Buckets: prometheus.DefBuckets,
	})

	signed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "b402_authorizations_signed_total",
		Help: "Payment authorizations built and signed",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(attempts, mints, triggers, latency, signed)

	return &Recorder{
		registry:       r,
		claimAttempts:  attempts,
		mintOutcomes:   mints,
		triggers:       triggers,
		blastLatency:   latency,
		authorizations: signed,
	}
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) IncAttempt(result string) {
	if r == nil {
		return
	}
	r.claimAttempts.WithLabelValues(result).Inc()
}

func (r *Recorder) IncMint(result string) {
	if r == nil {
		return
	}
	r.mintOutcomes.WithLabelValues(result).Inc()
}

func (r *Recorder) IncTrigger(decision string) {
	if r == nil {
		return
	}
	r.triggers.WithLabelValues(decision).Inc()
}

func (r *Recorder) AddAuthorizations(n int) {
	if r == nil {
		return
	}
	r.authorizations.Add(float64(n))
}

func (r *Recorder) ObserveBlast(d time.Duration) {
	if r == nil {
		return
	}
	r.blastLatency.Observe(d.Seconds())
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
