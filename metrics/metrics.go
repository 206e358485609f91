// Package metrics reports scheduler and cache metrics to an external
// Prometheus pushgateway. Because a build is a transient process we
// can't wait around for Prometheus to scrape us, so we push on a ticker
// instead. A Recorder subscribes to an engine.Bus and derives every
// gauge and histogram from the event stream.
package metrics

import (
	"context"
	"fmt"
	"os/user"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/forge/core"
	"github.com/thought-machine/forge/engine"
)

var log = logging.MustGetLogger("metrics")

// maxErrors is the number of consecutive push failures after which a
// Recorder stops trying.
const maxErrors = 3

// buckets are the histogram buckets used for both build and cache
// retrieval durations, in seconds.
var buckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 25.0, 50.0, 100.0}

// A Recorder subscribes to an engine.Bus and maintains a Prometheus
// registry of scheduler gauges (queue depth, worker occupancy) and
// counters/histograms (cache hit rate, build/cache durations), pushing
// them to a gateway on a ticker.
type Recorder struct {
	url     string
	timeout time.Duration
	ticker  *time.Ticker

	registry *prometheus.Registry

	ruleStateGauge *prometheus.GaugeVec
	cacheCounter   *prometheus.CounterVec
	buildCounter   *prometheus.CounterVec
	buildHistogram *prometheus.HistogramVec
	cacheHistogram *prometheus.HistogramVec

	mu         sync.Mutex
	inState    map[engine.State]int
	started    map[engine.State]time.Time
	newMetrics bool
	errors     int
	pushes     int

	cancel context.CancelFunc
	done   chan struct{}
}

// InitFromConfig constructs a Recorder from repo configuration and
// starts it subscribed to bus, or returns nil if no pushgateway is
// configured; metrics are opt-in.
func InitFromConfig(config *core.Configuration, bus *engine.Bus) *Recorder {
	if config.Metrics.PushGatewayURL == "" {
		return nil
	}
	constLabels := prometheus.Labels{}
	if config.Metrics.PerUser {
		if u, err := user.Current(); err == nil {
			constLabels["user"] = u.Username
		} else {
			log.Warningf("can't determine current user for metrics: %s", err)
		}
		constLabels["arch"] = runtime.GOOS + "_" + runtime.GOARCH
	}
	for k, v := range config.CustomMetricLabels {
		constLabels[k] = v
	}

	frequency := time.Duration(config.Metrics.PushFrequencySecs) * time.Second
	if frequency <= 0 {
		frequency = 2 * time.Second
	}
	timeout := time.Duration(config.Metrics.PushTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	r := newRecorder(config.Metrics.PushGatewayURL, frequency, timeout, constLabels)
	r.Subscribe(bus)
	return r
}

func newRecorder(url string, frequency, timeout time.Duration, constLabels prometheus.Labels) *Recorder {
	r := &Recorder{
		url:      url,
		timeout:  timeout,
		ticker:   time.NewTicker(frequency),
		registry: prometheus.NewRegistry(),
		inState:  make(map[engine.State]int),
		started:  make(map[engine.State]time.Time),
		done:     make(chan struct{}),
	}

	r.ruleStateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "forge_rules_in_state",
		Help:        "Number of rules currently occupying each scheduler state",
		ConstLabels: constLabels,
	}, []string{"state"})

	r.cacheCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "forge_cache_results_total",
		Help:        "Count of cache probe results by outcome",
		ConstLabels: constLabels,
	}, []string{"hit"})

	r.buildCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "forge_rule_completions_total",
		Help:        "Count of rule completions by terminal state",
		ConstLabels: constLabels,
	}, []string{"state"})

	r.buildHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "forge_build_steps_duration_seconds",
		Help:        "Durations of BUILD_STEPS per rule",
		Buckets:     buckets,
		ConstLabels: constLabels,
	}, []string{})

	r.cacheHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "forge_cache_probe_duration_seconds",
		Help:        "Durations of CACHE_PROBE per rule",
		Buckets:     buckets,
		ConstLabels: constLabels,
	}, []string{})

	r.registry.MustRegister(r.ruleStateGauge, r.cacheCounter, r.buildCounter, r.buildHistogram, r.cacheHistogram)
	return r
}

// Subscribe starts consuming bus's event stream in the background until
// Stop is called.
func (r *Recorder) Subscribe(bus *engine.Bus) {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	ch, _ := bus.Subscribe()
	go r.consume(ctx, ch)
	go r.keepPushing(ctx)
}

func (r *Recorder) consume(ctx context.Context, ch <-chan engine.Event) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			r.observe(e)
		}
	}
}

func (r *Recorder) observe(e engine.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e.Phase {
	case engine.Started:
		r.inState[e.State]++
		r.ruleStateGauge.WithLabelValues(e.State.String()).Set(float64(r.inState[e.State]))
		if e.State == engine.BuildSteps || e.State == engine.CacheProbe {
			r.started[e.State] = r.now()
		}
		// ScheduleDeps is only ever entered on the cache-miss path.
		if e.State == engine.ScheduleDeps {
			r.cacheCounter.WithLabelValues("false").Inc()
		}
	case engine.Finished:
		if r.inState[e.State] > 0 {
			r.inState[e.State]--
		}
		r.ruleStateGauge.WithLabelValues(e.State.String()).Set(float64(r.inState[e.State]))

		switch e.State {
		case engine.BuildSteps:
			if start, ok := r.started[engine.BuildSteps]; ok {
				r.buildHistogram.WithLabelValues().Observe(r.now().Sub(start).Seconds())
			}
		case engine.CacheProbe:
			if start, ok := r.started[engine.CacheProbe]; ok {
				r.cacheHistogram.WithLabelValues().Observe(r.now().Sub(start).Seconds())
			}
		case engine.Materialize:
			r.cacheCounter.WithLabelValues("true").Inc()
		case engine.Done, engine.Failed, engine.Canceled:
			r.buildCounter.WithLabelValues(e.State.String()).Inc()
		}
	}
	r.newMetrics = true
}

// now exists so tests could substitute a deterministic clock; production
// always uses the wall clock.
func (r *Recorder) now() time.Time { return time.Now() }

func (r *Recorder) keepPushing(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.pushMetrics()
			return
		case <-r.ticker.C:
			if r.pushMetrics() >= maxErrors {
				log.Warning("metrics don't seem to be working, giving up")
				return
			}
		}
	}
}

func (r *Recorder) pushMetrics() int {
	r.mu.Lock()
	if !r.newMetrics {
		r.mu.Unlock()
		return r.errors
	}
	r.newMetrics = false
	r.mu.Unlock()

	start := time.Now()
	if err := r.deadline(func() error {
		return push.New(r.url, "forge").Gatherer(r.registry).Push()
	}, r.timeout); err != nil {
		log.Warningf("could not push metrics: %s", err)
		r.mu.Lock()
		r.newMetrics = true
		r.errors++
		r.mu.Unlock()
		return r.errors
	}
	r.mu.Lock()
	r.pushes++
	r.errors = 0
	pushes := r.pushes
	r.mu.Unlock()
	log.Debugf("push #%d of metrics in %0.3fs", pushes, time.Since(start).Seconds())
	return 0
}

func (r *Recorder) deadline(f func() error, timeout time.Duration) error {
	c := make(chan error, 1)
	go func() { c <- f() }()
	select {
	case err := <-c:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("metrics push timed out")
	}
}

// Stop halts the ticker and background consumer, then pushes any
// metrics recorded since the last push before returning. A push the
// background pusher has already started when Stop cancels it is not
// waited for.
func (r *Recorder) Stop() {
	if r == nil {
		return
	}
	r.ticker.Stop()
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
	r.pushMetrics()
}
