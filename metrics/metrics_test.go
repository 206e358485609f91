package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thought-machine/forge/engine"
	"github.com/thought-machine/forge/label"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	c, err := vec.GetMetricWithLabelValues(labels...)
	require.NoError(t, err)
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()
	g, err := vec.GetMetricWithLabelValues(labels...)
	require.NoError(t, err)
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestObserveTracksInFlightRuleState(t *testing.T) {
	r := newRecorder("http://example.invalid", time.Hour, time.Second, nil)
	target := label.New("", "foo", "bar", nil, "")

	r.observe(engine.Event{Target: target, State: engine.BuildSteps, Phase: engine.Started})
	assert.Equal(t, float64(1), gaugeValue(t, r.ruleStateGauge, "BUILD_STEPS"))

	r.observe(engine.Event{Target: target, State: engine.BuildSteps, Phase: engine.Finished})
	assert.Equal(t, float64(0), gaugeValue(t, r.ruleStateGauge, "BUILD_STEPS"))
}

func TestObserveCountsTerminalStates(t *testing.T) {
	r := newRecorder("http://example.invalid", time.Hour, time.Second, nil)
	target := label.New("", "foo", "bar", nil, "")

	r.observe(engine.Event{Target: target, State: engine.Done, Phase: engine.Finished})
	r.observe(engine.Event{Target: target, State: engine.Done, Phase: engine.Finished})
	r.observe(engine.Event{Target: target, State: engine.Failed, Phase: engine.Finished})

	assert.Equal(t, float64(2), counterValue(t, r.buildCounter, "DONE"))
	assert.Equal(t, float64(1), counterValue(t, r.buildCounter, "FAIL"))
}

func TestObserveRecordsCacheHitOnMaterialize(t *testing.T) {
	r := newRecorder("http://example.invalid", time.Hour, time.Second, nil)
	target := label.New("", "foo", "bar", nil, "")

	r.observe(engine.Event{Target: target, State: engine.Materialize, Phase: engine.Finished})

	assert.Equal(t, float64(1), counterValue(t, r.cacheCounter, "true"))
}

func TestSubscribeConsumesBusEventsUntilStop(t *testing.T) {
	bus := engine.NewBus()
	r := newRecorder("http://example.invalid", time.Hour, time.Second, nil)
	r.Subscribe(bus)

	target := label.New("", "foo", "bar", nil, "")
	bus.Publish(engine.Event{Target: target, State: engine.Done, Phase: engine.Finished})

	require.Eventually(t, func() bool {
		return counterValue(t, r.buildCounter, "DONE") == 1
	}, time.Second, 10*time.Millisecond)

	r.Stop()
}
