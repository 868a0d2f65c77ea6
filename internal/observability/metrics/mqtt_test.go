package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMQTTMetrics(t *testing.T) {
	t.Parallel()
	m, err := NewMQTTMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.UpdateConnectionStatus(true)
	m.IncrementMessagesDelivered()
	m.IncrementMessagesDelivered()
	m.IncrementErrors()
	m.IncrementReconnectAttempts()
	m.ObserveMessageSize(128)
	m.StartPublishTimer().ObserveDuration()

	assert.InDelta(t, 1, testutil.ToFloat64(m.ConnectionStatus), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.MessagesDelivered), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Errors), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ReconnectAttempts), 0)
	assert.Positive(t, testutil.ToFloat64(m.LastConnectTime))

	m.UpdateConnectionStatus(false)
	assert.InDelta(t, 0, testutil.ToFloat64(m.ConnectionStatus), 0)
}

func TestMQTTMetricsRegisterOnce(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	_, err := NewMQTTMetrics(reg)
	require.NoError(t, err)
	_, err = NewMQTTMetrics(reg)
	assert.Error(t, err)
}

func TestNilMetricsAreNoops(t *testing.T) {
	t.Parallel()
	var (
		mq *MQTTMetrics
		p  *PipelineMetrics
		r  *RecognizerMetrics
	)
	assert.NotPanics(t, func() {
		mq.UpdateConnectionStatus(true)
		mq.IncrementMessagesDelivered()
		mq.IncrementErrors()
		mq.IncrementReconnectAttempts()
		mq.ObserveMessageSize(1)
		mq.StartPublishTimer().ObserveDuration()

		p.RecordRent("pool", ResultHit)
		p.RecordReturn("pool", ResultPooled)
		p.RecordWorkerItem("w")
		p.RecordWorkerRun("w", OutcomeStopped)
		p.SetWorkerBacklog("w", 3)

		r.RecordResult(KindFinal)
		r.RecordSession(OutcomeFinished)
		r.AddSamples(10)
		r.ObserveEngineStep(0)
		r.RecordModelOperation("install", "success")
		r.ObserveModelLoad(0)
		r.SessionStarted()
		r.SessionEnded()
	})
}
