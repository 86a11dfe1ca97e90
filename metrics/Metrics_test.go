package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Step()
	m.Step()
	m.EpisodeEnded(false, 12)
	m.EpisodeEnded(true, 3)
	m.LearnCycle(true, false, 0)
	m.LearnCycle(false, false, 10*time.Millisecond)
	m.LearnCycle(false, true, 0)
	m.CheckpointError("save")
	m.SetEpsilon(0.25)
	m.SetReplaySize(40)
	m.SessionStarted()
	m.SessionStarted()
	m.SessionEnded()
	m.ProtocolError()
	m.TransportFailure()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.steps))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.episodes.WithLabelValues("train")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.episodes.WithLabelValues("eval")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.learnCycles.WithLabelValues("ran")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.learnCycles.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.learnCycles.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkpointErrors.WithLabelValues("save")))
	assert.Equal(t, 0.25, testutil.ToFloat64(m.epsilon))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.replaySize))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.protocolErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transportFailures))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Step()
		m.EpisodeEnded(false, 1)
		m.LearnCycle(false, false, time.Second)
		m.SetEpsilon(1)
		m.SessionStarted()
	})
}
