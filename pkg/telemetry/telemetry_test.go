package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveTrial(t *testing.T) {
	before := testutil.ToFloat64(TrialsTotal.WithLabelValues("test_predictor", ResultComplete))
	ObserveTrial("test_predictor", ResultComplete, 50*time.Millisecond)
	ObserveTrial("test_predictor", ResultCached, 0)

	assert.Equal(t, before+1, testutil.ToFloat64(TrialsTotal.WithLabelValues("test_predictor", ResultComplete)))
	assert.Equal(t, 1.0, testutil.ToFloat64(TrialsTotal.WithLabelValues("test_predictor", ResultCached)))
	assert.Equal(t, 1, testutil.CollectAndCount(TrialDuration, "prognosis_trial_duration_seconds"))
}

func TestQueueDepth(t *testing.T) {
	QueueDepth.Set(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(QueueDepth))
	QueueDepth.Set(0)
}
