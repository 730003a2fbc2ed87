package metrics

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveStep(t *testing.T) {
	r := New()

	r.ObserveStep("entitysets", "securable_objects", 3, 20*time.Millisecond)
	r.ObserveStep("entitysets", "securable_objects", 2, 10*time.Millisecond)
	r.ObserveStep("edges", "missing_entity_sets", 0, time.Millisecond)

	assert.Equal(t, 5.0, testutil.ToFloat64(r.RowsReclaimed.WithLabelValues("entitysets", "securable_objects")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.RowsReclaimed.WithLabelValues("edges", "missing_entity_sets")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.StepDuration))

	steps := r.Steps()
	require.Len(t, steps, 3)
	assert.Equal(t, StepRecord{Task: "entitysets", Step: "securable_objects", Rows: 3, Elapsed: 20 * time.Millisecond}, steps[0])
}

func TestObserveTask(t *testing.T) {
	r := New()
	r.ObserveTask("linking", ResultOK, time.Second)
	r.ObserveTask("linking", ResultError, time.Second)
	r.ObserveTask("linking", ResultOK, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.TaskRuns.WithLabelValues("linking", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.TaskRuns.WithLabelValues("linking", ResultError)))
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.ObserveStep("t", "s", 1, time.Second)
	r.ObserveTask("t", ResultOK, time.Second)
	assert.Nil(t, r.Steps())
}

func TestObserveStepConcurrent(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.ObserveStep("integrity", "ids", 1, time.Millisecond)
		}()
	}
	wg.Wait()
	assert.Len(t, r.Steps(), 50)
	assert.Equal(t, 50.0, testutil.ToFloat64(r.RowsReclaimed.WithLabelValues("integrity", "ids")))
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.ObserveStep("edges", "tombstoned_ids", 4, time.Millisecond)

	path := filepath.Join(t.TempDir(), "mender.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `mender_rows_reclaimed_total{step="tombstoned_ids",task="edges"} 4`)
}
