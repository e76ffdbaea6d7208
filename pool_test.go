package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tutortoise/detection-pipeline/detections"
	"github.com/Tutortoise/detection-pipeline/engine/enginetest"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestPool(t *testing.T, size int, timeout time.Duration) (*PipelinePool, []*enginetest.Model) {
	t.Helper()
	var built []*enginetest.Model
	pool, err := NewPipelinePool(size, timeout, func() (*detections.Pipeline, error) {
		model := enginetest.NewDetector(detections.InputWidth, detections.InputHeight,
			enginetest.DetectionOutput([6]float32{10, 10, 100, 100, 0.9, 2}))
		built = append(built, model)
		return detections.NewPipeline(model, detections.DefaultOptions(), quietLogger())
	})
	require.NoError(t, err)
	return pool, built
}

func TestPipelinePoolAcquireRelease(t *testing.T) {
	pool, _ := newTestPool(t, 2, time.Second)
	defer pool.Destroy()

	assert.Equal(t, 2, pool.Size())

	a, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	b, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	m := pool.GetMetrics()
	assert.Equal(t, 2, m.InUse)
	assert.EqualValues(t, 2, m.TotalAcquired)

	pool.Release(a)
	pool.Release(b)

	m = pool.GetMetrics()
	assert.Equal(t, 0, m.InUse)
	assert.EqualValues(t, 2, m.TotalReleased)
}

func TestPipelinePoolAcquireTimeout(t *testing.T) {
	pool, _ := newTestPool(t, 1, 20*time.Millisecond)
	defer pool.Destroy()

	p, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(p)

	_, err = pool.Acquire(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	assert.EqualValues(t, 1, pool.GetMetrics().AcquireFailures)
}

func TestPipelinePoolAcquireCanceled(t *testing.T) {
	pool, _ := newTestPool(t, 1, time.Minute)
	defer pool.Destroy()

	p, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipelinePoolDestroy(t *testing.T) {
	pool, built := newTestPool(t, 2, time.Second)

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	pool.Destroy()
	assert.True(t, pool.isClosed())

	closed := 0
	for _, m := range built {
		if m.Closed() {
			closed++
		}
	}
	assert.Equal(t, 1, closed, "idle pipeline closed, held one still open")

	pool.Release(held)
	for _, m := range built {
		assert.True(t, m.Closed())
	}

	_, err = pool.Acquire(context.Background())
	assert.Error(t, err)

	// second Destroy is a no-op
	pool.Destroy()
}

func TestNewPipelinePoolCleansUpOnFailure(t *testing.T) {
	var built []*enginetest.Model
	calls := 0
	_, err := NewPipelinePool(3, time.Second, func() (*detections.Pipeline, error) {
		calls++
		if calls == 3 {
			return nil, errors.New("no more sessions")
		}
		model := enginetest.NewDetector(640, 640, enginetest.DetectionOutput([6]float32{0, 0, 1, 1, 0.5, 0}))
		built = append(built, model)
		return detections.NewPipeline(model, detections.DefaultOptions(), quietLogger())
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline 2")
	require.Len(t, built, 2)
	for _, m := range built {
		assert.True(t, m.Closed())
	}
}
