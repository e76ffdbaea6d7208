package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Tutortoise/detection-pipeline/detections"
)

const (
	// DefaultPoolSize Pool configuration
	DefaultPoolSize = 4
	AcquireTimeout  = 5 * time.Second
)

// PipelinePool hands out pipelines, each with its own engine session, so
// concurrent requests never share one.
type PipelinePool struct {
	pipelines chan *detections.Pipeline
	size      int
	timeout   time.Duration
	mu        sync.Mutex
	closed    bool
	metrics   *PoolMetrics
}

type PoolMetrics struct {
	mu              sync.RWMutex
	InUse           int           `json:"sessions_in_use"`
	TotalAcquired   int64         `json:"total_acquired"`
	TotalReleased   int64         `json:"total_released"`
	AcquireFailures int64         `json:"acquire_failures"`
	WaitTime        time.Duration `json:"wait_time_ns"`
}

// NewPipelinePool builds size pipelines with newPipeline. If any fails the
// ones already built are closed.
func NewPipelinePool(size int, timeout time.Duration, newPipeline func() (*detections.Pipeline, error)) (*PipelinePool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if timeout <= 0 {
		timeout = AcquireTimeout
	}

	pool := &PipelinePool{
		pipelines: make(chan *detections.Pipeline, size),
		size:      size,
		timeout:   timeout,
		metrics:   &PoolMetrics{},
	}

	for i := 0; i < size; i++ {
		p, err := newPipeline()
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("failed to initialize pipeline %d: %w", i, err)
		}
		pool.pipelines <- p
	}

	return pool, nil
}

func (p *PipelinePool) Size() int {
	return p.size
}

func (p *PipelinePool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *PipelinePool) Acquire(ctx context.Context) (*detections.Pipeline, error) {
	if p.isClosed() {
		return nil, fmt.Errorf("pool is closed")
	}

	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.WaitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case pipeline, ok := <-p.pipelines:
		if !ok {
			return nil, fmt.Errorf("pool is closed")
		}
		p.metrics.mu.Lock()
		p.metrics.InUse++
		p.metrics.TotalAcquired++
		p.metrics.mu.Unlock()
		return pipeline, nil
	case <-timer.C:
		p.metrics.mu.Lock()
		p.metrics.AcquireFailures++
		p.metrics.mu.Unlock()
		return nil, fmt.Errorf("timeout waiting for available session")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *PipelinePool) Release(pipeline *detections.Pipeline) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.metrics.mu.Lock()
	p.metrics.InUse--
	p.metrics.TotalReleased++
	p.metrics.mu.Unlock()

	if p.closed {
		pipeline.Close()
		return
	}
	p.pipelines <- pipeline
}

// Destroy closes every idle pipeline. Pipelines still checked out are closed
// when released.
func (p *PipelinePool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.pipelines)

	for pipeline := range p.pipelines {
		pipeline.Close()
	}
}

// GetMetrics returns a snapshot.
func (p *PipelinePool) GetMetrics() PoolMetrics {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()
	return PoolMetrics{
		InUse:           p.metrics.InUse,
		TotalAcquired:   p.metrics.TotalAcquired,
		TotalReleased:   p.metrics.TotalReleased,
		AcquireFailures: p.metrics.AcquireFailures,
		WaitTime:        p.metrics.WaitTime,
	}
}
