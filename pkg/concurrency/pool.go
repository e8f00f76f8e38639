// Package concurrency runs the daemon's fire-and-forget work (refill
// executions, alert deliveries) on bounded alitto/pond pools.
package concurrency

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"walletd/internal/core"

	"github.com/alitto/pond"
)

var (
	// ErrStopped is returned by Submit after Stop
	ErrStopped = errors.New("pool stopped")
	// ErrFull is returned by a non-blocking pool whose queue is at capacity
	ErrFull = errors.New("pool queue full")
)

type PoolConfig struct {
	Name        string
	MaxWorkers  int
	MaxCapacity int
	IdleTimeout time.Duration
	// NonBlocking rejects work with ErrFull instead of waiting for queue space.
	NonBlocking bool
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 4
	}
	if c.MaxCapacity <= 0 {
		c.MaxCapacity = 64
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = time.Minute
	}
	return c
}

// PoolStats is what the admin status endpoint reports per pool
type PoolStats struct {
	Name      string `json:"name"`
	Workers   int    `json:"workers"`
	Idle      int    `json:"idle"`
	Queued    uint64 `json:"queued"`
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Panicked  uint64 `json:"panicked"`
	Rejected  uint64 `json:"rejected"`
}

type WorkerPool struct {
	name        string
	capacity    int
	nonBlocking bool
	pool        *pond.WorkerPool
	logger      core.ILogger
	rejected    atomic.Uint64
}

func NewWorkerPool(cfg PoolConfig, logger core.ILogger) *WorkerPool {
	cfg = cfg.withDefaults()
	wp := &WorkerPool{
		name:        cfg.Name,
		capacity:    cfg.MaxCapacity,
		nonBlocking: cfg.NonBlocking,
		logger:      logger.WithField("component", "worker_pool").WithField("pool", cfg.Name),
	}
	wp.pool = pond.New(cfg.MaxWorkers, cfg.MaxCapacity,
		pond.MinWorkers(1),
		pond.IdleTimeout(cfg.IdleTimeout),
		pond.Strategy(pond.Balanced()),
		pond.PanicHandler(wp.onPanic),
	)
	return wp
}

func (wp *WorkerPool) onPanic(p interface{}) {
	wp.logger.Error("Task panicked", "panic", p)
}

// Submit queues task. A non-blocking pool never waits.
func (wp *WorkerPool) Submit(task func()) error {
	if wp.pool.Stopped() {
		wp.rejected.Add(1)
		return fmt.Errorf("%s: %w", wp.name, ErrStopped)
	}
	if !wp.nonBlocking {
		wp.pool.Submit(task)
		return nil
	}
	if !wp.pool.TrySubmit(task) {
		wp.rejected.Add(1)
		return fmt.Errorf("%s (capacity %d): %w", wp.name, wp.capacity, ErrFull)
	}
	return nil
}

// SubmitAndWait runs task on the pool and returns when it is done
func (wp *WorkerPool) SubmitAndWait(task func()) {
	wp.pool.SubmitAndWait(task)
}

// Stop drains the queue, then stops the workers
func (wp *WorkerPool) Stop() {
	wp.pool.StopAndWait()
}

func (wp *WorkerPool) Stats() PoolStats {
	p := wp.pool
	return PoolStats{
		Name:      wp.name,
		Workers:   p.RunningWorkers(),
		Idle:      p.IdleWorkers(),
		Queued:    p.WaitingTasks(),
		Submitted: p.SubmittedTasks(),
		Completed: p.SuccessfulTasks(),
		Panicked:  p.FailedTasks(),
		Rejected:  wp.rejected.Load(),
	}
}
