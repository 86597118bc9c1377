package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"voice-summarizer/internal/config"
	"voice-summarizer/internal/queue"
	"voice-summarizer/internal/store"
	"voice-summarizer/internal/telemetry"
	"voice-summarizer/internal/workflow"
)

// Runner dispatches queued job ids to workflow executions. Executions for
// different jobs run fully in parallel; the per-job exec lock guarantees a
// single active execution per job id.
type Runner struct {
	cfg    config.Config
	queue  *queue.RedisQueue
	lock   *queue.ExecLock
	store  *store.Store
	engine *workflow.Engine
}

// NewRunner wires the dispatch loop.
func NewRunner(cfg config.Config, q *queue.RedisQueue, lock *queue.ExecLock, st *store.Store, engine *workflow.Engine) *Runner {
	return &Runner{cfg: cfg, queue: q, lock: lock, store: st, engine: engine}
}

// Run starts the main dispatch loop until context cancellation, then waits
// for in-flight executions to wind down.
func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	idle := r.cfg.WorkerIdle
	if idle == 0 {
		idle = time.Second
	}
	purgeTicker := time.NewTicker(time.Minute)
	defer purgeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-purgeTicker.C:
			if n, err := r.store.PurgeExpired(ctx, time.Now()); err == nil && n > 0 {
				log.Printf("purged %d expired job records", n)
			}
		default:
		}

		reclaimed, err := r.queue.RequeueExpired(ctx, time.Now(), 100)
		if err != nil {
			log.Printf("requeue expired leases: %v", err)
		} else if len(reclaimed) > 0 {
			log.Printf("requeued %d expired leases", len(reclaimed))
		}
		if depth, err := r.queue.Depth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		jobID, err := r.queue.DequeueWithLease(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("dequeue: %v", err)
			time.Sleep(idle)
			continue
		}
		if jobID == "" {
			time.Sleep(idle)
			continue
		}

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r.execute(ctx, id)
		}(jobID)
	}
}

// execute runs one workflow execution under the per-job lock. A delivery
// that loses the lock race is dropped without acking; the winner's lease
// entry keeps the job tracked.
func (r *Runner) execute(ctx context.Context, jobID string) {
	token, ok, err := r.lock.Acquire(ctx, jobID)
	if err != nil {
		log.Printf("job %s: acquire exec lock: %v", jobID, err)
		return
	}
	if !ok {
		log.Printf("job %s: execution already active, dropping duplicate delivery", jobID)
		return
	}
	defer func() {
		if err := r.lock.Release(context.Background(), jobID, token); err != nil {
			log.Printf("job %s: release exec lock: %v", jobID, err)
		}
	}()

	if err := r.engine.Run(ctx, jobID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Record purged after retention; nothing left to run.
			_ = r.queue.Ack(context.Background(), jobID)
			return
		}
		// Leave the lease in place so the job is redelivered.
		log.Printf("job %s: execution interrupted: %v", jobID, err)
		return
	}
	if err := r.queue.Ack(context.Background(), jobID); err != nil {
		log.Printf("job %s: ack: %v", jobID, err)
	}
}
