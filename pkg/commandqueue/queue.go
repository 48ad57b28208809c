// Package commandqueue serializes async work into named lanes. Each task's
// lane runs with bounded concurrency, so one agent session is strictly
// sequential while distinct sessions run in parallel.
package commandqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bayu/arion/internal/observability"
	"github.com/bayu/arion/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Job is an asynchronous operation to be executed on a lane.
type Job func(ctx context.Context) (interface{}, error)

type jobRecord struct {
	id         string
	job        Job
	ctx        context.Context
	enqueuedAt time.Time
	result     chan jobResult
}

type jobResult struct {
	value interface{}
	err   error
}

type laneState struct {
	concurrency int
	queue       []*jobRecord
	running     int
	mu          sync.Mutex
}

// CommandQueue provides lane-based job serialization with concurrency
// control. Enqueue blocks until the job has run.
type CommandQueue struct {
	lanes    map[string]*laneState
	jobIDSeq int
	mu       sync.RWMutex
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a new CommandQueue with default lanes
func New() *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())

	cq := &CommandQueue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
	}

	cq.initLane("main", 1)
	cq.initLane("cron", 2)

	return cq
}

func (cq *CommandQueue) initLane(lane string, concurrency int) {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	if _, exists := cq.lanes[lane]; !exists {
		cq.lanes[lane] = &laneState{concurrency: concurrency}
		log.Debug().Str("lane", lane).Int("concurrency", concurrency).Msg("Lane initialized")
	}
}

// Enqueue adds a job to the specified lane and waits for its result.
func (cq *CommandQueue) Enqueue(lane string, job Job) (interface{}, error) {
	return cq.EnqueueWithContext(context.Background(), lane, job)
}

// EnqueueWithContext adds a job to the specified lane and propagates the
// caller's context into the job.
func (cq *CommandQueue) EnqueueWithContext(ctx context.Context, lane string, job Job) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(ctx, "arion.commandqueue", "commandqueue.enqueue",
		attribute.String("lane", lane),
	)
	defer span.End()

	cq.ensureLane(lane)

	cq.mu.Lock()
	cq.jobIDSeq++
	jobID := fmt.Sprintf("%s-%d", lane, cq.jobIDSeq)
	ls := cq.lanes[lane]
	cq.mu.Unlock()

	record := &jobRecord{
		id:         jobID,
		job:        job,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		result:     make(chan jobResult, 1),
	}

	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("lane", lane).
		Str("jobId", jobID).
		Int("queueSize", queueSize).
		Msg("Job enqueued")

	observability.RecordQueueEnqueue(lane, queueSize)

	go cq.processLane(lane)

	result := <-record.result
	if result.err != nil {
		span.RecordError(result.err)
		span.SetStatus(codes.Error, result.err.Error())
	}
	return result.value, result.err
}

func (cq *CommandQueue) ensureLane(lane string) {
	cq.mu.RLock()
	_, exists := cq.lanes[lane]
	cq.mu.RUnlock()

	if !exists {
		cq.initLane(lane, 1)
	}
}

func (cq *CommandQueue) processLane(lane string) {
	cq.mu.RLock()
	ls := cq.lanes[lane]
	cq.mu.RUnlock()

	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]
		ls.running++

		cq.wg.Add(1)
		go cq.executeJob(lane, ls, record)
	}
}

func (cq *CommandQueue) executeJob(lane string, ls *laneState, record *jobRecord) {
	defer cq.wg.Done()

	jobCtx, span := tracing.StartSpan(record.ctx, "arion.commandqueue", "commandqueue.execute_job",
		attribute.String("lane", lane),
		attribute.String("job_id", record.id),
	)
	defer span.End()

	runCtx, cancel := context.WithCancel(jobCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	start := time.Now()
	value, err := record.job(runCtx)
	duration := time.Since(start)

	ls.mu.Lock()
	ls.running--
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	record.result <- jobResult{value: value, err: err}
	close(record.result)

	logger := tracing.LoggerFromContext(runCtx, log.Logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().
			Str("lane", lane).
			Str("jobId", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Job failed")
	} else {
		logger.Debug().
			Str("lane", lane).
			Str("jobId", record.id).
			Dur("duration", duration).
			Msg("Job completed")
	}

	observability.RecordQueueCompletion(lane, duration, err == nil, queueSize)

	// More work may have queued up while this job ran.
	go cq.processLane(lane)
}

// QueueSize returns how many jobs are waiting on a lane.
func (cq *CommandQueue) QueueSize(lane string) int {
	cq.mu.RLock()
	ls, ok := cq.lanes[lane]
	cq.mu.RUnlock()
	if !ok {
		return 0
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// Close cancels running jobs and waits for them to finish.
func (cq *CommandQueue) Close() {
	cq.cancel()
	cq.wg.Wait()
}
