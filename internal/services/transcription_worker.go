package services

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/insightlearn/backend/internal/logger"
	"github.com/insightlearn/backend/internal/repos"
	"github.com/insightlearn/backend/internal/types"
	"github.com/insightlearn/backend/internal/utils"
)

// TranscriptionWorker drains the job table. Claiming uses SKIP LOCKED so
// multiple processes can run workers against the same database; the lease
// row is the second line of defense against a claim surviving a crashed
// worker's row locks.
type TranscriptionWorker struct {
	db          *gorm.DB
	log         *logger.Logger
	jobs        repos.TranscriptionJobRepo
	leases      repos.TranscriptionLeaseRepo
	transcripts TranscriptService
	engine      SpeechEngine

	workerID    uuid.UUID
	concurrency int

	pollInterval    time.Duration
	heartbeatEvery  time.Duration
	leaseTTL        time.Duration
	staleProcessing time.Duration
	maxAttempts     int
	retryBase       time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewTranscriptionWorker(
	db *gorm.DB,
	baseLog *logger.Logger,
	jobs repos.TranscriptionJobRepo,
	leases repos.TranscriptionLeaseRepo,
	transcripts TranscriptService,
	engine SpeechEngine,
) *TranscriptionWorker {
	log := baseLog.With("service", "TranscriptionWorker")
	return &TranscriptionWorker{
		db:              db,
		log:             log,
		jobs:            jobs,
		leases:          leases,
		transcripts:     transcripts,
		engine:          engine,
		workerID:        uuid.New(),
		concurrency:     utils.GetEnvAsInt("WORKER_CONCURRENCY", 2, log),
		pollInterval:    time.Second,
		heartbeatEvery:  30 * time.Second,
		leaseTTL:        10 * time.Minute,
		// Reclaiming before the dead worker's lease expires just churns
		// requeues, so the stale window must not undercut the TTL.
		staleProcessing: 10 * time.Minute,
		maxAttempts:     utils.GetEnvAsInt("WORKER_MAX_ATTEMPTS", 3, log),
		retryBase:       30 * time.Second,
	}
}

// Start launches the worker loops. It returns immediately; call Stop to
// drain them.
func (w *TranscriptionWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.log.Info("Starting transcription workers",
		"worker_id", w.workerID,
		"concurrency", w.concurrency,
	)
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go func(slot int) {
			defer w.wg.Done()
			w.runLoop(ctx, slot)
		}(i)
	}
}

// Stop cancels the loops and blocks until in-flight jobs observe the
// cancellation and return.
func (w *TranscriptionWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.log.Info("Transcription workers stopped", "worker_id", w.workerID)
}

func (w *TranscriptionWorker) runLoop(ctx context.Context, slot int) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		job, err := w.jobs.ClaimNextRunnable(ctx, nil, w.staleProcessing)
		if err != nil {
			w.log.Error("Claim failed", "slot", slot, "error", err)
		} else if job != nil {
			w.process(ctx, job)
			// Drain eagerly while work is available.
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *TranscriptionWorker) process(ctx context.Context, job *types.TranscriptionJob) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Worker panic", "job_id", job.ID, "panic", fmt.Sprint(r))
			w.finishFailed(job, fmt.Errorf("worker panic: %v", r))
		}
	}()

	key := types.LeaseKey(job.LessonID, job.Language)
	ok, err := w.leases.Acquire(ctx, nil, key, w.workerID, w.leaseTTL)
	if err != nil || !ok {
		if err != nil {
			w.log.Error("Lease acquire failed", "job_id", job.ID, "error", err)
		}
		// Another process holds the key; hand the row back for a later pass.
		w.requeue(job, w.pollInterval*5)
		return
	}
	defer func() {
		if err := w.leases.Release(context.Background(), nil, key, w.workerID); err != nil {
			w.log.Warn("Lease release failed", "job_id", job.ID, "error", err)
		}
	}()

	w.log.Info("Processing transcription job",
		"job_id", job.ID,
		"lesson_id", job.LessonID,
		"language", job.Language,
		"attempt", job.Attempts,
	)

	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()

	cancelled := make(chan struct{})
	stopKeeper := w.startKeeper(jobCtx, job.ID, key, cancelJob, cancelled)
	defer stopKeeper()

	if err := w.setPhase(job.ID, types.JobPhaseDownloading, 10); err != nil {
		w.requeue(job, w.pollInterval*5)
		return
	}
	if err := w.setPhase(job.ID, types.JobPhaseTranscribing, 30); err != nil {
		w.requeue(job, w.pollInterval*5)
		return
	}

	result, err := w.engine.Transcribe(jobCtx, TranscribeRequest{
		VideoAssetID: job.VideoAssetID,
		Language:     job.Language,
		// Partial batches land on the in-progress generation so status
		// pollers can watch text arrive; losing one is not a job failure.
		OnPartial: func(ctx context.Context, segments []SegmentInput) error {
			if err := w.transcripts.Append(ctx, job.LessonID, job.Language, segments); err != nil {
				w.log.Warn("Partial segment append failed", "job_id", job.ID, "error", err)
			}
			return nil
		},
	})

	select {
	case <-cancelled:
		// Cancellation beat the engine call: drop whatever came back.
		w.log.Info("Job cancelled mid-flight", "job_id", job.ID)
		w.requeueCancelled(job)
		return
	default:
	}
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown, not failure: the stale-heartbeat reclaim path will
			// pick the row up again.
			return
		}
		w.handleFailure(job, err)
		return
	}

	if err := w.setPhase(job.ID, types.JobPhaseSaving, 80); err != nil {
		w.requeue(job, w.pollInterval*5)
		return
	}
	if _, err := w.transcripts.Replace(ctx, job.LessonID, job.Language, w.engine.EngineID(), result.Segments); err != nil {
		w.handleFailure(job, fmt.Errorf("save transcript: %w", err))
		return
	}
	for _, warn := range result.Warnings {
		w.log.Warn("Engine warning", "job_id", job.ID, "warning", warn)
	}

	if err := w.jobs.UpdateFields(context.Background(), nil, job.ID, map[string]interface{}{
		"status":           types.JobStatusCompleted,
		"phase":            types.JobPhaseDone,
		"progress":         100,
		"error":            "",
		"next_retry_at":    nil,
		"cancel_requested": false,
		"force_regenerate": false,
		"locked_at":        nil,
	}); err != nil {
		w.log.Error("Completion update failed", "job_id", job.ID, "error", err)
		return
	}
	w.log.Info("Transcription job completed",
		"job_id", job.ID,
		"lesson_id", job.LessonID,
		"segments", len(result.Segments),
	)
}

// startKeeper renews the lease, heartbeats the row, and watches the
// cancel_requested flag while the engine call is in flight.
func (w *TranscriptionWorker) startKeeper(ctx context.Context, jobID uuid.UUID, key string, cancelJob context.CancelFunc, cancelled chan struct{}) (stop func()) {
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(w.heartbeatEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
			}
			if err := w.jobs.Heartbeat(ctx, nil, jobID); err != nil {
				w.log.Warn("Heartbeat failed", "job_id", jobID, "error", err)
			}
			if ok, err := w.leases.Renew(ctx, nil, key, w.workerID, w.leaseTTL); err == nil && !ok {
				// Lost the lease: abandon rather than double-write.
				w.log.Warn("Lease lost, aborting job", "job_id", jobID)
				cancelJob()
				return
			}
			current, err := w.jobs.GetByID(ctx, nil, jobID)
			if err == nil && current != nil && current.CancelRequested {
				once.Do(func() { close(cancelled) })
				cancelJob()
				return
			}
		}
	}()
	return func() { close(done) }
}

func (w *TranscriptionWorker) setPhase(jobID uuid.UUID, phase string, progress int) error {
	return w.jobs.UpdateFields(context.Background(), nil, jobID, map[string]interface{}{
		"phase":    phase,
		"progress": progress,
	})
}

func (w *TranscriptionWorker) handleFailure(job *types.TranscriptionJob, cause error) {
	if IsTransient(cause) && job.Attempts < w.maxAttempts {
		delay := time.Duration(float64(w.retryBase) * math.Pow(2, float64(job.Attempts-1)))
		w.log.Warn("Transient failure, scheduling retry",
			"job_id", job.ID,
			"attempt", job.Attempts,
			"retry_in", delay,
			"error", cause,
		)
		next := time.Now().UTC().Add(delay)
		if err := w.jobs.UpdateFields(context.Background(), nil, job.ID, map[string]interface{}{
			"status":        types.JobStatusQueued,
			"phase":         types.JobPhaseQueued,
			"progress":      0,
			"error":         cause.Error(),
			"last_error_at": time.Now().UTC(),
			"next_retry_at": next,
			"locked_at":     nil,
		}); err != nil {
			w.log.Error("Retry scheduling failed", "job_id", job.ID, "error", err)
		}
		return
	}
	w.finishFailed(job, cause)
}

func (w *TranscriptionWorker) finishFailed(job *types.TranscriptionJob, cause error) {
	w.log.Error("Transcription job failed",
		"job_id", job.ID,
		"lesson_id", job.LessonID,
		"attempts", job.Attempts,
		"error", cause,
	)
	if err := w.jobs.UpdateFields(context.Background(), nil, job.ID, map[string]interface{}{
		"status":        types.JobStatusFailed,
		"error":         cause.Error(),
		"last_error_at": time.Now().UTC(),
		"next_retry_at": nil,
		"locked_at":     nil,
	}); err != nil {
		w.log.Error("Failure update failed", "job_id", job.ID, "error", err)
	}
}

// requeue hands a claimed row back without burning an attempt's worth of
// retry delay semantics beyond the given pause.
func (w *TranscriptionWorker) requeue(job *types.TranscriptionJob, delay time.Duration) {
	if err := w.jobs.UpdateFields(context.Background(), nil, job.ID, map[string]interface{}{
		"status":        types.JobStatusQueued,
		"phase":         types.JobPhaseQueued,
		"progress":      0,
		"attempts":      job.Attempts - 1,
		"next_retry_at": time.Now().UTC().Add(delay),
		"locked_at":     nil,
	}); err != nil {
		w.log.Error("Requeue failed", "job_id", job.ID, "error", err)
	}
}

// requeueCancelled resets a cancelled row to Queued so a superseding
// submission's new asset id is picked up on the next claim.
func (w *TranscriptionWorker) requeueCancelled(job *types.TranscriptionJob) {
	if err := w.jobs.UpdateFields(context.Background(), nil, job.ID, map[string]interface{}{
		"status":           types.JobStatusQueued,
		"phase":            types.JobPhaseQueued,
		"progress":         0,
		"attempts":         job.Attempts - 1,
		"error":            "",
		"cancel_requested": false,
		"next_retry_at":    nil,
		"locked_at":        nil,
	}); err != nil {
		w.log.Error("Cancel requeue failed", "job_id", job.ID, "error", err)
	}
}
