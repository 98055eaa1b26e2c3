// Package jobs runs administrative bulk operations as background jobs with
// persisted, incrementally flushed log output. Callers create a job, get its
// id back immediately, and poll the job record for progress and the terminal
// status.
package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avissapr/groupwork/internal/database"
	"github.com/avissapr/groupwork/internal/models"
	"github.com/avissapr/groupwork/internal/repository"
)

// initialFlushThreshold is the buffered-output size, in bytes, that triggers
// the first write to the job record. The threshold doubles after every
// flush, so a chatty job writes to the database O(log n) times rather than
// once per line.
const initialFlushThreshold = 100

// backgroundJobTimeout bounds a single bulk job. Jobs hold an
// assessment-wide advisory lock, so a hung job must not hold it forever.
const backgroundJobTimeout = 10 * time.Minute

// Runner creates job records and executes job bodies in the background.
type Runner struct {
	jobs   *repository.JobRepository
	logger *zap.Logger
}

// NewRunner creates a new job Runner.
func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{
		jobs:   repository.NewJobRepository(),
		logger: logger,
	}
}

// Job is a handle to one running job. The Verbose/Warn/Error methods buffer
// output locally and flush it to the job record as the buffer grows; one of
// the terminal methods (Succeed, SucceedPartially, Fail) flushes whatever
// remains and records the final status.
//
// A Job handle is used from the single goroutine executing the job body and
// from the runner's recovery path, hence the mutex.
type Job struct {
	ID string

	runner *Runner

	mu             sync.Mutex
	buf            strings.Builder
	flushThreshold int
	finished       bool
}

// CreateJob inserts a pending job record and returns a handle to it.
func (r *Runner) CreateJob(ctx context.Context, assessmentID int64, jobType, description string) (*Job, error) {
	record := &models.Job{
		ID:           uuid.NewString(),
		AssessmentID: assessmentID,
		Type:         jobType,
		Description:  description,
		Status:       models.JobStatusPending,
	}
	if err := r.jobs.Create(ctx, database.DB, record); err != nil {
		return nil, fmt.Errorf("failed to create job record: %w", err)
	}
	return &Job{
		ID:             record.ID,
		runner:         r,
		flushThreshold: initialFlushThreshold,
	}, nil
}

// GetJob returns the persisted job record, nil if no such job exists.
func (r *Runner) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	return r.jobs.GetByID(ctx, database.DB, jobID)
}

// Execute runs fn in a new goroutine against the given job. The job is
// marked running first; a panic or an error from fn that left the job
// unfinished records the job as failed. fn owns the happy-path terminal
// call (Succeed or SucceedPartially).
func (r *Runner) Execute(job *Job, fn func(ctx context.Context, job *Job) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundJobTimeout)
		defer cancel()

		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("job panicked",
					zap.String("job_id", job.ID),
					zap.Any("panic", p))
				job.Fail(ctx, fmt.Sprintf("internal error: %v", p))
			}
		}()

		if err := r.jobs.MarkRunning(ctx, database.DB, job.ID); err != nil {
			r.logger.Error("failed to mark job running",
				zap.String("job_id", job.ID), zap.Error(err))
			return
		}

		if err := fn(ctx, job); err != nil {
			r.logger.Warn("job failed",
				zap.String("job_id", job.ID), zap.Error(err))
			job.Fail(ctx, err.Error())
		}
	}()
}

// Verbose appends an informational line to the job output.
func (j *Job) Verbose(ctx context.Context, format string, args ...interface{}) {
	j.appendLine(ctx, fmt.Sprintf(format, args...))
}

// Warn appends a warning line to the job output.
func (j *Job) Warn(ctx context.Context, format string, args ...interface{}) {
	j.appendLine(ctx, "WARN: "+fmt.Sprintf(format, args...))
}

// Error appends an error line to the job output. It does not change the job
// status; the job body decides the terminal state from its own error count.
func (j *Job) Error(ctx context.Context, format string, args ...interface{}) {
	j.appendLine(ctx, "ERROR: "+fmt.Sprintf(format, args...))
}

// Succeed flushes remaining output and marks the job successful.
func (j *Job) Succeed(ctx context.Context) {
	j.finish(ctx, models.JobStatusSuccess)
}

// SucceedPartially flushes remaining output, appends the summary message,
// and marks the job partially successful. Used when some records committed
// and some failed.
func (j *Job) SucceedPartially(ctx context.Context, message string) {
	j.appendLine(ctx, message)
	j.finish(ctx, models.JobStatusPartialSuccess)
}

// Fail flushes remaining output, appends the failure message, and marks the
// job failed. Calling Fail on an already finished job is a no-op, so the
// runner's recovery path cannot clobber a terminal state set by the body.
func (j *Job) Fail(ctx context.Context, message string) {
	j.appendLine(ctx, "ERROR: "+message)
	j.finish(ctx, models.JobStatusFailed)
}

func (j *Job) appendLine(ctx context.Context, line string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.finished {
		return
	}
	j.buf.WriteString(line)
	j.buf.WriteString("\n")
	if j.buf.Len() > j.flushThreshold {
		j.flushLocked(ctx)
	}
}

// flushLocked writes the buffered output to the job record and doubles the
// flush threshold. Caller holds j.mu. A flush failure keeps the buffer so
// the lines are retried on the next flush.
func (j *Job) flushLocked(ctx context.Context) {
	if j.buf.Len() == 0 {
		return
	}
	if err := j.runner.jobs.AppendOutput(ctx, database.DB, j.ID, j.buf.String()); err != nil {
		j.runner.logger.Error("failed to flush job output",
			zap.String("job_id", j.ID), zap.Error(err))
		return
	}
	j.buf.Reset()
	j.flushThreshold *= 2
}

func (j *Job) finish(ctx context.Context, status string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.finished {
		return
	}
	j.flushLocked(ctx)
	j.finished = true
	if err := j.runner.jobs.Finish(ctx, database.DB, j.ID, status); err != nil {
		j.runner.logger.Error("failed to finish job",
			zap.String("job_id", j.ID),
			zap.String("status", status),
			zap.Error(err))
	}
}
