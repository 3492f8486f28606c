package workflow

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/casaflow/engine/internal/domain"
)

const (
	minBatchSize = 1
	maxBatchSize = 500

	// maxErrorLength bounds last_error and attempt reasons.
	maxErrorLength = 1000

	defaultExecConcurrency = 8
)

// Summary reports what one processing pass did.
type Summary struct {
	Picked    int `json:"picked"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Retried   int `json:"retried"`
}

// Processor drains one claimed batch per call. An external scheduler decides
// the cadence; concurrent calls are safe because the claim is the sole
// concurrency primitive.
type Processor struct {
	jobs        JobStore
	attempts    AttemptStore
	exec        *Executor
	log         *zap.Logger
	now         func() time.Time
	concurrency int
}

func NewProcessor(jobs JobStore, attempts AttemptStore, exec *Executor, log *zap.Logger) *Processor {
	return &Processor{
		jobs:        jobs,
		attempts:    attempts,
		exec:        exec,
		log:         log,
		now:         time.Now,
		concurrency: defaultExecConcurrency,
	}
}

// ProcessJobs claims up to batchSize due jobs, executes them, logs an
// attempt for every try and applies the retry policy.
func (p *Processor) ProcessJobs(ctx context.Context, batchSize int) Summary {
	if batchSize < minBatchSize {
		batchSize = minBatchSize
	}
	if batchSize > maxBatchSize {
		batchSize = maxBatchSize
	}

	claimed, err := p.jobs.ClaimJobs(ctx, batchSize, p.now().UTC())
	if err != nil {
		p.log.Error("claim workflow jobs failed", zap.Error(err))
		return Summary{}
	}

	summary := Summary{Picked: len(claimed)}
	if len(claimed) == 0 {
		return summary
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, job := range claimed {
		job := job
		g.Go(func() error {
			outcome := p.runJob(gctx, job)
			mu.Lock()
			switch outcome {
			case domain.JobSucceeded:
				summary.Succeeded++
			case domain.JobSkipped:
				summary.Skipped++
			case domain.JobFailed:
				summary.Failed++
			case domain.JobQueued:
				summary.Retried++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return summary
}

// runJob executes one claimed job and returns the status it settled into.
func (p *Processor) runJob(ctx context.Context, job domain.Job) domain.JobStatus {
	res, execErr := p.exec.Execute(ctx, job.OrganizationID, job.WorkflowRuleID, job.ActionType, job.ActionConfig, job.Context)
	finished := p.now().UTC()

	status := "succeeded"
	reason := ""
	switch {
	case execErr != nil:
		status = "failed"
		reason = truncateError(execErr.Error())
	case res.Skipped:
		status = "skipped"
		reason = res.Reason
	}

	// The attempt ledger records every try, whatever the outcome.
	if err := p.attempts.RecordAttempt(ctx, domain.Attempt{
		JobID:          job.ID,
		OrganizationID: job.OrganizationID,
		AttemptNumber:  job.Attempts,
		Status:         status,
		Reason:         reason,
		ActionConfig:   job.ActionConfig,
		Context:        job.Context,
		StartedAt:      job.StartedAt,
		FinishedAt:     finished,
	}); err != nil {
		p.log.Error("record attempt failed", zap.String("job_id", job.ID), zap.Error(err))
	}

	switch {
	case execErr == nil && !res.Skipped:
		if err := p.jobs.MarkSucceeded(ctx, job.ID, finished); err != nil {
			p.log.Error("mark succeeded failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		return domain.JobSucceeded

	case execErr == nil:
		if err := p.jobs.MarkSkipped(ctx, job.ID, res.Reason, finished); err != nil {
			p.log.Error("mark skipped failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		return domain.JobSkipped

	case job.Attempts >= job.MaxAttempts:
		p.log.Warn("workflow job exhausted retries",
			zap.String("job_id", job.ID),
			zap.Int("attempts", job.Attempts),
			zap.Error(execErr))
		if err := p.jobs.MarkFailed(ctx, job.ID, reason, finished); err != nil {
			p.log.Error("mark failed failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		return domain.JobFailed

	default:
		runAt := finished.Add(Backoff(job.Attempts))
		if err := p.jobs.RequeueJob(ctx, job.ID, reason, runAt, finished); err != nil {
			p.log.Error("requeue job failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		return domain.JobQueued
	}
}

// truncateError caps msg at maxErrorLength bytes without splitting a rune.
func truncateError(msg string) string {
	if len(msg) <= maxErrorLength {
		return msg
	}
	cut := maxErrorLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
