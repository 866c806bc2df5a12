package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/makeasinger/enrichment/internal/scheduler"
	"github.com/makeasinger/enrichment/internal/service"
)

// EnrichmentWorker runs enrichment tasks delivered by asynq. Job retries are
// tracked by the scheduler on the job record, so handlers only return errors
// for infrastructure failures.
type EnrichmentWorker struct {
	scheduler *scheduler.Scheduler
	syncer    *service.Syncer
	logger    *logrus.Entry
}

func NewEnrichmentWorker(sched *scheduler.Scheduler, syncer *service.Syncer, logger *logrus.Logger) *EnrichmentWorker {
	return &EnrichmentWorker{
		scheduler: sched,
		syncer:    syncer,
		logger:    logger.WithField("component", "worker"),
	}
}

// Register attaches every task handler to mux
func (w *EnrichmentWorker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(service.TaskTypeProcess, w.ProcessTask)
	mux.HandleFunc(service.TaskTypeBatch, w.BatchTask)
	if w.syncer != nil {
		mux.HandleFunc(service.TaskTypeSync, w.SyncTask)
	}
}

// ProcessTask handles one job enqueued at creation time
func (w *EnrichmentWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		return fmt.Errorf("task payload has no job id: %w", asynq.SkipRetry)
	}

	outcome, err := w.scheduler.ProcessOne(ctx, payload.JobID)
	if err != nil {
		return fmt.Errorf("failed to process job %s: %w", payload.JobID, err)
	}
	w.logger.WithFields(logrus.Fields{
		"job_id":  payload.JobID,
		"outcome": outcome,
	}).Debug("Process task finished")
	return nil
}

// BatchTask drains one batch of dispatchable jobs. Retried jobs whose
// backoff has elapsed are only picked up here.
func (w *EnrichmentWorker) BatchTask(ctx context.Context, t *asynq.Task) error {
	var payload struct {
		Limit int `json:"limit"`
	}
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	resp, err := w.scheduler.ProcessBatch(ctx, payload.Limit)
	if err != nil {
		return err
	}
	if resp.Processed > 0 {
		w.logger.WithFields(logrus.Fields{
			"processed": resp.Processed,
			"completed": resp.Completed,
			"retrying":  resp.Retrying,
			"failed":    resp.Failed,
		}).Info("Batch task finished")
	}
	return nil
}

// SyncTask runs one pass over the catalog change feed
func (w *EnrichmentWorker) SyncTask(ctx context.Context, _ *asynq.Task) error {
	_, err := w.syncer.SyncOnce(ctx)
	return err
}

// NewBatchTask builds the periodic batch task
func NewBatchTask(limit int) (*asynq.Task, error) {
	data, err := json.Marshal(map[string]int{"limit": limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(service.TaskTypeBatch, data), nil
}

// RegisterPeriodic adds the batch and sync tasks to an asynq scheduler. An
// empty cron spec disables the corresponding task.
func RegisterPeriodic(s *asynq.Scheduler, batchCron, syncCron string, batchLimit int) error {
	if batchCron != "" {
		task, err := NewBatchTask(batchLimit)
		if err != nil {
			return err
		}
		if _, err := s.Register(batchCron, task, asynq.Queue(service.QueueEnrichment), asynq.MaxRetry(0)); err != nil {
			return fmt.Errorf("failed to register batch task: %w", err)
		}
	}
	if syncCron != "" {
		task := asynq.NewTask(service.TaskTypeSync, nil)
		if _, err := s.Register(syncCron, task, asynq.Queue(service.QueueEnrichment), asynq.MaxRetry(0)); err != nil {
			return fmt.Errorf("failed to register sync task: %w", err)
		}
	}
	return nil
}
