package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/qbank-api/internal/models"
	"github.com/noah-isme/qbank-api/pkg/jobs"
	"github.com/noah-isme/qbank-api/pkg/storage"
)

const blobDeleteJob = "blob_delete"

// BlobCleaner deletes blobs whose rows are already gone. Deletes run on a
// background queue; when the queue is unavailable or full they run inline.
// Failures are logged and never returned.
type BlobCleaner struct {
	blobs   storage.BlobStore
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger
}

// NewBlobCleaner builds the cleaner and its worker queue. Call Start before use.
func NewBlobCleaner(blobs storage.BlobStore, metrics *MetricsService, logger *zap.Logger, cfg jobs.QueueConfig) *BlobCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &BlobCleaner{blobs: blobs, metrics: metrics, logger: logger}
	cfg.Logger = logger
	c.queue = jobs.NewQueue("blob-cleanup", c.handle, cfg)
	return c
}

// Start launches the cleanup workers.
func (c *BlobCleaner) Start(ctx context.Context) {
	c.queue.Start(ctx)
}

// Stop waits for queued deletes to finish.
func (c *BlobCleaner) Stop() {
	c.queue.Stop()
}

// Remove schedules deletion of keys.
func (c *BlobCleaner) Remove(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		err := c.queue.TryEnqueue(jobs.Job{ID: key, Type: blobDeleteJob, Payload: key})
		if err == nil {
			continue
		}
		if !errors.Is(err, jobs.ErrQueueFull) {
			c.logger.Debug("cleanup queue unavailable, deleting inline", zap.String("key", key), zap.Error(err))
		}
		c.delete(context.WithoutCancel(ctx), key)
	}
}

func (c *BlobCleaner) handle(ctx context.Context, job jobs.Job) error {
	key, _ := job.Payload.(string)
	if key == "" {
		return nil
	}
	err := c.blobs.Delete(ctx, key)
	c.metrics.RecordCleanup(err)
	return err
}

func (c *BlobCleaner) delete(ctx context.Context, key string) {
	err := c.blobs.Delete(ctx, key)
	c.metrics.RecordCleanup(err)
	if err != nil {
		c.logger.Warn("blob cleanup failed", zap.String("key", key), zap.Error(err))
	}
}

type pathReferencer interface {
	ReferencedPaths(ctx context.Context, keys []string) (map[string]struct{}, error)
}

// SweepResult summarises one reconciliation pass.
type SweepResult struct {
	Scanned  int
	Deleted  int
	Errors   int
	Duration time.Duration
}

const sweepBatchSize = 200

// OrphanSweeper periodically deletes blobs that no file row references. Blobs
// younger than the grace period are left alone so in-flight uploads survive.
type OrphanSweeper struct {
	blobs    storage.BlobStore
	refs     pathReferencer
	audit    auditWriter
	metrics  *MetricsService
	logger   *zap.Logger
	interval time.Duration
	grace    time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewOrphanSweeper constructs the sweeper.
func NewOrphanSweeper(blobs storage.BlobStore, refs pathReferencer, audit auditWriter, metrics *MetricsService, logger *zap.Logger, interval, grace time.Duration) *OrphanSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if grace <= 0 {
		grace = 24 * time.Hour
	}
	return &OrphanSweeper{
		blobs:    blobs,
		refs:     refs,
		audit:    audit,
		metrics:  metrics,
		logger:   logger.With(zap.String("component", "orphan_sweeper")),
		interval: interval,
		grace:    grace,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start runs a sweep immediately and then on every interval until Stop.
func (s *OrphanSweeper) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
	s.logger.Info("orphan sweeper started", zap.Duration("interval", s.interval), zap.Duration("grace", s.grace))
}

// Stop cancels the loop and waits for the current sweep to end.
func (s *OrphanSweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("orphan sweeper stopped")
}

func (s *OrphanSweeper) run(ctx context.Context) {
	defer close(s.done)
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs one sweep. Concurrent calls are serialised.
func (s *OrphanSweeper) RunOnce(ctx context.Context) *SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	result := &SweepResult{}
	cutoff := s.now().Add(-s.grace)

	batch := make([]string, 0, sweepBatchSize)
	var removed []string
	flush := func() {
		if len(batch) == 0 {
			return
		}
		deleted, failed := s.sweepBatch(ctx, batch)
		removed = append(removed, deleted...)
		result.Errors += failed
		batch = batch[:0]
	}

	err := s.blobs.Walk(ctx, func(info storage.BlobInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		result.Scanned++
		if info.ModTime.After(cutoff) {
			return nil
		}
		batch = append(batch, info.Key)
		if len(batch) == sweepBatchSize {
			flush()
		}
		return nil
	})
	if err == nil {
		flush()
	} else {
		result.Errors++
		s.logger.Warn("blob walk interrupted", zap.Error(err))
	}

	result.Deleted = len(removed)
	result.Duration = time.Since(start)
	s.metrics.ObserveSweep(result.Deleted, result.Duration)
	if result.Deleted > 0 {
		s.recordAudit(ctx, removed)
	}

	s.logger.Info("orphan sweep finished",
		zap.Int("scanned", result.Scanned),
		zap.Int("deleted", result.Deleted),
		zap.Int("errors", result.Errors),
		zap.Duration("duration", result.Duration),
	)
	return result
}

func (s *OrphanSweeper) sweepBatch(ctx context.Context, keys []string) (deleted []string, failed int) {
	referenced, err := s.refs.ReferencedPaths(ctx, keys)
	if err != nil {
		s.logger.Warn("failed to check blob references", zap.Int("keys", len(keys)), zap.Error(err))
		return nil, 1
	}
	for _, key := range keys {
		if _, ok := referenced[key]; ok {
			continue
		}
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to delete orphaned blob", zap.String("key", key), zap.Error(err))
			failed++
			continue
		}
		deleted = append(deleted, key)
	}
	return deleted, failed
}

func (s *OrphanSweeper) recordAudit(ctx context.Context, keys []string) {
	if s.audit == nil {
		return
	}
	details, _ := json.Marshal(map[string]interface{}{"deletedKeys": keys})
	entry := &models.AuditLog{
		Action:       models.AuditActionBlobSweep,
		ResourceType: models.AuditResourceBlob,
		Details:      details,
		UserAgent:    "orphan-sweeper",
	}
	if err := s.audit.Create(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("failed to write sweep audit", zap.Error(err))
	}
}
