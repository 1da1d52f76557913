package processor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"hompare/config"
	"hompare/internal/models"
	"hompare/internal/queue"
	"hompare/internal/storage"
)

// Stats summarizes what a processor wrote.
type Stats struct {
	Batches       int
	Entries       int
	FailedBatches int
	FailedEntries int
}

// BatchProcessor writes queued batches of price entries, one transaction per batch.
type BatchProcessor struct {
	writer storage.EntryWriter
	logger *logrus.Logger
	config *config.Config
	queue  *queue.EntryQueue

	batches       atomic.Int64
	entries       atomic.Int64
	failedBatches atomic.Int64
	failedEntries atomic.Int64
}

func NewBatchProcessor(writer storage.EntryWriter, queue *queue.EntryQueue, config *config.Config, logger *logrus.Logger) *BatchProcessor {
	if logger == nil {
		logger = logrus.New()
	}
	return &BatchProcessor{
		writer: writer,
		queue:  queue,
		config: config,
		logger: logger,
	}
}

// Start subscribes to the queue and starts consuming it.
func (p *BatchProcessor) Start(ctx context.Context) {
	p.queue.Subscribe(p.processBatch)
	p.queue.Start(ctx)
}

// Submit splits entries into batches of at most BATCH_MAX_SIZE and queues them.
func (p *BatchProcessor) Submit(ctx context.Context, entries []models.PriceEntry) error {
	for _, batch := range Chunk(entries, p.config.BatchProcessing.MaxBatchSize) {
		if err := p.queue.PushWait(ctx, batch); err != nil {
			return fmt.Errorf("failed to queue batch: %w", err)
		}
	}
	return nil
}

// Finish closes the queue and waits until every queued batch was handled.
func (p *BatchProcessor) Finish(ctx context.Context) (Stats, error) {
	if err := p.queue.Close(); err != nil {
		return p.Stats(), err
	}
	if err := p.queue.Wait(ctx); err != nil {
		return p.Stats(), fmt.Errorf("failed to drain queue: %w", err)
	}
	return p.Stats(), nil
}

func (p *BatchProcessor) Stats() Stats {
	return Stats{
		Batches:       int(p.batches.Load()),
		Entries:       int(p.entries.Load()),
		FailedBatches: int(p.failedBatches.Load()),
		FailedEntries: int(p.failedEntries.Load()),
	}
}

// processBatch writes a single batch, retrying transient failures.
func (p *BatchProcessor) processBatch(ctx context.Context, batch []models.PriceEntry) error {
	maxRetries := p.config.BatchProcessing.MaxRetries
	delay := time.Duration(p.config.BatchProcessing.RetryDelay) * time.Second

	var err error
	attempts := 0
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Infof("Retrying batch processing, attempt %d of %d", attempt, maxRetries)
			if werr := sleep(ctx, delay); werr != nil {
				err = werr
				break
			}
		}
		attempts++

		err = p.writer.InsertEntries(ctx, batch)
		if err == nil {
			p.batches.Add(1)
			p.entries.Add(int64(len(batch)))
			p.logger.WithField("batch_size", len(batch)).Info("Successfully processed batch")
			return nil
		}

		p.logger.WithError(err).WithField("batch_size", len(batch)).Error("Batch processing failed")
		if permanent(err) {
			break
		}
	}

	p.failedBatches.Add(1)
	p.failedEntries.Add(int64(len(batch)))
	return fmt.Errorf("failed to process batch after %d attempts: %w", attempts, err)
}

// permanent errors fail the same way on every attempt.
func permanent(err error) bool {
	return errors.Is(err, storage.ErrInvalidInput) ||
		errors.Is(err, storage.ErrNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Chunk splits entries into consecutive batches of at most size entries.
func Chunk(entries []models.PriceEntry, size int) [][]models.PriceEntry {
	if size <= 0 {
		size = len(entries)
	}
	var batches [][]models.PriceEntry
	for start := 0; start < len(entries); start += size {
		end := start + size
		if end > len(entries) {
			end = len(entries)
		}
		batches = append(batches, entries[start:end])
	}
	return batches
}
