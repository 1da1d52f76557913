package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"hompare/internal/models"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// Handler consumes one batch. A returned error is logged and counted.
type Handler func(ctx context.Context, batch []models.PriceEntry) error

// EntryQueue is an in-memory queue of price entry batches consumed by a single worker.
type EntryQueue struct {
	items   chan []models.PriceEntry
	drained chan struct{}
	maxSize int
	closed  bool
	mu      sync.RWMutex
	logger  *logrus.Logger
	failed  atomic.Int64

	// hmu guards the consumer side so a blocked PushWait never stalls it
	hmu      sync.RWMutex
	started  bool
	handlers []Handler
}

// NewEntryQueue creates a queue holding up to bufferSize pending batches.
func NewEntryQueue(bufferSize int, logger *logrus.Logger) *EntryQueue {
	if bufferSize < 1 {
		bufferSize = 1
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &EntryQueue{
		items:   make(chan []models.PriceEntry, bufferSize),
		drained: make(chan struct{}),
		maxSize: bufferSize,
		logger:  logger,
	}
}

// Push adds a batch without blocking.
func (q *EntryQueue) Push(batch []models.PriceEntry) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.items <- batch:
		q.logger.WithField("batch_size", len(batch)).Debug("Pushed batch to queue")
		return nil
	default:
		return ErrQueueFull
	}
}

// PushWait adds a batch, waiting for room until ctx is done.
func (q *EntryQueue) PushWait(ctx context.Context, batch []models.PriceEntry) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.items <- batch:
		q.logger.WithField("batch_size", len(batch)).Debug("Pushed batch to queue")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe adds a handler called for each batch. Handlers run in subscription order.
func (q *EntryQueue) Subscribe(handler Handler) {
	q.hmu.Lock()
	defer q.hmu.Unlock()
	q.handlers = append(q.handlers, handler)
}

// Start begins consuming batches. Calling it again has no effect.
func (q *EntryQueue) Start(ctx context.Context) {
	q.hmu.Lock()
	defer q.hmu.Unlock()
	if q.started {
		return
	}
	q.started = true
	go q.process(ctx)
}

func (q *EntryQueue) process(ctx context.Context) {
	defer close(q.drained)
	for batch := range q.items {
		q.processBatch(ctx, batch)
	}
}

func (q *EntryQueue) processBatch(ctx context.Context, batch []models.PriceEntry) {
	q.hmu.RLock()
	handlers := q.handlers
	q.hmu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, batch); err != nil {
			q.logger.WithError(err).WithField("batch_size", len(batch)).Error("Handler failed to process batch")
			q.failed.Add(1)
		}
	}
}

// Close stops accepting batches. Pending batches are still handed to the handlers.
func (q *EntryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	close(q.items)
	return nil
}

// Wait blocks until the queue is closed and every pending batch was handled.
func (q *EntryQueue) Wait(ctx context.Context) error {
	select {
	case <-q.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the current number of batches in the queue
func (q *EntryQueue) Len() int {
	return len(q.items)
}

// Failed returns the number of handler failures so far.
func (q *EntryQueue) Failed() int {
	return int(q.failed.Load())
}

// IsClosed returns whether the queue has been closed
func (q *EntryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
