package aggregate

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"arb-edge/internal/domain"
	"arb-edge/internal/observability"
	"arb-edge/internal/storage"
)

// DefaultArchiveQueueSize bounds the number of pending batches. Enqueue
// drops when full so the request path never blocks on archival.
const DefaultArchiveQueueSize = 64

// Archiver records served result pages into the opportunity history store
// off the request path.
type Archiver struct {
	store   storage.OpportunityHistoryStore
	queue   chan []*domain.ScoredOpportunity
	timeout time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// ArchiverOptions configures an Archiver.
type ArchiverOptions struct {
	// QueueSize bounds pending batches; 0 means DefaultArchiveQueueSize.
	QueueSize int
	// WriteTimeout bounds each insert; 0 means 10s.
	WriteTimeout time.Duration
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
	// Metrics is optional.
	Metrics *observability.Metrics
}

// NewArchiver creates an Archiver and starts its worker.
func NewArchiver(store storage.OpportunityHistoryStore, opts ArchiverOptions) *Archiver {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultArchiveQueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	a := &Archiver{
		store:   store,
		queue:   make(chan []*domain.ScoredOpportunity, opts.QueueSize),
		timeout: opts.WriteTimeout,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		done:    make(chan struct{}),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Enqueue submits a batch for archival. It never blocks; when the queue is
// full the batch is dropped and counted.
func (a *Archiver) Enqueue(items []*domain.ScoredOpportunity) {
	if a.store == nil || len(items) == 0 {
		return
	}
	batch := make([]*domain.ScoredOpportunity, len(items))
	copy(batch, items)

	select {
	case a.queue <- batch:
	default:
		a.count("dropped")
		a.logger.Warn("archive queue full, dropping batch", zap.Int("size", len(batch)))
	}
}

// Close stops the worker after draining queued batches.
func (a *Archiver) Close() {
	a.once.Do(func() {
		close(a.done)
		a.wg.Wait()
	})
}

func (a *Archiver) run() {
	defer a.wg.Done()
	for {
		select {
		case batch := <-a.queue:
			a.write(batch)
		case <-a.done:
			for {
				select {
				case batch := <-a.queue:
					a.write(batch)
				default:
					return
				}
			}
		}
	}
}

func (a *Archiver) write(batch []*domain.ScoredOpportunity) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if err := a.store.InsertBatch(ctx, batch); err != nil {
		a.count("failure")
		a.logger.Warn("archive batch failed", zap.Int("size", len(batch)), zap.Error(err))
		return
	}
	a.count("success")
}

func (a *Archiver) count(outcome string) {
	if a.metrics != nil {
		a.metrics.ArchiveBatches.WithLabelValues(outcome).Inc()
	}
}
