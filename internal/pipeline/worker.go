package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/emberhq/emberwatch/internal/metrics"
	"github.com/emberhq/emberwatch/internal/models"
	"github.com/emberhq/emberwatch/internal/storage"
)

// EventNotice tells the alert engine that an event was aggregated.
type EventNotice struct {
	ProjectID   string
	Fingerprint string
	ErrorType   string
	Message     string
	Release     string
	Environment string
	// IsNew is the aggregation cache's "first time seen" signal.
	IsNew bool
	// Count is the cache count after this event.
	Count int64
}

// WorkerConfig configures the pipeline worker.
type WorkerConfig struct {
	FlushBatchSize int
	FlushInterval  time.Duration
}

// Worker consumes processed events, updates the aggregation cache and
// batches persistent writes. All blocking store calls happen here, off
// the request-handling path.
type Worker struct {
	events  <-chan *models.ProcessedEvent
	notices chan<- EventNotice
	store   storage.EventRepository
	agg     *Aggregator
	config  WorkerConfig
	log     *zap.Logger
}

// NewWorker creates a pipeline worker.
func NewWorker(
	events <-chan *models.ProcessedEvent,
	notices chan<- EventNotice,
	store storage.EventRepository,
	agg *Aggregator,
	config WorkerConfig,
	log *zap.Logger,
) *Worker {
	if config.FlushBatchSize <= 0 {
		config.FlushBatchSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}
	return &Worker{
		events:  events,
		notices: notices,
		store:   store,
		agg:     agg,
		config:  config,
		log:     log,
	}
}

// Run consumes events until the context is canceled, draining the
// buffer on the way out.
func (w *Worker) Run(ctx context.Context) error {
	buffer := make([]*models.ProcessedEvent, 0, w.config.FlushBatchSize)
	ticker := time.NewTicker(w.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush(context.Background(), &buffer)
			return ctx.Err()

		case ev, ok := <-w.events:
			if !ok {
				w.log.Info("event channel closed, draining buffer")
				w.flush(context.Background(), &buffer)
				return nil
			}
			w.handle(ev)
			buffer = append(buffer, ev)
			if len(buffer) >= w.config.FlushBatchSize {
				w.flush(ctx, &buffer)
			}

		case <-ticker.C:
			if len(buffer) > 0 {
				w.flush(ctx, &buffer)
			}
		}
	}
}

// handle updates the aggregation cache and notifies the alert engine.
// Cache keys are project-scoped: the same fingerprint in two tenants is
// two issues.
func (w *Worker) handle(ev *models.ProcessedEvent) {
	key := ev.ProjectID + ":" + ev.Fingerprint
	isNew := w.agg.Increment(key, ev.ReceivedAt)
	snap, _ := w.agg.Get(key)

	notice := EventNotice{
		ProjectID:   ev.ProjectID,
		Fingerprint: ev.Fingerprint,
		ErrorType:   ev.Event.ErrorType,
		Message:     ev.Event.Message,
		Release:     ev.Event.Release,
		Environment: ev.Event.Environment,
		IsNew:       isNew,
		Count:       snap.Count,
	}
	select {
	case w.notices <- notice:
	default:
		// The evaluator is behind; alerting is best-effort.
		w.log.Warn("notice channel full, alert evaluation skipped",
			zap.String("fingerprint", ev.Fingerprint))
	}
}

// flush writes the buffered batch with one retry before dropping it.
func (w *Worker) flush(ctx context.Context, buffer *[]*models.ProcessedEvent) {
	events := *buffer
	if len(events) == 0 {
		return
	}
	*buffer = make([]*models.ProcessedEvent, 0, w.config.FlushBatchSize)

	for attempt := 0; attempt < 2; attempt++ {
		err := w.store.WriteBatch(ctx, events)
		if err == nil {
			metrics.PipelineFlushesTotal.Inc()
			return
		}
		if attempt == 0 {
			w.log.Warn("flush failed, retrying",
				zap.Int("count", len(events)), zap.Error(err))
			time.Sleep(500 * time.Millisecond)
		} else {
			w.log.Error("flush retry failed, events dropped",
				zap.Int("count", len(events)), zap.Error(err))
			metrics.PipelineDroppedTotal.Add(float64(len(events)))
		}
	}
}
