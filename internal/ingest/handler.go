package ingest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/emberhq/emberwatch/internal/api"
	"github.com/emberhq/emberwatch/internal/fingerprint"
	"github.com/emberhq/emberwatch/internal/metrics"
	"github.com/emberhq/emberwatch/internal/models"
)

// Limits bound individual event fields and batch sizes.
type Limits struct {
	MaxMessageBytes  int
	MaxStackBytes    int
	MaxMetadataBytes int
	MaxBatchSize     int
}

// DefaultLimits match the documented SDK contract.
func DefaultLimits() Limits {
	return Limits{
		MaxMessageBytes:  4 << 10,
		MaxStackBytes:    32 << 10,
		MaxMetadataBytes: 16 << 10,
		MaxBatchSize:     50,
	}
}

// Handler accepts validated events and feeds them to the pipeline
// channel. When the channel is full the event is shed with a warning
// but the request is still acknowledged: ingestion sheds load, it does
// not push back on SDKs.
type Handler struct {
	events chan<- *models.ProcessedEvent
	limits Limits
	log    *zap.Logger
	now    func() time.Time
}

// NewHandler creates the ingest handler.
func NewHandler(events chan<- *models.ProcessedEvent, limits Limits, log *zap.Logger) *Handler {
	if limits.MaxBatchSize <= 0 {
		limits.MaxBatchSize = DefaultLimits().MaxBatchSize
	}
	return &Handler{events: events, limits: limits, log: log, now: time.Now}
}

// ingestResponse acknowledges accepted events.
type ingestResponse struct {
	Accepted int `json:"accepted"`
}

// HandleEvent accepts a single event.
func (h *Handler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	project, ok := ProjectFromContext(r.Context())
	if !ok {
		api.JSONError(w, api.ErrInternalServer)
		return
	}

	var event models.IngestEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		metrics.IngestRejectedTotal.WithLabelValues("malformed").Inc()
		api.JSONError(w, api.NewBadRequest("malformed event payload"))
		return
	}
	if err := h.validate(&event); err != nil {
		metrics.IngestRejectedTotal.WithLabelValues("invalid").Inc()
		api.JSONError(w, api.NewBadRequest(err.Error()))
		return
	}

	h.enqueue(project.ID, &event)
	api.Accepted(w, ingestResponse{Accepted: 1})
}

// HandleBatch accepts up to MaxBatchSize events in one request. The
// batch is all-or-nothing at validation time so SDKs get a clear
// signal instead of partial acceptance.
func (h *Handler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	project, ok := ProjectFromContext(r.Context())
	if !ok {
		api.JSONError(w, api.ErrInternalServer)
		return
	}

	var events []models.IngestEvent
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		metrics.IngestRejectedTotal.WithLabelValues("malformed").Inc()
		api.JSONError(w, api.NewBadRequest("malformed batch payload"))
		return
	}
	if len(events) == 0 {
		api.JSONError(w, api.NewBadRequest("empty batch"))
		return
	}
	if len(events) > h.limits.MaxBatchSize {
		metrics.IngestRejectedTotal.WithLabelValues("invalid").Inc()
		api.JSONError(w, api.NewBadRequest(
			fmt.Sprintf("batch exceeds %d events", h.limits.MaxBatchSize)))
		return
	}
	for i := range events {
		if err := h.validate(&events[i]); err != nil {
			metrics.IngestRejectedTotal.WithLabelValues("invalid").Inc()
			api.JSONError(w, api.NewBadRequest(
				fmt.Sprintf("event %d: %s", i, err.Error())))
			return
		}
	}

	for i := range events {
		h.enqueue(project.ID, &events[i])
	}
	api.Accepted(w, ingestResponse{Accepted: len(events)})
}

// validate enforces required fields and per-field size caps.
func (h *Handler) validate(event *models.IngestEvent) error {
	switch {
	case event.ErrorType == "":
		return fmt.Errorf("error_type is required")
	case event.Message == "":
		return fmt.Errorf("message is required")
	case event.Environment == "":
		return fmt.Errorf("environment is required")
	case event.Release == "":
		return fmt.Errorf("release is required")
	}
	if h.limits.MaxMessageBytes > 0 && len(event.Message) > h.limits.MaxMessageBytes {
		return fmt.Errorf("message exceeds %d bytes", h.limits.MaxMessageBytes)
	}
	if h.limits.MaxStackBytes > 0 && len(event.Stack) > h.limits.MaxStackBytes {
		return fmt.Errorf("stack exceeds %d bytes", h.limits.MaxStackBytes)
	}
	if h.limits.MaxMetadataBytes > 0 && len(event.Metadata) > h.limits.MaxMetadataBytes {
		return fmt.Errorf("metadata exceeds %d bytes", h.limits.MaxMetadataBytes)
	}
	return nil
}

// enqueue fingerprints the event and offers it to the pipeline.
func (h *Handler) enqueue(projectID string, event *models.IngestEvent) {
	fp := event.Fingerprint
	if fp == "" {
		fp = fingerprint.Compute(
			event.Source, event.ErrorType, event.Route, event.Message, event.Stack)
	}

	processed := &models.ProcessedEvent{
		Event:       *event,
		Fingerprint: fp,
		ProjectID:   projectID,
		ReceivedAt:  h.now().UnixMilli(),
	}

	select {
	case h.events <- processed:
		metrics.IngestEventsTotal.Inc()
	default:
		metrics.PipelineDroppedTotal.Inc()
		h.log.Warn("event channel full, event shed",
			zap.String("project_id", projectID),
			zap.String("fingerprint", fp))
	}
}
