package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"turpe-billing/internal/audit"
	"turpe-billing/internal/auth"
	"turpe-billing/internal/parisdate"
	perimeter "turpe-billing/internal/perimeter/domain"
	readings "turpe-billing/internal/readings/domain"
)

const maxIngestBatch = 10000

// IngestHandler accepts distributor flux pushes: contractual events (C15)
// and periodic meter readings (R151). Requests are expected to be signed.
type IngestHandler struct {
	events      perimeter.EventSink
	readings    readings.Sink
	auditLogger audit.Logger
	logger      *zap.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(events perimeter.EventSink, sink readings.Sink, auditLogger audit.Logger, logger *zap.Logger) (*IngestHandler, error) {
	if events == nil {
		return nil, errors.New("ingest handler: nil event sink")
	}
	if sink == nil {
		return nil, errors.New("ingest handler: nil reading sink")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestHandler{events: events, readings: sink, auditLogger: auditLogger, logger: logger.Named("ingest.http")}, nil
}

// Register mounts the ingest routes on r.
func (h *IngestHandler) Register(r *mux.Router) {
	r.HandleFunc("/api/v1/ingest/events", h.handleEvents).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/ingest/readings", h.handleReadings).Methods(http.MethodPost)
}

func (h *IngestHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID == "" {
		http.Error(w, "tenant is required", http.StatusUnauthorized)
		return
	}
	var batch eventBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(batch.Events) == 0 || len(batch.Events) > maxIngestBatch {
		http.Error(w, "events must hold between 1 and 10000 items", http.StatusBadRequest)
		return
	}
	events := make([]perimeter.ContractEvent, 0, len(batch.Events))
	for i, dto := range batch.Events {
		event, err := dto.toDomain()
		if err != nil {
			http.Error(w, "event "+strconv.Itoa(i)+": "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := event.Validate(); err != nil {
			http.Error(w, "event "+strconv.Itoa(i)+": "+err.Error(), http.StatusBadRequest)
			return
		}
		events = append(events, event)
	}
	if err := h.events.AppendEvents(r.Context(), tenantID, events); err != nil {
		h.logger.Error("append events failed", zap.String("tenant_id", tenantID), zap.Error(err))
		http.Error(w, "store events failed", http.StatusInternalServerError)
		return
	}
	h.logAudit(r, audit.ActionIngestEvents, "contract_event", len(events))
	writeJSON(w, http.StatusAccepted, ingestResponse{Accepted: len(events)})
}

func (h *IngestHandler) handleReadings(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID == "" {
		http.Error(w, "tenant is required", http.StatusUnauthorized)
		return
	}
	var batch readingBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(batch.Readings) == 0 || len(batch.Readings) > maxIngestBatch {
		http.Error(w, "readings must hold between 1 and 10000 items", http.StatusBadRequest)
		return
	}
	list := make([]readings.Reading, 0, len(batch.Readings))
	for i, dto := range batch.Readings {
		rd, err := dto.toDomain()
		if err != nil {
			http.Error(w, "reading "+strconv.Itoa(i)+": "+err.Error(), http.StatusBadRequest)
			return
		}
		list = append(list, rd)
	}
	if err := h.readings.SaveReadings(r.Context(), tenantID, list); err != nil {
		if errors.Is(err, readings.ErrMixedFamilies) || errors.Is(err, readings.ErrEmptyDeliveryPoint) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("save readings failed", zap.String("tenant_id", tenantID), zap.Error(err))
		http.Error(w, "store readings failed", http.StatusInternalServerError)
		return
	}
	h.logAudit(r, audit.ActionIngestReading, "meter_reading", len(list))
	writeJSON(w, http.StatusAccepted, ingestResponse{Accepted: len(list)})
}

func (h *IngestHandler) logAudit(r *http.Request, action, resourceType string, count int) {
	if h.auditLogger == nil {
		return
	}
	entry := audit.FromRequest(r, action, resourceType, "", map[string]any{"count": count})
	entry.PayloadDigest = audit.DigestJSON(entry.Metadata)
	if err := h.auditLogger.Log(r.Context(), entry); err != nil {
		h.logger.Warn("audit entry not written", zap.String("action", action), zap.Error(err))
	}
}

func (d eventDTO) toDomain() (perimeter.ContractEvent, error) {
	at, err := parseInstant(d.At)
	if err != nil {
		return perimeter.ContractEvent{}, err
	}
	before, err := parseIndexes(d.Before.Indexes)
	if err != nil {
		return perimeter.ContractEvent{}, err
	}
	after, err := parseIndexes(d.After.Indexes)
	if err != nil {
		return perimeter.ContractEvent{}, err
	}
	event := perimeter.ContractEvent{
		ContractID:     strings.TrimSpace(d.ContractID),
		ContractRef:    strings.TrimSpace(d.ContractRef),
		DeliveryPoint:  strings.TrimSpace(d.DeliveryPoint),
		At:             at,
		Type:           perimeter.EventType(strings.TrimSpace(d.Type)),
		Code:           strings.TrimSpace(d.Code),
		BeforePower:    d.Before.Power.toDomain(),
		AfterPower:     d.After.Power.toDomain(),
		BeforeFormula:  d.Before.Formula,
		AfterFormula:   d.After.Formula,
		BeforeCalendar: d.Before.Calendar,
		AfterCalendar:  d.After.Calendar,
		BeforeIndexes:  before,
		AfterIndexes:   after,
		BeforeOverrun:  d.Before.OverrunHours,
		AfterOverrun:   d.After.OverrunHours,
	}
	if event.ContractID == "" {
		event.ContractID = event.ContractRef
	}
	return event, nil
}

func (d readingDTO) toDomain() (readings.Reading, error) {
	at, err := parseInstant(d.At)
	if err != nil {
		return readings.Reading{}, err
	}
	indexes, err := parseIndexes(d.Indexes)
	if err != nil {
		return readings.Reading{}, err
	}
	return readings.Reading{
		ContractRef:   strings.TrimSpace(d.ContractRef),
		DeliveryPoint: strings.TrimSpace(d.DeliveryPoint),
		At:            at,
		Source:        readings.SourcePeriodic,
		Indexes:       indexes,
		OverrunHours:  d.OverrunHours,
		Formula:       d.Formula,
		CalendarID:    d.CalendarID,
	}, nil
}

// parseInstant accepts RFC3339 instants and Paris civil dates.
func parseInstant(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("at is required")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(dateLayout, raw, parisdate.Location())
	if err != nil {
		return time.Time{}, errors.New("at must be RFC3339 or YYYY-MM-DD")
	}
	return t, nil
}

func parseIndexes(raw map[string]float64) (readings.Indexes, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(readings.Indexes, len(raw))
	for name, v := range raw {
		c, ok := readings.ParseChannel(name)
		if !ok {
			return nil, errors.New("unknown channel " + name)
		}
		out[c] = v
	}
	if out.Family() == readings.FamilyMixed {
		return nil, readings.ErrMixedFamilies
	}
	return out, nil
}
