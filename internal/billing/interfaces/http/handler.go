package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"turpe-billing/internal/audit"
	"turpe-billing/internal/auth"
	billingapp "turpe-billing/internal/billing/application"
	billing "turpe-billing/internal/billing/domain"
	billinginterfaces "turpe-billing/internal/billing/interfaces"
	"turpe-billing/internal/observability/metrics"
	"turpe-billing/internal/parisdate"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handler serves the billing run and monthly record endpoints.
type Handler struct {
	service     *billingapp.RunService
	auditLogger audit.Logger
	logger      *zap.Logger
	now         func() time.Time
}

// NewHandler constructs a handler.
func NewHandler(service *billingapp.RunService, auditLogger audit.Logger, logger *zap.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("billing handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service:     service,
		auditLogger: auditLogger,
		logger:      logger.Named("billing.http"),
		now:         time.Now,
	}, nil
}

// Register mounts the billing routes on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/v1/runs", h.handleTrigger).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/runs", h.handleListRuns).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/runs/{id}", h.handleGetRun).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/billing/monthly", h.handleRecords).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/billing/monthly/export.xlsx", h.handleExport).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/tariffs/rules", h.handleRules).Methods(http.MethodGet)
}

func (h *Handler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID == "" {
		http.Error(w, "tenant is required", http.StatusUnauthorized)
		return
	}
	var req runRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}
	horizon := parisdate.MonthStart(h.now())
	if req.Horizon != "" {
		parsed, err := time.ParseInLocation(dateLayout, req.Horizon, parisdate.Location())
		if err != nil {
			http.Error(w, "horizon must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		horizon = parsed
	}

	run, _, err := h.service.Trigger(r.Context(), tenantID, horizon)
	if run != nil {
		h.logAudit(r, audit.ActionRunTriggered, "billing_run", run.ID, map[string]any{
			"horizon": req.Horizon,
			"status":  run.Status,
		})
	}
	status := http.StatusCreated
	switch {
	case err == nil:
	case errors.Is(err, billing.ErrRunInProgress):
		http.Error(w, "run already in progress", http.StatusConflict)
		return
	case errors.Is(err, billing.ErrEmptyTenantID):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case run == nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	case errors.Is(err, billing.ErrConfiguration):
		status = http.StatusUnprocessableEntity
	default:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, toRunDTO(*run))
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID == "" {
		http.Error(w, "tenant is required", http.StatusUnauthorized)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	runs, err := h.service.Runs(r.Context(), tenantID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]runDTO, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunDTO(run))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID == "" {
		http.Error(w, "tenant is required", http.StatusUnauthorized)
		return
	}
	run, err := h.service.Run(r.Context(), tenantID, mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, billing.ErrRunNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(*run))
}

func (h *Handler) handleRecords(w http.ResponseWriter, r *http.Request) {
	filter, ok := recordFilter(w, r)
	if !ok {
		return
	}
	records, err := h.service.Records(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]recordDTO, 0, len(records))
	for _, rec := range records {
		out = append(out, toRecordDTO(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	filter, ok := recordFilter(w, r)
	if !ok {
		return
	}
	records, err := h.service.Records(r.Context(), filter)
	if err != nil {
		metrics.ObserveExport("xlsx", metrics.ResultError, time.Since(start))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	payload, err := billinginterfaces.BuildMonthlyXLSX(records)
	if err != nil {
		metrics.ObserveExport("xlsx", metrics.ResultError, time.Since(start))
		h.logger.Error("xlsx export failed", zap.String("tenant_id", filter.TenantID), zap.Error(err))
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport("xlsx", metrics.ResultSuccess, time.Since(start))
	h.logAudit(r, audit.ActionExport, "billing_monthly", exportName(filter), map[string]any{
		"contract_id": filter.ContractID,
		"month":       r.URL.Query().Get("month"),
		"records":     len(records),
	})

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportName(filter)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (h *Handler) handleRules(w http.ResponseWriter, r *http.Request) {
	table, err := h.service.Rules(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]ruleDTO, 0, table.Len())
	for _, formula := range table.Formulas() {
		for _, rule := range table.Versions(formula) {
			out = append(out, toRuleDTO(rule))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) logAudit(r *http.Request, action, resourceType, resourceID string, metadata map[string]any) {
	if h.auditLogger == nil {
		return
	}
	entry := audit.FromRequest(r, action, resourceType, resourceID, metadata)
	if err := h.auditLogger.Log(r.Context(), entry); err != nil {
		h.logger.Warn("audit entry not written", zap.String("action", action), zap.Error(err))
	}
}

func recordFilter(w http.ResponseWriter, r *http.Request) (billing.RecordFilter, bool) {
	filter := billing.RecordFilter{
		TenantID:   auth.TenantIDFromContext(r.Context()),
		ContractID: strings.TrimSpace(r.URL.Query().Get("contract_id")),
	}
	if filter.TenantID == "" {
		http.Error(w, "tenant is required", http.StatusUnauthorized)
		return filter, false
	}
	if raw := r.URL.Query().Get("month"); raw != "" {
		month, err := parisdate.ParseMonth(raw)
		if err != nil {
			http.Error(w, "month must be YYYY-MM", http.StatusBadRequest)
			return filter, false
		}
		filter.Month = month
	}
	return filter, true
}

func exportName(filter billing.RecordFilter) string {
	scope := "all"
	if !filter.Month.IsZero() {
		scope = parisdate.MonthKey(filter.Month)
	}
	if filter.ContractID != "" {
		scope = filter.ContractID + "-" + scope
	}
	return "turpe-" + filter.TenantID + "-" + scope + ".xlsx"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
