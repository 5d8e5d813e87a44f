package charges

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atlasagents/backoffice/internal/billing"
	"github.com/atlasagents/backoffice/internal/platform/httpx"
	"github.com/atlasagents/backoffice/internal/shared"
)

// Handler wires the charge JSON endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := ListRequest{Limit: 50}
	if v := q.Get("client_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			req.ClientID = id
		}
	}
	if v := q.Get("status"); v != "" {
		req.Status = Status(v)
	}
	if v := q.Get("due_before"); v != "" {
		if d, err := billing.ParseDate(v); err == nil {
			req.DueBefore = &d
		}
	}
	if v := q.Get("due_after"); v != "" {
		if d, err := billing.ParseDate(v); err == nil {
			req.DueAfter = &d
		}
	}
	if v := q.Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			req.Limit = parsed
		}
	}
	if v := q.Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			req.Offset = parsed
		}
	}

	list, total, err := h.service.List(r.Context(), req)
	if err != nil {
		h.logger.Error("list charges failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	page := req.Offset/req.Limit + 1
	httpx.JSON(w, http.StatusOK, map[string]any{
		"charges":    list,
		"pagination": shared.NewPagination(page, req.Limit, total),
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	charge, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, charge)
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context())
	if err != nil {
		h.logger.Error("charge summary failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var body struct {
		Method string `json:"method"`
	}
	_ = httpx.DecodeJSON(r, &body)
	if err := h.service.Pay(r.Context(), id, actorID(r), body.Method); err != nil {
		httpx.RespondError(w, err)
		return
	}
	charge, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, charge)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = httpx.DecodeJSON(r, &body)
	if err := h.service.Cancel(r.Context(), id, actorID(r), body.Reason); err != nil {
		httpx.RespondError(w, err)
		return
	}
	charge, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, charge)
}

func (h *Handler) Reopen(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	charge, err := h.service.Reopen(r.Context(), id, actorID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, charge)
}

type updateChargeBody struct {
	AmountCents *int64  `json:"amount_cents" validate:"omitempty,gte=0"`
	DueDate     *string `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	Notes       *string `json:"notes"`
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var body updateChargeBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	input := UpdateInput{AmountCents: body.AmountCents, Notes: body.Notes}
	if body.DueDate != nil {
		due, err := billing.ParseDate(*body.DueDate)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: due_date: %v", httpx.ErrValidation, err))
			return
		}
		input.DueDate = &due
	}
	charge, err := h.service.Update(r.Context(), id, actorID(r), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, charge)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id, actorID(r)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reconcileBody struct {
	WindowDays *int `json:"window_days" validate:"omitempty,gte=0,lte=365"`
}

// Reconcile triggers a pass on demand. The scheduled nightly pass goes
// through the worker instead.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var body reconcileBody
	_ = httpx.DecodeJSON(r, &body)
	if err := h.validator.Struct(body); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	windowDays := 0
	if v := r.URL.Query().Get("window_days"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			windowDays = parsed
		}
	}
	if body.WindowDays != nil {
		windowDays = *body.WindowDays
	}
	result, err := h.service.Reconcile(r.Context(), windowDays)
	if err != nil {
		h.logger.Error("charge reconcile failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// Sweep runs the status aging pass alone, without reconciling.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	aged, reverted, err := h.service.Sweep(r.Context())
	if err != nil {
		h.logger.Error("charge sweep failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"marked_overdue": aged, "reverted": reverted})
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid charge id")
		return 0, false
	}
	return id, true
}

// actorID resolves the operator behind a request from the X-Actor-ID header
// set by the front proxy. Requests without one audit as the system actor.
func actorID(r *http.Request) int64 {
	if v := r.Header.Get("X-Actor-ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			return id
		}
	}
	return 0
}
