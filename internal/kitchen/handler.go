package kitchen

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/appetiteclub/kitchensync/pkg/enums/orderstatus"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

const MaxBodyBytes = 1 << 20

// PrintOutcome is what the kitchen learns back from a print request.
type PrintOutcome struct {
	Status    string     `json:"status"`
	JobID     string     `json:"job_id,omitempty"`
	PrintedAt *time.Time `json:"printed_at,omitempty"`
}

// OrderPrinter renders and dispatches an order. It returns an error only
// when nothing could be printed or queued.
type OrderPrinter interface {
	PrintOrder(ctx context.Context, order KitchenOrder, jobType string, priority int) (PrintOutcome, error)
	PrinterStatus(ctx context.Context) PrinterStatus
}

type PrinterStatus struct {
	Available     bool       `json:"available"`
	LastPrintedAt *time.Time `json:"last_printed_at,omitempty"`
	InProgress    []string   `json:"in_progress"`
}

type commandRequest struct {
	Source string `json:"source" validate:"omitempty,oneof=POS ONLINE"`
}

type printRequest struct {
	JobType  string `json:"job_type" validate:"required,oneof=KITCHEN_TICKET CUSTOMER_RECEIPT BILL"`
	Priority int    `json:"priority" validate:"min=0,max=10"`
}

type Handler struct {
	aggregator *Aggregator
	printer    OrderPrinter
	validate   *validator.Validate
	logger     apt.Logger
	tlm        *telemetry.HTTP
}

func NewHandler(aggregator *Aggregator, printer OrderPrinter, logger apt.Logger) *Handler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Handler{
		aggregator: aggregator,
		printer:    printer,
		validate:   validator.New(),
		logger:     logger,
		tlm:        telemetry.NewHTTP(),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/kitchen/orders", func(r chi.Router) {
		r.Get("/", h.ListOrders)
		r.Post("/refresh", h.RefreshOrders)
		r.Get("/{id}", h.GetOrder)
		r.Patch("/{id}/ready", h.ReadyOrder)
		r.Patch("/{id}/complete", h.CompleteOrder)
		r.Patch("/{id}/delay", h.DelayOrder)
		r.Patch("/{id}/undelay", h.UndelayOrder)
		r.Post("/{id}/print", h.PrintOrder)
	})
	r.Get("/kitchen/print/status", h.PrintStatus)
}

func (h *Handler) log(r *http.Request) apt.Logger {
	return h.logger.With("request_id", apt.RequestIDFrom(r.Context()))
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListOrders")
	defer finish()
	log := h.log(r)

	q := r.URL.Query()
	filter := Filter{}

	if source := q.Get("source"); source != "" {
		switch Source(source) {
		case SourcePOS, SourceOnline:
			filter.Source = Source(source)
		default:
			apt.RespondError(w, http.StatusBadRequest, "Invalid source")
			return
		}
	}
	if orderType := q.Get("type"); orderType != "" {
		filter.Type = OrderType(orderType)
	}
	if urgent := q.Get("urgent"); urgent != "" {
		v, err := strconv.ParseBool(urgent)
		if err != nil {
			apt.RespondError(w, http.StatusBadRequest, "Invalid urgent flag")
			return
		}
		filter.UrgentOnly = v
	}
	if completed := q.Get("include_completed"); completed != "" {
		v, err := strconv.ParseBool(completed)
		if err != nil {
			apt.RespondError(w, http.StatusBadRequest, "Invalid include_completed flag")
			return
		}
		filter.IncludeCompleted = v
	}

	orders, err := h.aggregator.Active(r.Context(), filter)
	if err != nil {
		log.Errorf("cannot list orders: %v", err)
		apt.RespondError(w, http.StatusServiceUnavailable, "Could not list orders")
		return
	}

	apt.Respond(w, http.StatusOK, map[string]interface{}{
		"orders": orders,
		"count":  len(orders),
	}, nil)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetOrder")
	defer finish()

	order, err := h.aggregator.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondCommandError(w, r, err)
		return
	}

	apt.Respond(w, http.StatusOK, order, nil)
}

func (h *Handler) RefreshOrders(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.RefreshOrders")
	defer finish()

	h.aggregator.RequestRefresh(nil)
	apt.Respond(w, http.StatusAccepted, map[string]string{"status": "refresh requested"}, nil)
}

func (h *Handler) ReadyOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Handler.ReadyOrder", orderstatus.Statuses.Ready)
}

func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Handler.CompleteOrder", orderstatus.Statuses.Completed)
}

func (h *Handler) DelayOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.DelayOrder")
	defer finish()

	actor, ok := h.decodeCommand(w, r)
	if !ok {
		return
	}

	order, err := h.aggregator.MarkDelayed(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		h.respondCommandError(w, r, err)
		return
	}
	apt.Respond(w, http.StatusOK, order, nil)
}

func (h *Handler) UndelayOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.UndelayOrder")
	defer finish()

	actor, ok := h.decodeCommand(w, r)
	if !ok {
		return
	}

	order, err := h.aggregator.ClearDelay(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		h.respondCommandError(w, r, err)
		return
	}
	apt.Respond(w, http.StatusOK, order, nil)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, span string, target orderstatus.Status) {
	w, r, finish := h.tlm.Start(w, r, span)
	defer finish()

	actor, ok := h.decodeCommand(w, r)
	if !ok {
		return
	}

	order, err := h.aggregator.Transition(r.Context(), chi.URLParam(r, "id"), target, actor)
	if err != nil {
		h.respondCommandError(w, r, err)
		return
	}
	apt.Respond(w, http.StatusOK, order, nil)
}

func (h *Handler) PrintOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.PrintOrder")
	defer finish()
	log := h.log(r)
	ctx := r.Context()

	if h.printer == nil {
		apt.RespondError(w, http.StatusServiceUnavailable, "Printing is not configured")
		return
	}

	var req printRequest
	if err := decodeBody(r, &req); err != nil {
		apt.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		apt.RespondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	order, err := h.aggregator.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.respondCommandError(w, r, err)
		return
	}

	outcome, err := h.printer.PrintOrder(ctx, order, req.JobType, req.Priority)
	if err != nil {
		log.Error("print failed and job could not be queued", "order_id", order.ID, "job_type", req.JobType, "error", err)
		apt.RespondError(w, http.StatusServiceUnavailable, "Print failed and could not be queued, manual intervention required")
		return
	}

	status := http.StatusAccepted
	switch outcome.Status {
	case "printed":
		status = http.StatusOK
	case "in_progress":
		status = http.StatusConflict
	}
	apt.Respond(w, status, outcome, nil)
}

func (h *Handler) PrintStatus(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.PrintStatus")
	defer finish()

	if h.printer == nil {
		apt.RespondError(w, http.StatusServiceUnavailable, "Printing is not configured")
		return
	}
	apt.Respond(w, http.StatusOK, h.printer.PrinterStatus(r.Context()), nil)
}

func (h *Handler) decodeCommand(w http.ResponseWriter, r *http.Request) (Source, bool) {
	var req commandRequest
	if err := decodeBody(r, &req); err != nil {
		apt.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return "", false
	}
	if err := h.validate.Struct(&req); err != nil {
		apt.RespondError(w, http.StatusBadRequest, validationMessage(err))
		return "", false
	}
	return Source(req.Source), true
}

func (h *Handler) respondCommandError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		apt.RespondError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, ErrWrongSource):
		apt.RespondError(w, http.StatusForbidden, "Order belongs to another source")
	case errors.Is(err, ErrIllegalTransition):
		apt.RespondError(w, http.StatusConflict, err.Error())
	default:
		h.log(r).Errorf("order command failed: %v", err)
		apt.RespondError(w, http.StatusServiceUnavailable, "Kitchen is unavailable")
	}
}

// decodeBody accepts an empty body as the zero value.
func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return "Invalid " + fe.Field() + ": failed " + fe.Tag()
	}
	return "Invalid request"
}
