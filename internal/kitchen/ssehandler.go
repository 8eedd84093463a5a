package kitchen

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/kitchensync/pkg/event"
	"github.com/go-chi/chi/v5"
)

const sseKeepalive = 30 * time.Second

// SSEHandler streams kitchen events to browser displays. Each connection
// first receives the active orders, then live events.
type SSEHandler struct {
	aggregator  *Aggregator
	broadcaster *Broadcaster
	logger      apt.Logger
}

func NewSSEHandler(aggregator *Aggregator, broadcaster *Broadcaster, logger apt.Logger) *SSEHandler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &SSEHandler{
		aggregator:  aggregator,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

func (h *SSEHandler) RegisterRoutes(r chi.Router) {
	r.Get("/kitchen/events", h.ServeHTTP)
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Subscribe before the snapshot so nothing falls in between.
	subscriberID, events, cancel := h.broadcaster.Subscribe()
	defer cancel()
	h.logger.Info("new SSE connection", "subscriber_id", subscriberID)

	fmt.Fprintf(w, ": connected\n\n")
	fmt.Fprintf(w, "retry: 2000\n\n")
	flush(w)

	orders, err := h.aggregator.Active(r.Context(), Filter{})
	if err != nil {
		h.logger.Error("cannot load initial orders", "subscriber_id", subscriberID, "error", err)
		return
	}
	for _, o := range orders {
		env, err := snapshotEnvelope(o)
		if err != nil {
			h.logger.Error("cannot encode order", "order_id", o.ID, "error", err)
			continue
		}
		writeSSE(w, env)
	}

	ticker := time.NewTicker(sseKeepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("SSE client disconnected", "subscriber_id", subscriberID)
			return
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flush(w)
		case env, ok := <-events:
			if !ok {
				return
			}
			writeSSE(w, env)
		}
	}
}

func snapshotEnvelope(o KitchenOrder) (Envelope, error) {
	order, err := json.Marshal(o)
	if err != nil {
		return Envelope{}, err
	}
	data, err := json.Marshal(event.KitchenOrderEvent{
		KitchenOrderEventMetadata: metadata(event.EventKitchenOrderUpserted, o, o.LastUpdatedAt),
		Order:                     order,
	})
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{EventType: event.EventKitchenOrderUpserted, OrderID: o.ID, Source: o.Source, Data: data}, nil
}

func writeSSE(w http.ResponseWriter, env Envelope) {
	fmt.Fprintf(w, "event: %s\n", env.EventType)
	fmt.Fprintf(w, "id: %s\n", env.OrderID)
	fmt.Fprintf(w, "data: %s\n\n", env.Data)
	flush(w)
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
