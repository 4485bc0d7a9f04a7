package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cfuwib/insightbot/insight/api/metrics"
	"github.com/go-chi/chi/v5"
)

// ProgressStream handles GET /CFU_Insight/progress/{requestId} as server-sent
// events: "progress" and "chunk" events, then "done".
func (h *Handlers) ProgressStream(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")
	if requestID == "" {
		writeError(w, http.StatusBadRequest, "requestId is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sendEvent := func(eventType string, data any) {
		jsonData, err := json.Marshal(data)
		if err != nil {
			h.log.Error("handlers: failed to marshal sse event", "event_type", eventType, "error", err)
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, jsonData)
		flusher.Flush()
	}
	send := func(ev StreamEvent) {
		if ev.Type == EventProgress {
			sendEvent(EventProgress, ev.Progress)
			return
		}
		sendEvent(EventChunk, ev.Chunk)
	}

	sub, unsubscribe := h.hub.Subscribe(requestID)
	defer unsubscribe()
	subscribers := metrics.StreamSubscribers.WithLabelValues(metrics.TransportSSE)
	subscribers.Inc()
	defer subscribers.Dec()

	ticker := h.cfg.Clock.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-sub.Events:
			send(ev)
		case <-ticker.Chan():
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-sub.Done:
			for {
				select {
				case ev := <-sub.Events:
					send(ev)
				default:
					sendEvent("done", map[string]string{"request_id": requestID})
					return
				}
			}
		}
	}
}
