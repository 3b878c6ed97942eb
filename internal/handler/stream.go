package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wavelink-im/chat-platform/internal/bus"
	"github.com/wavelink-im/chat-platform/internal/middleware"
	"github.com/wavelink-im/chat-platform/internal/model"
	"github.com/wavelink-im/chat-platform/internal/subscription"
	"github.com/wavelink-im/chat-platform/pkg/logger"
	"github.com/wavelink-im/chat-platform/pkg/metrics"
)

// heartbeatInterval keeps idle SSE connections from being reaped by
// intermediaries.
const heartbeatInterval = 30 * time.Second

// StreamHandler handles the SSE subscription endpoint.
type StreamHandler struct {
	bus    bus.Bus
	engine *subscription.Engine
	logger *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(b bus.Bus, engine *subscription.Engine, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		bus:    b,
		engine: engine,
		logger: log,
	}
}

// HeartbeatEvent is the periodic keep-alive payload.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// Subscribe handles GET /api/v1/subscribe
//
// Query parameters:
//   - topics: comma-separated topic names; all topics when omitted
//   - conversation_id: scopes MESSAGE_SENT delivery to one conversation
//
// The stream carries live events only; state present before the
// subscription began is fetched through the list endpoints.
func (h *StreamHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	credential := middleware.GetCredential(ctx)

	topics, err := parseTopics(r.URL.Query().Get("topics"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	scope := subscription.Scope{
		Credential:     credential,
		ConversationID: r.URL.Query().Get("conversation_id"),
	}

	sub, err := h.bus.Subscribe(ctx, topics...)
	if err != nil {
		h.logger.Error("failed to subscribe", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"conversation_id": scope.ConversationID,
	})

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("SSE client disconnected")
			return

		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if !h.engine.Visible(ctx, ev, scope) {
				continue
			}
			sendSSERaw(w, flusher, string(ev.Topic), ev.Data)

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}

// parseTopics validates the comma-separated topic list; empty selects
// every topic.
func parseTopics(raw string) ([]model.Topic, error) {
	if strings.TrimSpace(raw) == "" {
		return model.Topics(), nil
	}

	known := make(map[model.Topic]bool, len(model.Topics()))
	for _, t := range model.Topics() {
		known[t] = true
	}

	var topics []model.Topic
	for _, part := range strings.Split(raw, ",") {
		topic := model.Topic(strings.TrimSpace(part))
		if !known[topic] {
			return nil, fmt.Errorf("unknown topic %q", part)
		}
		topics = append(topics, topic)
	}
	return topics, nil
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return sendSSERaw(w, flusher, event, jsonData)
}

func sendSSERaw(w http.ResponseWriter, flusher http.Flusher, event string, data []byte) error {
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
	return nil
}
