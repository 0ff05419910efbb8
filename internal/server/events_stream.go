package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/lotledger/internal/events"
)

const (
	streamBuffer     = 100
	streamWriteWait  = 10 * time.Second
	streamPingPeriod = 30 * time.Second
)

// EventsStreamHandler streams bus events to websocket clients.
type EventsStreamHandler struct {
	eventBus *events.Bus
	log      zerolog.Logger
}

// streamMessage is one frame sent to the client.
type streamMessage struct {
	Type      string                 `json:"type"`
	Module    string                 `json:"module,omitempty"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NewEventsStreamHandler creates a new events stream handler.
func NewEventsStreamHandler(eventBus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		eventBus: eventBus,
		log:      log.With().Str("component", "events_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/events/ws?types=A,B.
// Without a types filter every event type is streamed.
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	typesFilter := r.URL.Query().Get("types")
	eventTypes := parseEventTypes(typesFilter)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket handshake failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	// Clients only listen; CloseRead handles control frames and cancels
	// ctx when the client goes away.
	ctx := conn.CloseRead(r.Context())

	eventChan := make(chan *events.Event, streamBuffer)
	ids := make([]events.SubscriptionID, 0, len(eventTypes))
	for _, t := range eventTypes {
		ids = append(ids, h.eventBus.Subscribe(t, func(event *events.Event) {
			// Bus handlers must not block: drop when the client is slow
			select {
			case eventChan <- event:
			default:
				h.log.Warn().
					Str("event_type", string(event.Type)).
					Msg("Event channel full, dropping event")
			}
		}))
	}
	defer h.eventBus.Unsubscribe(ids...)

	h.log.Info().Str("types_filter", typesFilter).Msg("Client connected to event stream")

	if err := h.write(ctx, conn, streamMessage{
		Type:      "connected",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return
	}

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("Client disconnected from event stream")
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case event := <-eventChan:
			if err := h.write(ctx, conn, streamMessage{
				Type:      string(event.Type),
				Module:    event.Module,
				Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
				Data:      event.Data,
			}); err != nil {
				h.log.Debug().Err(err).Msg("Failed to write event, closing stream")
				return
			}

		case <-ping.C:
			pingCtx, cancel := context.WithTimeout(ctx, streamWriteWait)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				h.log.Debug().Err(err).Msg("Ping failed, closing stream")
				return
			}
		}
	}
}

func (h *EventsStreamHandler) write(ctx context.Context, conn *websocket.Conn, msg streamMessage) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteWait)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}

// parseEventTypes returns the filtered types, or all of them for an empty
// filter. Unknown names are ignored.
func parseEventTypes(filter string) []events.EventType {
	if strings.TrimSpace(filter) == "" {
		return events.AllTypes
	}

	known := make(map[events.EventType]bool, len(events.AllTypes))
	for _, t := range events.AllTypes {
		known[t] = true
	}

	var types []events.EventType
	seen := make(map[events.EventType]bool)
	for _, raw := range strings.Split(filter, ",") {
		t := events.EventType(strings.ToUpper(strings.TrimSpace(raw)))
		if known[t] && !seen[t] {
			types = append(types, t)
			seen[t] = true
		}
	}
	return types
}
