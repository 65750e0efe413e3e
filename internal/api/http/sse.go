package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/execution-hub/ledger-sync/internal/domain/notification"
)

// sseEndpoint streams notifications. user_id narrows delivery to that user's
// events plus global ones; without it only global events arrive.
func (s *Server) sseEndpoint(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}
	clientID := strings.TrimSpace(r.URL.Query().Get("client_id"))
	if clientID == "" {
		clientID = uuid.NewString()
	}
	var userPtr *string
	if raw := strings.TrimSpace(r.URL.Query().Get("user_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid user_id")
			return
		}
		userID := id.String()
		userPtr = &userID
	}

	client := notification.NewSSEClient(clientID, userPtr)
	s.sseHub.Register(client)
	defer s.sseHub.Unregister(clientID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case msg, open := <-client.MessageChan:
			if !open || msg == nil {
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				s.logger.Warn().Err(err).Str("event", msg.Event).Msg("failed to encode sse message")
				continue
			}
			_, _ = w.Write([]byte("event: " + msg.Event + "\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
