package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/podoskin/agent-core/pkg/agent"
	"github.com/podoskin/agent-core/pkg/models"
)

// maxBodyBytes bounds inbound message payloads.
const maxBodyBytes = 64 * 1024

// MessageHandler exposes the turn pipeline over HTTP. Authentication and
// role assertion happen upstream; this handler trusts the decoded identity
// fields the gateway injects.
type MessageHandler struct {
	service *agent.Service
	logger  *zap.Logger
}

// NewMessageHandler creates a MessageHandler.
func NewMessageHandler(service *agent.Service, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{service: service, logger: logger}
}

// RegisterRoutes registers the message routes on the given mux.
func (h *MessageHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/messages", h.HandleMessage)
}

// HandleMessage handles POST /v1/messages: one conversational turn in, one
// reply out. The reply body is the same shape regardless of outcome; errors
// the pipeline can answer in natural language are 200s.
func (h *MessageHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var in models.Inbound
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		_ = writeError(w, http.StatusBadRequest, "invalid_body", "request body must be a JSON message")
		return
	}

	if code, msg := validateInbound(&in); code != "" {
		_ = writeError(w, http.StatusBadRequest, code, msg)
		return
	}

	out := h.service.HandleMessage(r.Context(), in)

	if err := writeJSON(w, http.StatusOK, out); err != nil {
		h.logger.Error("Failed to encode message response", zap.Error(err))
	}
}

// writeJSON encodes the reply body. Every response from this service is
// JSON, errors included; there is no HTML surface.
func writeJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// writeError replies with a machine-readable code the gateway can branch on
// plus a short human message. Only transport-level failures use it; anything
// the pipeline can answer in natural language goes out as a 200.
func writeError(w http.ResponseWriter, statusCode int, code, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}

func validateInbound(in *models.Inbound) (code, msg string) {
	switch {
	case strings.TrimSpace(in.Text) == "":
		return "empty_text", "text is required"
	case in.UserID == "":
		return "missing_user", "user_id is required"
	case in.ClinicID == "":
		return "missing_clinic", "clinic_id is required"
	case in.Origin == "":
		return "missing_origin", "origin is required"
	}
	return "", ""
}
