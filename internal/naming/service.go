package naming

import (
	"encoding/json"
	"net/http"

	"image-optimizer-go/internal/resize"

	"github.com/sirupsen/logrus"
)

const maxRequestBytes = 16 << 20

// ServiceHandler serves the naming service: it validates the request and
// forwards the image to an Upstream.
type ServiceHandler struct {
	upstream Upstream
	logger   *logrus.Logger
}

// NewServiceHandler returns a naming service handler. A nil upstream
// answers every valid request with 500.
func NewServiceHandler(upstream Upstream, logger *logrus.Logger) *ServiceHandler {
	return &ServiceHandler{upstream: upstream, logger: logger}
}

// ServeHTTP implements http.Handler.
func (h *ServiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeName(w, http.StatusMethodNotAllowed, nameResponse{Error: "Method not allowed"})
		return
	}

	var payload resize.Payload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&payload); err != nil {
		writeName(w, http.StatusBadRequest, nameResponse{Error: "Invalid JSON body"})
		return
	}
	if payload.MimeType == "" || payload.Data == "" {
		writeName(w, http.StatusBadRequest, nameResponse{Error: "mimeType and data are required"})
		return
	}

	if h.upstream == nil {
		h.logger.Error("Naming upstream is not configured")
		writeName(w, http.StatusInternalServerError, nameResponse{Error: "Naming service is not configured"})
		return
	}

	name, err := h.upstream.Describe(r.Context(), payload)
	if err != nil {
		h.logger.WithError(err).Error("Naming upstream failed")
		writeName(w, http.StatusInternalServerError, nameResponse{Error: "Failed to generate name"})
		return
	}

	writeName(w, http.StatusOK, nameResponse{Name: name})
}

func writeName(w http.ResponseWriter, status int, resp nameResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
