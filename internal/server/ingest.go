package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/OrlandoBitencourt/pennant/internal/logging"
	"github.com/OrlandoBitencourt/pennant/internal/transport"
)

// MaxIngestBody bounds the size of a forwarded batch.
const MaxIngestBody = 5 << 20

// IngestHandler forwards event batches posted to the reserved path to the
// collector, once and synchronously.
type IngestHandler struct {
	poster    transport.Poster
	eventsURL string
	logger    *slog.Logger
}

// NewIngestHandler creates an ingestion handler posting to eventsURL.
func NewIngestHandler(poster transport.Poster, eventsURL string, logger *slog.Logger) *IngestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestHandler{
		poster:    poster,
		eventsURL: eventsURL,
		logger:    logger.With(logging.Component("ingest")),
	}
}

// ServeHTTP replies 200 with an empty body when the collector accepted the
// batch, the collector's status when it rejected it, and 502 when it could
// not be reached.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxIngestBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	if err := h.poster.Post(r.Context(), h.eventsURL, body); err != nil {
		status := transport.StatusCode(err)
		if status == 0 {
			status = http.StatusBadGateway
		}
		h.logger.Warn("failed to forward event batch",
			slog.Int("status", status),
			logging.Error(err),
		)
		w.WriteHeader(status)
		return
	}

	w.WriteHeader(http.StatusOK)
}
