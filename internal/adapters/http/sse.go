package httpadapter

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
)

// sseWriter frames stream events as `event: <type>` plus one JSON data line.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	seq     int
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming is not supported by response writer")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) write(ev domain.StreamEvent) error {
	payload, err := json.Marshal(ev.Payload())
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	s.seq++
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", s.seq, ev.Type, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
