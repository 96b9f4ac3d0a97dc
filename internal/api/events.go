package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/codelynx/pkg/models"
)

// handleEvents streams a session's events as Server-Sent Events. The
// subscription is taken before the snapshot is read, so a session that ends
// in between still delivers its terminal event on the channel.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, unsubscribe := s.hub.Subscribe(id)
	defer unsubscribe()

	session, err := s.engine.GetSession(id)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	log := s.logger.WithFields(logrus.Fields{"session_id": id, "remote": r.RemoteAddr})

	if session.Status.IsTerminal() {
		_ = writeEvent(w, models.NewConnectedEvent(id))
		_ = writeEvent(w, terminalEvent(session))
		flusher.Flush()
		log.Debug("Replayed terminal event for finished session")
		return
	}

	log.Debug("Event stream opened")
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Debug("Event stream closed by client")
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				log.WithError(err).Debug("Event stream write failed")
				return
			}
			flusher.Flush()
			if ev.IsTerminal() {
				return
			}
		}
	}
}

func terminalEvent(session models.ScanSession) models.Event {
	if session.Status == models.StatusCompleted {
		return models.NewCompletedEvent(session.ID, len(session.Findings))
	}
	return models.NewErrorEvent(session.ID, session.Error)
}

func writeEvent(w http.ResponseWriter, ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
