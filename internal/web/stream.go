package web

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vadiminshakov/svault/internal/domain"
)

// handleAuditStream replays the audit log after Last-Event-ID and then follows it. Live records
// come from the broadcaster; a poll of the log catches anything a slow subscriber dropped.
// ?kind=a,b limits the stream to those audit kinds.
func (s *Server) handleAuditStream(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		http.Error(w, "audit log not available", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	kinds := parseKinds(r.URL.Query().Get("kind"))
	wanted := func(k domain.AuditKind) bool {
		if len(kinds) == 0 {
			return true
		}
		for _, want := range kinds {
			if want == k {
				return true
			}
		}
		return false
	}

	// subscribe before the backlog read so nothing falls in between
	var live chan domain.AuditRecord
	if s.broadcaster != nil {
		live = s.broadcaster.Subscribe(kinds...)
		defer s.broadcaster.Unsubscribe(live)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	poll := time.NewTicker(s.pollInterval)
	defer poll.Stop()

	lastIndex := parseLastEventID(r.Header.Get("Last-Event-ID"), r.URL.Query().Get("last_event_id"))
	send := func(rec domain.AuditRecord) {
		if rec.Index <= lastIndex {
			return
		}
		// filtered records still advance the cursor so gap detection stays exact
		if !wanted(rec.Kind) {
			lastIndex = rec.Index
			return
		}
		fmt.Fprintf(w, "id: %d\n", rec.Index)
		fmt.Fprintf(w, "event: %s\n", rec.Kind)
		fmt.Fprintf(w, "data: %s\n\n", rec.Payload)
		flusher.Flush()
		lastIndex = rec.Index
	}
	catchUp := func() error {
		records, err := s.audit.EventsAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, rec := range records {
			send(rec)
		}
		return nil
	}

	if err := catchUp(); err != nil {
		s.logger.Error("audit stream initial load", zap.Error(err))
		http.Error(w, "failed to load audit log", http.StatusInternalServerError)
		return
	}
	if lastIndex == 0 {
		fmt.Fprint(w, "event: no_data\ndata: {}\n\n")
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case rec, ok := <-live:
			if !ok {
				live = nil
				continue
			}
			// a gap means the subscriber dropped records
			if rec.Index > lastIndex+1 {
				if err := catchUp(); err != nil {
					s.logger.Warn("audit stream catch up", zap.Error(err))
				}
			}
			send(rec)
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-poll.C:
			if err := catchUp(); err != nil {
				s.logger.Warn("audit stream poll", zap.Error(err))
			}
		}
	}
}

// parseKinds splits a comma separated kind list, dropping blanks.
func parseKinds(raw string) []domain.AuditKind {
	var kinds []domain.AuditKind
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			kinds = append(kinds, domain.AuditKind(part))
		}
	}
	return kinds
}

// parseLastEventID reads the resume index from the Last-Event-ID header, falling back to the query parameter.
func parseLastEventID(headerVal, queryVal string) uint64 {
	idStr := strings.TrimSpace(headerVal)
	if idStr == "" {
		idStr = strings.TrimSpace(queryVal)
	}
	if idStr == "" {
		return 0
	}

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
