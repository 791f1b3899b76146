package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ashita-ai/tegami/internal/engine"
	"github.com/ashita-ai/tegami/internal/model"
	"github.com/ashita-ai/tegami/internal/resume"
	"github.com/ashita-ai/tegami/internal/runstore"
	"github.com/ashita-ai/tegami/internal/timeline"
)

// HandleStartDiscovery handles POST /v1/discovery. The run is created and
// its stages launched in the background; the 202 carries only the run id.
func (h *Handlers) HandleStartDiscovery(w http.ResponseWriter, r *http.Request) {
	var req model.StartDiscoveryRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	// A bad resume token degrades the run rather than rejecting it: the
	// timeline opens with a warning and discovery proceeds resume-less.
	var (
		excerpt      string
		degradations []model.DegradedPayload
	)
	if req.ResumeToken != "" {
		text, err := h.resumes.Get(req.ResumeToken)
		switch {
		case err == nil:
			excerpt = text
		case errors.Is(err, resume.ErrInvalidToken):
			degradations = append(degradations, model.DegradedPayload{
				Subject: "resume",
				Reason:  "resume token invalid or expired, proceeding without resume",
			})
		default:
			h.writeInternalError(w, r, "failed to load resume", err)
			return
		}
	}

	runID, err := h.controller.StartDiscovery(r.Context(), engine.DiscoveryRequest{
		City:          strings.TrimSpace(req.City),
		Role:          strings.TrimSpace(req.Role),
		Depth:         model.ParseDepth(req.Depth),
		Research:      req.Research,
		ResumeExcerpt: excerpt,
		Degradations:  degradations,
	})
	if err != nil {
		h.writeInternalError(w, r, "failed to start discovery", err)
		return
	}

	writeJSON(w, r, http.StatusAccepted, model.StartDiscoveryResponse{RunID: runID.String()})
}

// HandleGetRun handles GET /v1/runs/{run_id}.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	run, err := h.controller.Snapshot(r.Context(), runID)
	if err != nil {
		if errors.Is(err, runstore.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
			return
		}
		h.writeInternalError(w, r, "failed to load run", err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.SnapshotFromRun(run))
}

// HandleStartOutreach handles POST /v1/runs/{run_id}/outreach.
func (h *Handlers) HandleStartOutreach(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	var req model.StartWriterRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Count == 0 {
		req.Count = model.DefaultEmailCount
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	minMatch := engine.DefaultMinMatch
	if req.MinMatch != nil {
		minMatch = *req.MinMatch
	}

	segmentID, err := h.controller.StartWriter(r.Context(), runID, engine.WriterRequest{
		Count:    req.Count,
		MinMatch: minMatch,
		Model:    req.Model,
	})
	if err != nil {
		switch {
		case errors.Is(err, runstore.ErrNotFound):
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
		case errors.Is(err, engine.ErrNoEligibleCompanies):
			writeError(w, r, http.StatusConflict, model.ErrCodeNoEligibleCompanies, err.Error())
		case errors.Is(err, runstore.ErrConflict):
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
		default:
			h.writeInternalError(w, r, "failed to start outreach", err)
		}
		return
	}

	writeJSON(w, r, http.StatusAccepted, model.StartWriterResponse{
		RunID:        runID.String(),
		SegmentRunID: segmentID.String(),
	})
}

// sseKeepalive is how often an idle stream emits a comment frame so
// intermediaries keep the connection open.
const sseKeepalive = 15 * time.Second

// HandleTimeline handles GET /v1/runs/{run_id}/timeline (SSE). The full
// history is replayed first, then events stream live until the terminal
// end event closes the connection. Outreach segment ids work here too.
func (h *Handlers) HandleTimeline(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	sub, err := h.bus.Subscribe(runID)
	if err != nil {
		if errors.Is(err, timeline.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
			return
		}
		h.writeInternalError(w, r, "failed to subscribe", err)
		return
	}
	defer sub.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Clear the server's WriteTimeout for this long-lived connection.
	// Without this, idle streams are killed after WriteTimeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	// The subscription is a pull API; pump it onto a channel so the write
	// loop can interleave keepalives. The pump exits on the subscription's
	// terminal error or when the request context ends.
	ctx := r.Context()
	events := make(chan model.TimelineEvent)
	go func() {
		defer close(events)
		for {
			ev, err := sub.Next(ctx)
			if err != nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				// The end event has already been written; closing the
				// response is the stream's terminal signal.
				return
			}
			if err := writeSSEEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes one frame: the timeline event type as the SSE event
// name, the JSON-encoded event as its data.
func writeSSEEvent(w io.Writer, ev model.TimelineEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
