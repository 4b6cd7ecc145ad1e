package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/iff-guardian/siem-platform/internal/event"
	"github.com/iff-guardian/siem-platform/internal/query"
	"github.com/iff-guardian/siem-platform/internal/siemerr"
)

var validate = validator.New()

// IngestEventRequest is the body of POST /events/ingest (spec §6).
type IngestEventRequest struct {
	TenantID       string `json:"tenant_id" validate:"required"`
	EventTimestamp uint32 `json:"event_timestamp"`
	SourceIP       string `json:"source_ip" validate:"required"`
	SourceType     string `json:"source_type"`
	RawEvent       string `json:"raw_event" validate:"required"`
}

// IngestOutcome is what a synchronous ingest pass returns.
type IngestOutcome struct {
	Event *event.Event
}

func writeError(c *gin.Context, err error) {
	if se, ok := err.(*siemerr.Error); ok {
		c.JSON(se.HTTPStatus(), gin.H{"error": se.Kind, "message": se.Message, "code": se.Code, "details": se.Details})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": siemerr.KindInternal, "message": err.Error()})
}

func (s *Server) envelopeFromRequest(req IngestEventRequest) []byte {
	ts := req.EventTimestamp
	if ts == 0 {
		ts = uint32(time.Now().Unix())
	}
	env := map[string]any{
		"event_id":        event.NewID(),
		"tenant_id":       req.TenantID,
		"event_timestamp": ts,
		"source_ip":       req.SourceIP,
		"source_type":     req.SourceType,
		"raw_event":       req.RawEvent,
	}
	raw, _ := json.Marshal(env)
	return raw
}

// handleIngestEvent implements POST /events/ingest: publish to the bus
// and return 202 with the generated event_id (spec §6).
func (s *Server) handleIngestEvent(c *gin.Context) {
	var req IngestEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, siemerr.Validation("INVALID_BODY", err.Error()))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(c, siemerr.Validation("INVALID_BODY", err.Error()))
		return
	}

	raw := s.envelopeFromRequest(req)
	var env map[string]any
	_ = json.Unmarshal(raw, &env)
	eventID, _ := env["event_id"].(string)

	if s.producer != nil {
		if err := s.producer.Produce(c.Request.Context(), []byte(req.TenantID), raw); err != nil {
			writeError(c, siemerr.Connection("BUS_UNAVAILABLE", "failed to publish event", err))
			return
		}
	}
	c.JSON(http.StatusAccepted, gin.H{"event_id": eventID})
}

// handleIngestBatch implements POST /events/batch: publish each event,
// returning 202 if all succeeded, 206 if some failed, 400 if all failed
// (spec §6's success-ratio contract).
func (s *Server) handleIngestBatch(c *gin.Context) {
	var reqs []IngestEventRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		writeError(c, siemerr.Validation("INVALID_BODY", err.Error()))
		return
	}
	if len(reqs) == 0 {
		writeError(c, siemerr.Validation("EMPTY_BATCH", "batch must contain at least one event"))
		return
	}

	var accepted, failed []string
	for _, req := range reqs {
		if err := validate.Struct(req); err != nil {
			failed = append(failed, fmt.Sprintf("validation: %v", err))
			continue
		}
		raw := s.envelopeFromRequest(req)
		var env map[string]any
		_ = json.Unmarshal(raw, &env)
		eventID, _ := env["event_id"].(string)

		if s.producer != nil {
			if err := s.producer.Produce(c.Request.Context(), []byte(req.TenantID), raw); err != nil {
				failed = append(failed, err.Error())
				continue
			}
		}
		accepted = append(accepted, eventID)
	}

	status := http.StatusAccepted
	switch {
	case len(accepted) == 0:
		status = http.StatusBadRequest
	case len(failed) > 0:
		status = http.StatusPartialContent
	}
	c.JSON(status, gin.H{"accepted": accepted, "failed": failed})
}

// handleSearch implements GET /events/search: decode a query-parameter
// SearchRequest, execute via the search service, return its Response.
func (s *Server) handleSearch(c *gin.Context) {
	req, err := parseSearchRequest(c)
	if err != nil {
		writeError(c, err)
		return
	}

	resp, err := s.search.Search(c.Request.Context(), *req)
	if err != nil {
		if s.dom != nil {
			s.dom.SearchTotalQueries.Inc()
			s.dom.SearchFailedQueries.Inc()
		}
		if _, ok := err.(*query.Error); ok {
			writeError(c, siemerr.Validation("INVALID_FIELD", err.Error()))
			return
		}
		writeError(c, siemerr.Database("SEARCH_FAILED", "search execution failed", err))
		return
	}
	if s.dom != nil {
		s.dom.SearchTotalQueries.Inc()
		if resp.Metadata.CacheHit {
			s.dom.SearchCacheHits.Inc()
		} else {
			s.dom.SearchCacheMisses.Inc()
		}
		s.dom.SearchDurationMs.Observe(float64(resp.Metadata.TookMs))
	}
	c.JSON(http.StatusOK, resp)
}

// handleGetEvent implements GET /events/:id.
func (s *Server) handleGetEvent(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	id := c.Param("id")
	e, err := s.search.GetByID(c.Request.Context(), tenantID, id)
	if err != nil {
		writeError(c, siemerr.NotFound("EVENT_NOT_FOUND", err.Error()))
		return
	}
	c.JSON(http.StatusOK, e)
}

// handleStream implements GET /events/stream/:backend via Server-Sent
// Events, with a heartbeat every heartbeat_interval seconds (spec §6).
// Filtering by source/severity/security_event is applied to each
// polled event before it is written to the stream.
func (s *Server) handleStream(c *gin.Context) {
	backend := c.Param("backend")
	if backend != "redis" && backend != "ch" {
		writeError(c, siemerr.Validation("INVALID_BACKEND", "backend must be redis or ch"))
		return
	}

	heartbeat := 15 * time.Second
	if v := c.Query("heartbeat_interval"); v != "" {
		if secs, err := time.ParseDuration(v + "s"); err == nil {
			heartbeat = secs
		}
	}

	sourceFilter := c.Query("source")
	severityFilter := c.Query("severity")
	securityOnly := c.Query("security_event") == "true"

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeError(c, siemerr.Internal("STREAM_UNSUPPORTED", "response writer does not support flushing", nil))
		return
	}

	w := bufio.NewWriter(c.Writer)
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, "event: heartbeat\ndata: {}\n\n")
			w.Flush()
			flusher.Flush()
		case e, ok := <-s.streamSource(c.Request.Context(), backend):
			if !ok {
				return
			}
			if !matchesStreamFilters(e, sourceFilter, severityFilter, securityOnly) {
				continue
			}
			payload, _ := json.Marshal(e)
			fmt.Fprintf(w, "event: event\ndata: %s\n\n", payload)
			w.Flush()
			flusher.Flush()
		}
	}
}

// streamSource returns an already-closed channel for every backend: no
// KVStream or columnar tail is wired, so handleStream returns as soon as
// this case is selected and no events are streamed.
func (s *Server) streamSource(ctx context.Context, backend string) <-chan *event.Event {
	ch := make(chan *event.Event)
	close(ch)
	return ch
}

func matchesStreamFilters(e *event.Event, source, severity string, securityOnly bool) bool {
	if source != "" && e.SourceType != source {
		return false
	}
	if severity != "" && (e.Severity == nil || *e.Severity != severity) {
		return false
	}
	if securityOnly && e.IsThreat != 1 {
		return false
	}
	return true
}

// handleDevEventInject implements POST /api/v1/dev/events/inject
// (SPEC_FULL.md §C.2): run a raw envelope through the ingest pipeline
// synchronously and return the resulting Event. Gated to non-production
// by the router (not mounted at all when cfg.Environment == production).
func (s *Server) handleDevEventInject(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		writeError(c, siemerr.Validation("INVALID_BODY", err.Error()))
		return
	}
	if s.devIngest == nil {
		writeError(c, siemerr.Internal("DEV_INGEST_UNAVAILABLE", "dev ingest pipeline not wired", nil))
		return
	}
	outcome, err := s.devIngest(body)
	if err != nil {
		writeError(c, siemerr.Validation("INGEST_FAILED", err.Error()))
		return
	}
	c.JSON(http.StatusOK, outcome.Event)
}
