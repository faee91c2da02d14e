package qahttp

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"manifold/internal/qa/orchestrator"
	"manifold/internal/qa/session"
	"manifold/internal/qa/types"
)

// view selects which response fields an endpoint variant exposes, per
// spec §6's per-endpoint field table.
type view int

const (
	viewTest view = iota
	viewSupport
	viewCustomer
)

func (v view) userClassTag() string {
	switch v {
	case viewSupport:
		return "internal"
	case viewCustomer:
		return "external"
	default:
		return ""
	}
}

// chatRequest is the inbound shape spec §6 names:
// {message, session_id?, user_info?}.
type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	UserInfo  *struct {
		UserID    string `json:"user_id"`
		UserClass string `json:"user_class"`
	} `json:"user_info"`
}

// chatResponse is the outbound shape, subject to per-endpoint filtering.
type chatResponse struct {
	Response             string                 `json:"response"`
	SessionID            string                 `json:"session_id"`
	Confidence           float64                `json:"confidence,omitempty"`
	ClassifierConfidence float64                `json:"classification_confidence,omitempty"`
	Sources              []string               `json:"sources,omitempty"`
	QueryType            string                 `json:"query_type,omitempty"`
	Timestamp            string                 `json:"timestamp"`
	RequiresEscalation   bool                   `json:"requires_escalation"`
	EnhancedQuery        string                 `json:"enhanced_query,omitempty"`
	SearchAttempts       []types.SearchAttempt  `json:"search_attempts,omitempty"`
	QueryMetadata        *types.QueryMetadata   `json:"query_metadata,omitempty"`
	DebugMetrics         *types.StageTimings    `json:"debug_metrics,omitempty"`
}

// handleChat builds the POST handler for one endpoint variant.
func (s *Server) handleChat(v view) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "bad_request", "request body must be valid JSON")
			return
		}
		if req.Message == "" {
			respondError(w, http.StatusBadRequest, "bad_request", "message is required")
			return
		}

		sessionID := req.SessionID
		if sessionID == "" {
			info := session.UserInfo{UserClass: v.userClassTag()}
			if req.UserInfo != nil {
				info.UserID = req.UserInfo.UserID
				if req.UserInfo.UserClass != "" {
					info.UserClass = req.UserInfo.UserClass
				}
			}
			sessionID = s.sessions.CreateSession(info)
		}

		result := s.orch.Handle(r.Context(), orchestrator.Request{
			SessionID:    sessionID,
			Query:        req.Message,
			UserClassTag: v.userClassTag(),
			IncludeDebug: v == viewTest,
		})

		resp := chatResponse{
			Response:           result.Answer,
			SessionID:          sessionID,
			Confidence:         result.Confidence,
			Sources:            result.Sources,
			QueryType:          result.Classification,
			Timestamp:          nowRFC3339(),
			RequiresEscalation: result.Escalated,
		}
		applyView(&resp, result, v)
		respondJSON(w, http.StatusOK, resp)
	}
}

// applyView trims the response down to what spec §6's table allows for
// each variant. viewTest gets everything; viewSupport drops the enhanced
// query and debug metrics; viewCustomer exposes only response plus the
// escalation flag.
func applyView(resp *chatResponse, result types.Response, v view) {
	switch v {
	case viewTest:
		resp.ClassifierConfidence = result.Confidence
		resp.EnhancedQuery = result.EnhancedQuery
		resp.SearchAttempts = result.SearchAttempts
		qm := result.QueryMetadata
		if qm.Category != "" || qm.Intent != "" || len(qm.Tags) > 0 {
			resp.QueryMetadata = &qm
		}
		if result.DebugMetrics != nil {
			resp.DebugMetrics = result.DebugMetrics
		}
	case viewSupport:
		// response, confidence, sources, query_type — already populated.
	case viewCustomer:
		resp.Confidence = 0
		resp.Sources = nil
		resp.QueryType = ""
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())
	status := http.StatusOK
	if report.Status == StatusDown {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, report)
}

// rateLimited wraps next with the per-caller token bucket, returning 429
// with Retry-After and X-RateLimit-* headers on exceed, per spec §6.
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		limiter := s.limiterFor(key)
		if !limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(s.burst))
			w.Header().Set("X-RateLimit-Remaining", "0")
			respondError(w, http.StatusTooManyRequests, "rate_limited", "request rate exceeded, please slow down")
			return
		}
		next(w, r)
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError matches spec §6's 500 body shape {error, type, message},
// reused for every non-2xx response regardless of status code.
func respondError(w http.ResponseWriter, status int, errType, message string) {
	respondJSON(w, status, map[string]any{
		"error":   errType,
		"type":    errType,
		"message": message,
	})
}

func nowRFC3339() string {
	return timeNow().UTC().Format(time.RFC3339)
}

// timeNow is a seam so handler tests can avoid depending on wall-clock
// formatting beyond "it produced a timestamp".
var timeNow = time.Now
