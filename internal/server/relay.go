// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jeranaias/doctor-assist/internal/prompt"
)

// ============================================================================
// RELAY TYPES
// ============================================================================

// Fallback replies returned with HTTP 200 when the provider responds but
// carries no extractable text. Clients render these verbatim.
const (
	FallbackSummary = "Summary unavailable"
	FallbackChat    = "No response"
)

// RelayRequest is the POST /api/ai request body.
//
// Message is deliberately untyped: a number or object in the field is a
// client bug that must map to 400 "Invalid message", not a decode failure.
type RelayRequest struct {
	Message  any              `json:"message"`
	Messages []prompt.Message `json:"messages"`
	Summary  string           `json:"summary"`
}

// RelayResponse is the POST /api/ai response body.
type RelayResponse struct {
	Reply     string `json:"reply"`
	IsSummary bool   `json:"isSummary,omitempty"`
}

// ============================================================================
// RELAY HANDLER
// ============================================================================

// handleRelay handles POST /api/ai.
//
// Exactly one generation call goes upstream per admitted request. The
// summarize-vs-chat decision is made here, before anything leaves the
// process, so a classification bug can never cause a double spend.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)

	// A panic below this point must surface as the relay's own opaque
	// error body, not the generic recovery middleware response.
	defer func() {
		if err := recover(); err != nil {
			log.Printf("RELAY_PANIC | error=%v", err)
			s.writeError(w, http.StatusInternalServerError, "AI error")
		}
	}()

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req RelayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		atomic.AddInt64(&s.stats.Invalid, 1)
		log.Printf("RELAY_BAD_BODY | client=%s error=%v", ClientKey(r), err)
		s.writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	message, ok := req.Message.(string)
	if !ok || message == "" {
		atomic.AddInt64(&s.stats.Invalid, 1)
		s.writeError(w, http.StatusBadRequest, "Invalid message")
		return
	}

	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		atomic.AddInt64(&s.stats.Invalid, 1)
		s.writeError(w, http.StatusBadRequest, "Empty message")
		return
	}

	s.mu.RLock()
	generator := s.generator
	s.mu.RUnlock()

	if generator == nil {
		atomic.AddInt64(&s.stats.Unavailable, 1)
		log.Printf("RELAY_NO_GENERATOR | client=%s", ClientKey(r))
		s.writeError(w, http.StatusInternalServerError, "AI error")
		return
	}

	start := time.Now()

	if prompt.IsSummaryCommand(trimmed) {
		atomic.AddInt64(&s.stats.SummaryRequests, 1)

		result, err := generator.GenerateContent(r.Context(), prompt.Summary(req.Messages))
		if err != nil {
			atomic.AddInt64(&s.stats.Unavailable, 1)
			log.Printf("RELAY_ERROR | kind=summary client=%s error=%v", ClientKey(r), err)
			s.writeError(w, http.StatusInternalServerError, "AI error")
			return
		}

		reply := result.Text
		if !result.OK {
			atomic.AddInt64(&s.stats.Degraded, 1)
			reply = FallbackSummary
		}

		log.Printf("RELAY_COMPLETE | kind=summary client=%s messages=%d degraded=%t latency=%dms",
			ClientKey(r), len(req.Messages), !result.OK, time.Since(start).Milliseconds())

		s.writeJSON(w, http.StatusOK, RelayResponse{Reply: reply, IsSummary: true})
		return
	}

	atomic.AddInt64(&s.stats.ChatRequests, 1)

	result, err := generator.GenerateContent(r.Context(), prompt.Chat(trimmed, req.Summary))
	if err != nil {
		atomic.AddInt64(&s.stats.Unavailable, 1)
		log.Printf("RELAY_ERROR | kind=chat client=%s error=%v", ClientKey(r), err)
		s.writeError(w, http.StatusInternalServerError, "AI error")
		return
	}

	reply := result.Text
	if !result.OK {
		atomic.AddInt64(&s.stats.Degraded, 1)
		reply = FallbackChat
	}

	log.Printf("RELAY_COMPLETE | kind=chat client=%s query=%s degraded=%t latency=%dms",
		ClientKey(r), truncateString(trimmed, 50), !result.OK, time.Since(start).Milliseconds())

	s.writeJSON(w, http.StatusOK, RelayResponse{Reply: reply})
}
