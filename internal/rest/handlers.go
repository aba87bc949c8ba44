// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-frostsigner.
//
// go-frostsigner is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/audit"
	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/auth"
	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/logger"
	"github.com/jeremyhahn/go-frostsigner/pkg/policy"
	"github.com/jeremyhahn/go-frostsigner/pkg/prompt"
	"github.com/jeremyhahn/go-frostsigner/pkg/router"
	"github.com/jeremyhahn/go-frostsigner/pkg/storage"
	"github.com/jeremyhahn/go-frostsigner/pkg/types"
)

const maxBodySize = 1 << 20

// PromptResponse wraps the open prompt along with the number of requests
// queued behind it.
type PromptResponse struct {
	Prompt  *prompt.Prompt `json:"prompt"`
	Waiters int            `json:"waiters"`
}

// PoliciesResponse lists stored policies.
type PoliciesResponse struct {
	Policies []policy.Policy `json:"policies"`
}

// RevokeResponse reports how many policies a revoke removed.
type RevokeResponse struct {
	Removed int `json:"removed"`
}

// AuditResponse lists audit events, newest first.
type AuditResponse struct {
	Events []*audit.Event `json:"events"`
}

// SettingsResponse lists setting names.
type SettingsResponse struct {
	Settings []string `json:"settings"`
}

// RequestHandler handles POST /api/v1/request. The requesting host comes from
// the Origin header when the browser sends one, otherwise from the body.
func (s *Server) RequestHandler(w http.ResponseWriter, r *http.Request) {
	var req router.Request
	if err := decodeBody(r, &req); err != nil {
		writeErrorWithMessage(w, ErrInvalidRequest, err.Error(), http.StatusBadRequest)
		return
	}

	if origin := r.Header.Get("Origin"); origin != "" {
		if !originAllowed(s.allowedOrigins, origin) {
			writeError(w, ErrForbiddenOrigin, http.StatusForbidden)
			return
		}
		if host := originHost(origin); host != "" {
			req.Host = host
		}
	}

	resp := s.requests.Handle(r.Context(), req)
	status := http.StatusOK
	if resp.Error != nil {
		status = codeToStatus(resp.Error.Code)
	}
	writeJSON(w, resp, status)
}

// GetPromptHandler handles GET /api/v1/prompt. With ?wait=<seconds> it blocks
// until a prompt other than ?after=<id> opens. 204 means nothing is pending.
func (s *Server) GetPromptHandler(w http.ResponseWriter, r *http.Request) {
	current := s.prompts.Current()

	if wait := r.URL.Query().Get("wait"); wait != "" && s.watcher != nil {
		seconds, err := strconv.Atoi(wait)
		if err != nil || seconds < 0 {
			writeErrorWithMessage(w, ErrInvalidRequest, "wait must be a non-negative number of seconds", http.StatusBadRequest)
			return
		}
		timeout := min(time.Duration(seconds)*time.Second, s.maxPromptWait)
		after := r.URL.Query().Get("after")

		if current == nil || current.ID == after {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next, err := s.watcher.Next(ctx, after)
			if err == nil {
				current = next
			} else {
				current = nil
			}
		}
	}

	if current == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, PromptResponse{Prompt: current, Waiters: s.prompts.Waiters()}, http.StatusOK)
}

// RespondPromptHandler handles POST /api/v1/prompt/{id}.
func (s *Server) RespondPromptHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var decision prompt.Decision
	if err := decodeBody(r, &decision); err != nil {
		writeErrorWithMessage(w, ErrInvalidRequest, err.Error(), http.StatusBadRequest)
		return
	}

	event := s.promptEvent(audit.EventPromptAnswer, id)
	event.Outcome = audit.Outcome(decision.Accept)
	if decision.Conditions != nil {
		event.Kinds = decision.Conditions.Kinds
	}
	if err := s.prompts.Respond(id, decision); err != nil {
		handleError(w, err)
		return
	}

	s.record(r, event,
		"Prompt answered",
		logger.Session(id),
		logger.Bool("accept", decision.Accept),
		logger.Bool("remember", decision.Conditions != nil))
	w.WriteHeader(http.StatusNoContent)
}

// ClosePromptHandler handles DELETE /api/v1/prompt/{id}. The pending request
// is rejected without storing a policy.
func (s *Server) ClosePromptHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	event := s.promptEvent(audit.EventPromptClose, id)
	if err := s.prompts.Close(id); err != nil {
		handleError(w, err)
		return
	}
	s.record(r, event, "Prompt closed", logger.Session(id))
	w.WriteHeader(http.StatusNoContent)
}

// promptEvent describes the prompt id while it is still open.
func (s *Server) promptEvent(t audit.EventType, id string) *audit.Event {
	event := &audit.Event{Type: t, SessionID: id}
	if p := s.prompts.Current(); p != nil && p.ID == id {
		event.Host = p.Host
		event.Operation = p.Operation.String()
		event.Metadata = map[string]any{"opened_at": p.CreatedAt}
	}
	return event
}

// ListPoliciesHandler handles GET /api/v1/policies[?host=].
func (s *Server) ListPoliciesHandler(w http.ResponseWriter, r *http.Request) {
	var (
		list []policy.Policy
		err  error
	)
	if host := r.URL.Query().Get("host"); host != "" {
		list, err = s.policies.ListHost(host)
	} else {
		list, err = s.policies.List()
	}
	if err != nil {
		handleError(w, err)
		return
	}
	if list == nil {
		list = []policy.Policy{}
	}
	writeJSON(w, PoliciesResponse{Policies: list}, http.StatusOK)
}

// RevokeHostHandler handles DELETE /api/v1/policies/{host}.
func (s *Server) RevokeHostHandler(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	n, err := s.policies.RevokeHost(host)
	if err != nil {
		handleError(w, err)
		return
	}
	s.record(r, nil, "Host policies revoked", logger.Host(host), logger.Int("removed", n))
	writeJSON(w, RevokeResponse{Removed: n}, http.StatusOK)
}

// RevokePolicyHandler handles DELETE /api/v1/policies/{host}/{operation}/{accept}.
func (s *Server) RevokePolicyHandler(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	op := types.Operation(chi.URLParam(r, "operation"))
	accept, err := strconv.ParseBool(chi.URLParam(r, "accept"))
	if err != nil {
		writeErrorWithMessage(w, ErrInvalidRequest, "accept must be true or false", http.StatusBadRequest)
		return
	}

	if err := s.policies.Revoke(host, op, accept); err != nil {
		handleError(w, err)
		return
	}
	s.record(r, nil, "Policy revoked", logger.Host(host), logger.Operation(op.String()), logger.Bool("accept", accept))
	w.WriteHeader(http.StatusNoContent)
}

// ListSettingsHandler handles GET /api/v1/settings.
func (s *Server) ListSettingsHandler(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, types.ErrNotInitialized, http.StatusServiceUnavailable)
		return
	}
	names, err := storage.ListSettings(s.settings)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, SettingsResponse{Settings: names}, http.StatusOK)
}

// GetSettingHandler handles GET /api/v1/settings/{name}.
func (s *Server) GetSettingHandler(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, types.ErrNotInitialized, http.StatusServiceUnavailable)
		return
	}
	var value json.RawMessage
	found, err := storage.GetJSON(s.settings, storage.SettingPath(chi.URLParam(r, "name")), &value)
	if err != nil {
		handleError(w, err)
		return
	}
	if !found {
		handleError(w, storage.ErrNotFound)
		return
	}
	writeJSON(w, value, http.StatusOK)
}

// PutSettingHandler handles PUT /api/v1/settings/{name}. The body must be
// valid JSON and is stored as is.
func (s *Server) PutSettingHandler(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, types.ErrNotInitialized, http.StatusServiceUnavailable)
		return
	}
	var value json.RawMessage
	if err := decodeBody(r, &value); err != nil {
		writeErrorWithMessage(w, ErrInvalidRequest, err.Error(), http.StatusBadRequest)
		return
	}

	name := chi.URLParam(r, "name")
	if err := storage.PutJSON(s.settings, storage.SettingPath(name), value); err != nil {
		handleError(w, err)
		return
	}
	s.record(r, &audit.Event{Type: audit.EventSettingChange, Metadata: map[string]any{"setting": name}},
		"Setting updated", logger.String("setting", name))
	w.WriteHeader(http.StatusNoContent)
}

// ListAuditHandler handles GET /api/v1/audit[?host=&type=&since=&limit=].
func (s *Server) ListAuditHandler(w http.ResponseWriter, r *http.Request) {
	if s.auditTrail == nil {
		writeJSON(w, AuditResponse{Events: []*audit.Event{}}, http.StatusOK)
		return
	}

	q := r.URL.Query()
	query := &audit.EventQuery{Host: q.Get("host"), Limit: 100}
	for _, t := range q["type"] {
		query.Types = append(query.Types, audit.EventType(t))
	}
	if since := q.Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeErrorWithMessage(w, ErrInvalidRequest, "since must be an RFC 3339 timestamp", http.StatusBadRequest)
			return
		}
		query.Since = ts
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeErrorWithMessage(w, ErrInvalidRequest, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		query.Limit = n
	}

	events, err := s.auditTrail.GetEvents(r.Context(), query)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, AuditResponse{Events: events}, http.StatusOK)
}

// record logs an administrative change and adds event, if any, to the audit
// trail. Policy table changes reach the trail through the store subscription.
func (s *Server) record(r *http.Request, event *audit.Event, msg string, fields ...logger.Field) {
	identity := auth.GetIdentity(r.Context())
	if identity != nil {
		fields = append(fields, logger.String("subject", identity.Subject))
	}
	log := logger.FromContext(r.Context(), s.logger)
	log.Info(msg, fields...)

	if event == nil || s.auditTrail == nil {
		return
	}
	if identity != nil {
		event.Subject = identity.Subject
	}
	if err := s.auditTrail.LogEvent(r.Context(), event); err != nil {
		log.Warn("failed to record audit event", logger.Error(err))
	}
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return errors.New("request body is empty")
	}
	return json.Unmarshal(body, v)
}
