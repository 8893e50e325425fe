package api

import (
	"encoding/base64"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/audit"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/contracts"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/fault"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/oversight"
)

// readBody drains the capped request body. A too-large body surfaces
// as a 400 from the MaxBytesReader error.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteBadRequest(w, "Unable to read request body (1MB limit)")
		return nil, false
	}
	return body, true
}

// --- Elder quorum surface ---

// handleListElders serves GET /v1/elders.
func (s *Server) handleListElders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.quorum.ListElders())
}

// signBlockRequest selects which committee members sign. A nil or
// empty elder_ids means the whole active committee.
type signBlockRequest struct {
	Header   contracts.BlockHeader `json:"header"`
	ElderIDs []string              `json:"elder_ids,omitempty"`
}

// handleSignBlock serves POST /v1/elders/sign-block.
func (s *Server) handleSignBlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var req signBlockRequest
	if err := decodeValidated(schemaSignBlock, body, &req); err != nil {
		WriteFault(w, r, err)
		return
	}

	env, err := s.quorum.SignBlock(r.Context(), req.Header, req.ElderIDs)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

// verifyQuorumRequest carries the exact canonical bytes (base64) the
// envelope signatures are checked against. Callers re-canonicalize on
// their side; the server never re-derives bytes from a header here.
type verifyQuorumRequest struct {
	HeaderCanonical string                   `json:"header_canonical"`
	Quorum          contracts.QuorumEnvelope `json:"quorum"`
}

// handleVerifyQuorum serves POST /v1/elders/verify-quorum.
func (s *Server) handleVerifyQuorum(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var req verifyQuorumRequest
	if err := decodeValidated(schemaVerify, body, &req); err != nil {
		WriteFault(w, r, err)
		return
	}

	canonical, err := base64.StdEncoding.DecodeString(req.HeaderCanonical)
	if err != nil {
		WriteFault(w, r, fault.Invalidf(fault.CodeBadInput, "header_canonical is not valid base64"))
		return
	}

	writeJSON(w, http.StatusOK, s.quorum.VerifyQuorum(canonical, req.Quorum))
}

type rotateRequest struct {
	ElderID string `json:"elder_id"`
}

// handleRotateElder serves POST /v1/elders/rotate.
func (s *Server) handleRotateElder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var req rotateRequest
	if err := decodeValidated(schemaRotate, body, &req); err != nil {
		WriteFault(w, r, err)
		return
	}

	view, err := s.quorum.RotateElder(r.Context(), req.ElderID)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type revokeRequest struct {
	ElderID string `json:"elder_id"`
	Reason  string `json:"reason,omitempty"`
}

// handleRevokeElder serves POST /v1/elders/revoke.
func (s *Server) handleRevokeElder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var req revokeRequest
	if err := decodeValidated(schemaRevoke, body, &req); err != nil {
		WriteFault(w, r, err)
		return
	}

	view, err := s.quorum.RevokeElder(r.Context(), req.ElderID, req.Reason)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// --- Policy surface ---

// handleAssessActivity serves POST /v1/agent/assess-activity.
func (s *Server) handleAssessActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var claim contracts.ActivityClaim
	if err := decodeValidated(schemaAssess, body, &claim); err != nil {
		WriteFault(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, s.policy.Assess(claim))
}

// --- Decision ledger surface ---

// handleDecide serves POST /api/ai/decide.
func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var in contracts.DecideInput
	if err := decodeValidated(schemaDecide, body, &in); err != nil {
		WriteFault(w, r, err)
		return
	}

	rec, err := s.ledger.Decide(r.Context(), in)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.Response())
}

// handleDecisionByID serves GET /api/ai/decision/{id}.
func (s *Server) handleDecisionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/ai/decision/"), "/")
	if id == "" || strings.Contains(id, "/") {
		WriteBadRequest(w, "Missing decision ID")
		return
	}

	rec, err := s.ledger.GetDecision(r.Context(), id)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleListDecisions serves GET /api/ai/decisions with optional
// model_id, outcome, input_type, limit and offset query parameters.
func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	q := r.URL.Query()
	f := contracts.DecisionFilter{
		ModelID:   q.Get("model_id"),
		Outcome:   contracts.Outcome(q.Get("outcome")),
		InputType: contracts.InputType(q.Get("input_type")),
	}

	limit, err := intQuery(q.Get("limit"), 0)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	offset, err := intQuery(q.Get("offset"), 0)
	if err != nil {
		WriteFault(w, r, err)
		return
	}

	recs, err := s.ledger.ListDecisions(r.Context(), f, limit, offset)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": recs,
		"count":     len(recs),
	})
}

// handleStats serves GET /api/ai/stats?window=24h.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			WriteFault(w, r, fault.Invalidf(fault.CodeBadInput, "window must be a positive duration such as 24h"))
			return
		}
		window = parsed
	}

	stats, err := s.ledger.AggregateStats(r.Context(), window)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- Dispute surface ---

type openDisputeRequest struct {
	DecisionID  string `json:"decision_id"`
	Reason      string `json:"reason"`
	Category    string `json:"category,omitempty"`
	SubmitterID string `json:"submitter_id,omitempty"`
}

// handleOpenDispute serves POST /api/ai/dispute.
func (s *Server) handleOpenDispute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var req openDisputeRequest
	if err := decodeValidated(schemaDisputeOpen, body, &req); err != nil {
		WriteFault(w, r, err)
		return
	}

	d, err := s.disputes.Open(r.Context(), oversight.OpenInput{
		DecisionID:  req.DecisionID,
		Reason:      req.Reason,
		Category:    contracts.DisputeCategory(req.Category),
		SubmitterID: req.SubmitterID,
	})
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"dispute_id": d.DisputeID,
		"status":     d.Status,
	})
}

// handleListDisputes serves GET /api/ai/disputes with optional status
// and decision_id query parameters.
func (s *Server) handleListDisputes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	q := r.URL.Query()
	status := contracts.DisputeStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		WriteFault(w, r, fault.Invalidf(fault.CodeBadInput,
			"status %q is not one of open, in_review, resolved, closed", status))
		return
	}

	disputes := s.disputes.List(r.Context(), oversight.Filter{
		Status:     status,
		DecisionID: q.Get("decision_id"),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"disputes": disputes,
		"count":    len(disputes),
	})
}

// handleDisputeRouter routes /api/ai/dispute/{id} and its lifecycle
// actions {id}/assign, {id}/vote, {id}/close.
func (s *Server) handleDisputeRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/ai/dispute/")
	path = strings.TrimSuffix(path, "/")

	switch {
	case path == "":
		WriteBadRequest(w, "Missing dispute ID")
	case strings.HasSuffix(path, "/assign"):
		s.handleAssignReviewers(w, r, strings.TrimSuffix(path, "/assign"))
	case strings.HasSuffix(path, "/vote"):
		s.handleVote(w, r, strings.TrimSuffix(path, "/vote"))
	case strings.HasSuffix(path, "/close"):
		s.handleCloseDispute(w, r, strings.TrimSuffix(path, "/close"))
	case !strings.Contains(path, "/"):
		s.handleGetDispute(w, r, path)
	default:
		WriteNotFound(w, "Unknown dispute endpoint")
	}
}

// handleGetDispute serves GET /api/ai/dispute/{id}.
func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	d, err := s.disputes.Get(r.Context(), id)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type assignRequest struct {
	Reviewers []string `json:"reviewers"`
}

// handleAssignReviewers serves POST /api/ai/dispute/{id}/assign.
func (s *Server) handleAssignReviewers(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var req assignRequest
	if err := decodeValidated(schemaAssign, body, &req); err != nil {
		WriteFault(w, r, err)
		return
	}

	d, err := s.disputes.AssignReviewers(r.Context(), id, req.Reviewers)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type voteRequest struct {
	Choice string `json:"choice"`
}

// handleVote serves POST /api/ai/dispute/{id}/vote. The reviewer is
// identified by the bearer token subject, never by a body field, so a
// reviewer cannot vote on someone else's behalf.
func (s *Server) handleVote(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	reviewerID, err := s.authenticateReviewer(r)
	if err != nil {
		WriteFault(w, r, err)
		return
	}

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var req voteRequest
	if err := decodeValidated(schemaVote, body, &req); err != nil {
		WriteFault(w, r, err)
		return
	}

	d, err := s.disputes.SubmitVote(r.Context(), id, reviewerID, contracts.VoteChoice(req.Choice))
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleCloseDispute serves POST /api/ai/dispute/{id}/close.
func (s *Server) handleCloseDispute(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	d, err := s.disputes.Close(r.Context(), id)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// authenticateReviewer extracts and verifies the bearer token,
// returning the reviewer id it vouches for.
func (s *Server) authenticateReviewer(r *http.Request) (string, error) {
	if s.tokens == nil {
		return "", fault.Unauthorizedf(fault.CodeBadToken, "reviewer authentication is not configured")
	}
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", fault.Unauthorizedf(fault.CodeBadToken, "missing bearer token")
	}
	return s.tokens.VerifyReviewerToken(token)
}

// --- Audit surface ---

// handleAuditEvents serves GET /v1/audit/events.
func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	if s.chain == nil {
		WriteNotFound(w, "Audit chain is not configured")
		return
	}
	verified, reason := s.chain.Verify()
	writeJSON(w, http.StatusOK, map[string]any{
		"events":        s.chain.Events(),
		"chain_head":    s.chain.Head(),
		"chain_length":  s.chain.Len(),
		"verified":      verified,
		"verify_detail": reason,
	})
}

// handleAuditExport serves GET /v1/audit/export?kind_prefix=dispute.
// The response is a zip evidence pack; its checksum rides in a header.
func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	if s.exporter == nil {
		WriteNotFound(w, "Audit chain is not configured")
		return
	}

	req := audit.ExportRequest{KindPrefix: r.URL.Query().Get("kind_prefix")}
	pack, checksum, err := s.exporter.GeneratePack(req)
	if err != nil {
		WriteFault(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-pack.zip"`)
	w.Header().Set("X-Content-Checksum", "sha256:"+checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pack)
}

// --- Health ---

// handleHealth serves GET /api/ai/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	mode := "full"
	if s.liteMode {
		mode = "lite"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"time":           time.Now().UTC().Format(time.RFC3339),
		"mode":           mode,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func intQuery(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fault.Invalidf(fault.CodeBadInput, "query parameter must be a non-negative integer, got %q", raw)
	}
	return n, nil
}
