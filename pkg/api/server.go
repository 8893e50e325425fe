package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/audit"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/identity"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/ledger"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/oversight"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/policy"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/quorum"
)

// maxBodyBytes caps every request body read by the API.
const maxBodyBytes = 1 << 20 // 1MB

// Server exposes the core services over HTTP+JSON.
type Server struct {
	quorum   *quorum.Service
	policy   *policy.Engine
	ledger   *ledger.Service
	disputes *oversight.Manager
	tokens   *identity.TokenManager
	chain    *audit.Chain
	exporter *audit.Exporter
	logger   *slog.Logger
	started  time.Time
	liteMode bool
}

// Deps carries the wired services. Quorum, Policy, Ledger and Disputes
// are required; the rest degrade gracefully when absent (no audit feed,
// no vote authentication).
type Deps struct {
	Quorum   *quorum.Service
	Policy   *policy.Engine
	Ledger   *ledger.Service
	Disputes *oversight.Manager
	Tokens   *identity.TokenManager
	Chain    *audit.Chain
	Logger   *slog.Logger
	LiteMode bool
}

// NewServer builds the HTTP surface over the given services.
func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		quorum:   d.Quorum,
		policy:   d.Policy,
		ledger:   d.Ledger,
		disputes: d.Disputes,
		tokens:   d.Tokens,
		chain:    d.Chain,
		logger:   logger.With("component", "api"),
		started:  time.Now(),
		liteMode: d.LiteMode,
	}
	if d.Chain != nil {
		s.exporter = audit.NewExporter(d.Chain)
	}
	return s
}

// Handler builds the full route table wrapped in the per-IP rate
// limiter. Paths ending in "/" are prefix routes; their handlers parse
// the id out of the remaining path segments.
func (s *Server) Handler(limiter *GlobalRateLimiter) http.Handler {
	mux := http.NewServeMux()

	// Elder quorum surface
	mux.HandleFunc("/v1/elders", s.handleListElders)
	mux.HandleFunc("/v1/elders/sign-block", s.handleSignBlock)
	mux.HandleFunc("/v1/elders/verify-quorum", s.handleVerifyQuorum)
	mux.HandleFunc("/v1/elders/rotate", s.handleRotateElder)
	mux.HandleFunc("/v1/elders/revoke", s.handleRevokeElder)

	// Policy surface
	mux.HandleFunc("/v1/agent/assess-activity", s.handleAssessActivity)

	// Decision ledger surface
	mux.HandleFunc("/api/ai/decide", s.handleDecide)
	mux.HandleFunc("/api/ai/decision/", s.handleDecisionByID)
	mux.HandleFunc("/api/ai/decisions", s.handleListDecisions)
	mux.HandleFunc("/api/ai/stats", s.handleStats)

	// Dispute surface
	mux.HandleFunc("/api/ai/dispute", s.handleOpenDispute)
	mux.HandleFunc("/api/ai/dispute/", s.handleDisputeRouter)
	mux.HandleFunc("/api/ai/disputes", s.handleListDisputes)

	// Audit surface
	mux.HandleFunc("/v1/audit/events", s.handleAuditEvents)
	mux.HandleFunc("/v1/audit/export", s.handleAuditExport)

	mux.HandleFunc("/api/ai/health", s.handleHealth)

	if limiter == nil {
		return mux
	}
	return limiter.Middleware(mux)
}
