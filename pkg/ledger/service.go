package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/artifacts"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/audit"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/canonicalize"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/contracts"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/explain"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/fault"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/keystore"
)

// isoFormat renders ledger timestamps: ISO-8601 UTC with an explicit
// Z, no fractional seconds, so the stored strings sort chronologically.
const isoFormat = time.RFC3339

// List paging bounds. Callers asking for nothing get a page of
// defaultListLimit; nobody gets more than maxListLimit per call.
const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Service owns the decide path: validate, build evidence artifacts,
// sign, persist. Artifacts are advisory (pin failures degrade to null
// content ids); the signed record is authoritative and its insert is
// the only fatal step.
type Service struct {
	store  Store
	signer keystore.Signer
	pins   *artifacts.Pinner
	clock  func() time.Time
	logger *slog.Logger
	events audit.Recorder
}

// Option configures a Service.
type Option func(*Service)

// WithPinner enables artifact pinning. Without it every content id in
// recorded decisions is null.
func WithPinner(p *artifacts.Pinner) Option {
	return func(s *Service) { s.pins = p }
}

// WithClock overrides time for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAudit mirrors signed decisions onto the audit chain.
func WithAudit(rec audit.Recorder) Option {
	return func(s *Service) { s.events = rec }
}

// New builds the decision ledger service. store and signer must be
// non-nil; the signer is the operator identity, distinct from every
// Elder key.
func New(store Store, signer keystore.Signer, opts ...Option) *Service {
	s := &Service{
		store:  store,
		signer: signer,
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Decide validates the input, assembles the evidence artifacts, signs
// the record with the operator key and persists it. The record is
// committed only if the insert succeeds; on a store fault nothing is
// returned and the caller must not treat the decision as recorded.
func (s *Service) Decide(ctx context.Context, in contracts.DecideInput) (contracts.DecisionRecord, error) {
	if err := validateInput(in); err != nil {
		return contracts.DecisionRecord{}, err
	}

	id, err := newDecisionID()
	if err != nil {
		return contracts.DecisionRecord{}, err
	}
	now := s.clock().UTC()

	expl := explain.Build(id, in.ModelID, in.ModelVersion, string(in.Decision), in.Confidence, in.Features, now)
	explJSON, _ := json.Marshal(expl)
	explCID := s.pin(ctx, in.ModelID, "explanation", id, explJSON)

	var pngCID *string
	if png, err := explain.RenderChart(expl); err != nil {
		s.logger.Warn("explanation chart skipped", "decision_id", id, "err", err)
	} else {
		pngCID = s.pin(ctx, in.ModelID, "explanation_png", id, png)
	}

	stub := explain.BuildProofStub(id, in.Confidence, now)
	stubJSON, _ := json.Marshal(stub)
	zkCID := s.pin(ctx, in.ModelID, "zk_proof", id, stubJSON)

	rec := contracts.DecisionRecord{
		DecisionID:        id,
		ModelID:           in.ModelID,
		ModelVersion:      in.ModelVersion,
		InputType:         in.InputType,
		InputCommitment:   in.InputCommitment,
		Outcome:           in.Decision,
		Confidence:        in.Confidence,
		ExplanationCID:    explCID,
		ExplanationPNGCID: pngCID,
		ZKProofCID:        zkCID,
		ElderPub:          hex.EncodeToString(s.signer.Public()),
		Timestamp:         now.Format(isoFormat),
	}

	unsigned, err := SigningBytes(rec)
	if err != nil {
		return contracts.DecisionRecord{}, err
	}
	sig, err := s.signer.Sign(ctx, unsigned)
	if err != nil {
		return contracts.DecisionRecord{}, fault.Wrap(fault.Infrastructure, fault.CodeKeyLoad, err, "sign decision %s", id)
	}
	rec.Signature = hex.EncodeToString(sig)

	if err := s.store.InsertDecision(ctx, rec); err != nil {
		return contracts.DecisionRecord{}, err
	}

	s.recordEvent(audit.KindDecisionSigned, in.ModelID, map[string]string{
		"decision_id": id,
		"outcome":     string(in.Decision),
	})
	s.logger.Info("decision recorded",
		"decision_id", id,
		"model_id", in.ModelID,
		"outcome", in.Decision,
	)
	return rec, nil
}

// GetDecision reads one record. The read retries transient store
// faults under the idempotent-read policy.
func (s *Service) GetDecision(ctx context.Context, decisionID string) (contracts.DecisionRecord, error) {
	return fault.RetryRead(ctx, func() (contracts.DecisionRecord, error) {
		return s.store.GetDecision(ctx, decisionID)
	})
}

// ListDecisions pages matching records, newest first.
func (s *Service) ListDecisions(ctx context.Context, f contracts.DecisionFilter, limit, offset int) ([]contracts.DecisionRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return fault.RetryRead(ctx, func() ([]contracts.DecisionRecord, error) {
		return s.store.ListDecisions(ctx, f, limit, offset)
	})
}

// AggregateStats summarizes decisions made in the trailing window. A
// zero or negative window covers the whole ledger.
func (s *Service) AggregateStats(ctx context.Context, window time.Duration) (contracts.DecisionStats, error) {
	since := ""
	if window > 0 {
		since = s.clock().UTC().Add(-window).Format(isoFormat)
	}
	return fault.RetryRead(ctx, func() (contracts.DecisionStats, error) {
		return s.store.Stats(ctx, since)
	})
}

// SigningBytes returns the exact bytes the operator signs: the
// canonical JSON of the record document with the signature field
// removed. Verifiers rebuild these bytes from a stored record.
func SigningBytes(rec contracts.DecisionRecord) ([]byte, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fault.Invalidf(fault.CodeBadInput, "record not serializable: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fault.Invalidf(fault.CodeBadInput, "record not serializable: %v", err)
	}
	delete(doc, "signature")
	return canonicalize.Record(doc)
}

func validateInput(in contracts.DecideInput) error {
	if in.Confidence < 0 || in.Confidence > 1 {
		return fault.Invalidf(fault.CodeBadConfidence, "confidence %v outside [0, 1]", in.Confidence)
	}
	if !in.Decision.Valid() {
		return fault.Invalidf(fault.CodeBadDecisionEnum, "decision %q is not one of approved, flagged, denied", in.Decision)
	}
	if !in.InputType.Valid() {
		return fault.Invalidf(fault.CodeBadInput, "input_type %q is not one of image, gps, text, sensor", in.InputType)
	}
	if in.ModelID == "" {
		return fault.Invalidf(fault.CodeBadInput, "model_id is required")
	}
	if _, err := semver.NewVersion(in.ModelVersion); err != nil {
		return fault.Invalidf(fault.CodeBadInput, "model_version %q is not a semantic version", in.ModelVersion)
	}
	if in.InputCommitment == "" {
		return fault.Invalidf(fault.CodeBadInput, "input_commitment is required")
	}
	if _, err := hex.DecodeString(in.InputCommitment); err != nil {
		return fault.Invalidf(fault.CodeBadInput, "input_commitment is not hex")
	}
	return nil
}

// newDecisionID draws 8 bytes of entropy, rendered as 16 hex chars.
func newDecisionID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fault.Wrap(fault.Infrastructure, fault.CodeKeyLoad, err, "decision id entropy")
	}
	return hex.EncodeToString(b), nil
}

// pin stores one artifact blob, degrading to a null content id when
// the limiter or the store refuses. Records stay authoritative either
// way; artifacts are advisory.
func (s *Service) pin(ctx context.Context, actor, label, decisionID string, blob []byte) *string {
	if s.pins == nil {
		return nil
	}
	cid, err := s.pins.Pin(ctx, actor, blob)
	if err != nil {
		s.logger.Warn("artifact pin skipped",
			"decision_id", decisionID,
			"artifact", label,
			"err", err,
		)
		return nil
	}
	return &cid
}

func (s *Service) recordEvent(kind, actor string, details map[string]string) {
	if s.events == nil {
		return
	}
	s.events.Record(kind, actor, details)
}
