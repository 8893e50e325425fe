// Package oversight runs the dispute state machine: structured
// challenges against recorded decisions, adjudicated by a fixed set of
// human reviewers via majority vote. Status only moves forward
// (open → in_review → resolved → closed) and every transition lands on
// the audit chain. Resolution effects are emitted as events; executing
// them is outside the core.
package oversight

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/audit"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/contracts"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/fault"
)

// DisputeStore is the narrow persistence surface the manager writes
// through: the dispute row of the shared schema plus status updates.
// Reviewer and vote state stays in process memory; the row is what
// survives a restart. Both ledger store implementations satisfy this.
type DisputeStore interface {
	InsertDispute(ctx context.Context, d contracts.Dispute) error
	UpdateDisputeStatus(ctx context.Context, disputeID string, status contracts.DisputeStatus) error
}

// DecisionCheck reports whether a decision id refers to a recorded
// decision. A not-found fault from the check blocks dispute creation.
type DecisionCheck func(ctx context.Context, decisionID string) error

// entry pairs a dispute with its own lock so votes on distinct
// disputes never contend.
type entry struct {
	mu sync.Mutex
	d  contracts.Dispute
}

// Manager owns all dispute state. The manager lock guards only the
// map; each dispute carries its own mutex.
type Manager struct {
	mu       sync.RWMutex
	disputes map[string]*entry
	store    DisputeStore
	check    DecisionCheck
	clock    func() time.Time
	events   audit.Recorder
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithStore writes dispute rows through to the ledger store.
func WithStore(store DisputeStore) Option {
	return func(m *Manager) { m.store = store }
}

// WithDecisionCheck verifies the target decision exists before a
// dispute opens.
func WithDecisionCheck(check DecisionCheck) Option {
	return func(m *Manager) { m.check = check }
}

// WithAudit mirrors dispute transitions onto the audit chain.
func WithAudit(rec audit.Recorder) Option {
	return func(m *Manager) { m.events = rec }
}

// NewManager creates an empty dispute manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		disputes: make(map[string]*entry),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OpenInput is the request to open a dispute. Category defaults to
// "other" when empty; SubmitterID is optional.
type OpenInput struct {
	DecisionID  string
	Reason      string
	Category    contracts.DisputeCategory
	SubmitterID string
}

// Open creates a dispute against a recorded decision. A decision may
// accumulate any number of disputes.
func (m *Manager) Open(ctx context.Context, in OpenInput) (contracts.Dispute, error) {
	if in.DecisionID == "" {
		return contracts.Dispute{}, fault.Invalidf(fault.CodeBadInput, "decision_id is required")
	}
	if in.Reason == "" {
		return contracts.Dispute{}, fault.Invalidf(fault.CodeBadInput, "reason is required")
	}
	if in.Category == "" {
		in.Category = contracts.CategoryOther
	}
	if !in.Category.Valid() {
		return contracts.Dispute{}, fault.Invalidf(fault.CodeBadInput,
			"category %q is not one of bias, accuracy, fairness, other", in.Category)
	}
	if m.check != nil {
		if err := m.check(ctx, in.DecisionID); err != nil {
			return contracts.Dispute{}, err
		}
	}

	d := contracts.Dispute{
		DisputeID:   uuid.New().String(),
		DecisionID:  in.DecisionID,
		Reason:      in.Reason,
		Category:    in.Category,
		SubmitterID: in.SubmitterID,
		SubmittedAt: m.clock().UTC(),
		Status:      contracts.DisputeOpen,
		Votes:       make(map[string]contracts.VoteChoice),
	}

	if m.store != nil {
		if err := m.store.InsertDispute(ctx, d); err != nil {
			return contracts.Dispute{}, err
		}
	}

	m.mu.Lock()
	m.disputes[d.DisputeID] = &entry{d: d}
	m.mu.Unlock()

	m.recordEvent(audit.KindDisputeOpened, d.SubmitterID, map[string]string{
		"dispute_id":  d.DisputeID,
		"decision_id": d.DecisionID,
		"category":    string(d.Category),
	})
	return cloneDispute(d), nil
}

// AssignReviewers fixes the reviewer set and moves the dispute to
// in_review. The set is frozen: later votes by anyone outside it are
// rejected, and reassignment is not a thing.
func (m *Manager) AssignReviewers(ctx context.Context, disputeID string, reviewerIDs []string) (contracts.Dispute, error) {
	if len(reviewerIDs) == 0 {
		return contracts.Dispute{}, fault.Invalidf(fault.CodeBadInput, "at least one reviewer is required")
	}
	reviewers := make([]string, 0, len(reviewerIDs))
	seen := make(map[string]bool, len(reviewerIDs))
	for _, id := range reviewerIDs {
		if id == "" {
			return contracts.Dispute{}, fault.Invalidf(fault.CodeBadInput, "reviewer ids must be non-empty")
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		reviewers = append(reviewers, id)
	}

	e, err := m.lookup(disputeID)
	if err != nil {
		return contracts.Dispute{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.d.Status != contracts.DisputeOpen {
		return contracts.Dispute{}, fault.Preconditionf(fault.CodeBadTransition,
			"dispute %s is %s; reviewers can only be assigned while open", disputeID, e.d.Status)
	}

	if err := m.writeStatus(ctx, disputeID, contracts.DisputeInReview); err != nil {
		return contracts.Dispute{}, err
	}
	e.d.Reviewers = reviewers
	e.d.Status = contracts.DisputeInReview

	m.recordEvent(audit.KindDisputeAssigned, "", map[string]string{
		"dispute_id": disputeID,
		"reviewers":  strconv.Itoa(len(reviewers)),
	})
	return cloneDispute(e.d), nil
}

// SubmitVote records one reviewer's choice. Re-votes overwrite while
// the dispute is in review; the vote that completes the set resolves
// the dispute by majority of support_ai/overturn_ai, ties favoring
// support_ai. Abstentions count toward completion, not toward the
// majority.
func (m *Manager) SubmitVote(ctx context.Context, disputeID, reviewerID string, choice contracts.VoteChoice) (contracts.Dispute, error) {
	if !choice.Valid() {
		return contracts.Dispute{}, fault.Invalidf(fault.CodeBadInput,
			"choice %q is not one of support_ai, overturn_ai, abstain", choice)
	}

	e, err := m.lookup(disputeID)
	if err != nil {
		return contracts.Dispute{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.d.Status {
	case contracts.DisputeInReview:
		// voting is open
	case contracts.DisputeOpen:
		return contracts.Dispute{}, fault.Preconditionf(fault.CodeBadTransition,
			"dispute %s has no reviewers assigned yet", disputeID)
	default:
		return contracts.Dispute{}, fault.Preconditionf(fault.CodeDisputeClosed,
			"dispute %s is %s; voting has ended", disputeID, e.d.Status)
	}

	if !contains(e.d.Reviewers, reviewerID) {
		return contracts.Dispute{}, fault.Unauthorizedf(fault.CodeNotAReviewer,
			"%s is not an assigned reviewer of dispute %s", reviewerID, disputeID)
	}

	e.d.Votes[reviewerID] = choice
	m.recordEvent(audit.KindDisputeVote, reviewerID, map[string]string{
		"dispute_id": disputeID,
		"choice":     string(choice),
	})

	if len(e.d.Votes) == len(e.d.Reviewers) {
		if err := m.resolveLocked(ctx, e); err != nil {
			return contracts.Dispute{}, err
		}
	}
	return cloneDispute(e.d), nil
}

// Close retires a resolved dispute. Closed is terminal.
func (m *Manager) Close(ctx context.Context, disputeID string) (contracts.Dispute, error) {
	e, err := m.lookup(disputeID)
	if err != nil {
		return contracts.Dispute{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.d.Status {
	case contracts.DisputeResolved:
		// the only state close is legal from
	case contracts.DisputeClosed:
		return contracts.Dispute{}, fault.Preconditionf(fault.CodeDisputeClosed,
			"dispute %s is already closed", disputeID)
	default:
		return contracts.Dispute{}, fault.Preconditionf(fault.CodeBadTransition,
			"dispute %s is %s; only resolved disputes close", disputeID, e.d.Status)
	}

	if err := m.writeStatus(ctx, disputeID, contracts.DisputeClosed); err != nil {
		return contracts.Dispute{}, err
	}
	e.d.Status = contracts.DisputeClosed

	m.recordEvent(audit.KindDisputeClosed, "", map[string]string{"dispute_id": disputeID})
	return cloneDispute(e.d), nil
}

// Get returns a snapshot of one dispute.
func (m *Manager) Get(ctx context.Context, disputeID string) (contracts.Dispute, error) {
	_ = ctx
	e, err := m.lookup(disputeID)
	if err != nil {
		return contracts.Dispute{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneDispute(e.d), nil
}

// Filter narrows List. Zero values mean "any".
type Filter struct {
	Status     contracts.DisputeStatus
	DecisionID string
}

// List snapshots matching disputes, oldest first with the dispute id
// as tiebreaker so the order is stable.
func (m *Manager) List(ctx context.Context, f Filter) []contracts.Dispute {
	_ = ctx
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.disputes))
	for _, e := range m.disputes {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]contracts.Dispute, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		d := e.d
		if (f.Status == "" || d.Status == f.Status) &&
			(f.DecisionID == "" || d.DecisionID == f.DecisionID) {
			out = append(out, cloneDispute(d))
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].DisputeID < out[j].DisputeID
	})
	return out
}

// resolveLocked tallies the completed vote set and finalizes the
// dispute. Caller holds the entry lock.
func (m *Manager) resolveLocked(ctx context.Context, e *entry) error {
	var support, overturn, abstain int
	for _, v := range e.d.Votes {
		switch v {
		case contracts.VoteSupportAI:
			support++
		case contracts.VoteOverturnAI:
			overturn++
		case contracts.VoteAbstain:
			abstain++
		}
	}

	resolution := contracts.VoteSupportAI
	if overturn > support {
		resolution = contracts.VoteOverturnAI
	}

	if err := m.writeStatus(ctx, e.d.DisputeID, contracts.DisputeResolved); err != nil {
		return err
	}

	now := m.clock().UTC()
	e.d.Status = contracts.DisputeResolved
	e.d.Resolution = &resolution
	e.d.ResolvedAt = &now
	e.d.ResolutionNotes = fmt.Sprintf(
		"%d of %d reviewers voted: %d overturn_ai, %d support_ai, %d abstain; resolved %s",
		len(e.d.Votes), len(e.d.Reviewers), overturn, support, abstain, resolution)

	if resolution == contracts.VoteOverturnAI {
		e.d.ModelUpdateRequired = true
		if e.d.Category == contracts.CategoryBias || e.d.Category == contracts.CategoryFairness {
			e.d.PolicyChangeRequired = true
		}
	}

	m.recordEvent(audit.KindDisputeResolved, "", map[string]string{
		"dispute_id":             e.d.DisputeID,
		"decision_id":            e.d.DecisionID,
		"resolution":             string(resolution),
		"model_update_required":  strconv.FormatBool(e.d.ModelUpdateRequired),
		"policy_change_required": strconv.FormatBool(e.d.PolicyChangeRequired),
	})
	return nil
}

// writeStatus pushes a status transition to the store before the
// in-memory state flips, so a store refusal leaves the machine where
// it was.
func (m *Manager) writeStatus(ctx context.Context, disputeID string, status contracts.DisputeStatus) error {
	if m.store == nil {
		return nil
	}
	return m.store.UpdateDisputeStatus(ctx, disputeID, status)
}

func (m *Manager) lookup(disputeID string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.disputes[disputeID]
	if !ok {
		return nil, fault.NotFoundf(fault.CodeDisputeNotFound, "dispute %s not found", disputeID)
	}
	return e, nil
}

func (m *Manager) recordEvent(kind, actor string, details map[string]string) {
	if m.events == nil {
		return
	}
	m.events.Record(kind, actor, details)
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

// cloneDispute deep-copies the mutable parts so callers never share
// state with the machine.
func cloneDispute(d contracts.Dispute) contracts.Dispute {
	out := d
	if d.Reviewers != nil {
		out.Reviewers = append([]string(nil), d.Reviewers...)
	}
	if d.Votes != nil {
		out.Votes = make(map[string]contracts.VoteChoice, len(d.Votes))
		for k, v := range d.Votes {
			out.Votes[k] = v
		}
	}
	if d.Resolution != nil {
		r := *d.Resolution
		out.Resolution = &r
	}
	if d.ResolvedAt != nil {
		t := *d.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}
