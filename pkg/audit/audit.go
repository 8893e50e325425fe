// Package audit keeps a hash-chained, append-only trail of protocol
// events: elder rotations and revocations, dispute lifecycle
// transitions, and decision recordings.
//
// Each event is chained to its predecessor so tampering with any
// recorded event breaks verification of every later one. The chain is
// process-local; durable decision state lives in the ledger store.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Event kinds recorded on the chain.
const (
	KindElderRotated    = "elder.rotated"
	KindElderRevoked    = "elder.revoked"
	KindDisputeOpened   = "dispute.opened"
	KindDisputeAssigned = "dispute.assigned"
	KindDisputeVote     = "dispute.vote"
	KindDisputeResolved = "dispute.resolved"
	KindDisputeClosed   = "dispute.closed"
	KindDecisionSigned  = "decision.signed"
)

// Event is an immutable, hash-chained entry.
type Event struct {
	Sequence    uint64            `json:"sequence"`
	Kind        string            `json:"kind"`
	Actor       string            `json:"actor,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	ContentHash string            `json:"content_hash"`
	PrevHash    string            `json:"prev_hash"`
}

// Recorder is the write side of the chain. Components that emit
// events depend on this rather than on the concrete chain.
type Recorder interface {
	Record(kind, actor string, details map[string]string) Event
}

// Chain is an append-only, hash-chained event log.
type Chain struct {
	mu       sync.RWMutex
	events   []Event
	headHash string
	clock    func() time.Time
	logger   *slog.Logger
}

// NewChain creates an empty chain.
func NewChain() *Chain {
	return &Chain{
		events:   make([]Event, 0),
		headHash: "genesis",
		clock:    time.Now,
	}
}

// WithClock overrides the clock for testing.
func (c *Chain) WithClock(clock func() time.Time) *Chain {
	c.clock = clock
	return c
}

// WithLogger mirrors every recorded event to the given logger.
func (c *Chain) WithLogger(logger *slog.Logger) *Chain {
	c.logger = logger
	return c
}

// Record appends an event and returns it with sequence and hashes set.
func (c *Chain) Record(kind, actor string, details map[string]string) Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := uint64(len(c.events)) + 1
	contentHash := hashEvent(seq, kind, actor, details, c.headHash)

	ev := Event{
		Sequence:    seq,
		Kind:        kind,
		Actor:       actor,
		Details:     details,
		Timestamp:   c.clock().UTC(),
		ContentHash: contentHash,
		PrevHash:    c.headHash,
	}

	c.events = append(c.events, ev)
	c.headHash = contentHash

	if c.logger != nil {
		c.logger.Info("audit event",
			"kind", ev.Kind,
			"actor", ev.Actor,
			"sequence", ev.Sequence,
			"content_hash", ev.ContentHash)
	}
	return ev
}

// Get retrieves an event by sequence number.
func (c *Chain) Get(seq uint64) (*Event, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if seq == 0 || seq > uint64(len(c.events)) {
		return nil, fmt.Errorf("event %d not found", seq)
	}
	ev := c.events[seq-1]
	return &ev, nil
}

// Events returns a snapshot copy of the chain.
func (c *Chain) Events() []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Head returns the current head hash.
func (c *Chain) Head() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.headHash
}

// Len returns the number of recorded events.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}

// Verify checks the integrity of the whole chain.
func (c *Chain) Verify() (bool, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	prevHash := "genesis"
	for i, ev := range c.events {
		if ev.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at event %d: expected prev %s, got %s", i+1, prevHash, ev.PrevHash)
		}
		computed := hashEvent(ev.Sequence, ev.Kind, ev.Actor, ev.Details, ev.PrevHash)
		if computed != ev.ContentHash {
			return false, fmt.Sprintf("hash mismatch at event %d", i+1)
		}
		prevHash = ev.ContentHash
	}
	return true, "chain verified"
}

// hashEvent hashes the chained fields. json.Marshal sorts map keys,
// so the encoding is deterministic for the same inputs.
func hashEvent(seq uint64, kind, actor string, details map[string]string, prevHash string) string {
	hashInput := struct {
		Seq     uint64            `json:"seq"`
		Kind    string            `json:"kind"`
		Actor   string            `json:"actor,omitempty"`
		Details map[string]string `json:"details,omitempty"`
		Prev    string            `json:"prev"`
	}{seq, kind, actor, details, prevHash}

	raw, err := json.Marshal(hashInput)
	if err != nil {
		// Only unmarshalable values can fail here and the input is
		// plain strings and maps of strings.
		panic(fmt.Sprintf("audit: marshal event: %v", err))
	}
	h := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(h[:])
}
