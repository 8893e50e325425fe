package audit

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/fault"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/merkle"
)

// ExportRequest selects which events go into an evidence pack. A zero
// time bound means unbounded on that side; an empty KindPrefix matches
// every kind.
type ExportRequest struct {
	KindPrefix string    `json:"kind_prefix,omitempty"`
	StartTime  time.Time `json:"start_time,omitempty"`
	EndTime    time.Time `json:"end_time,omitempty"`
}

// Exporter builds downloadable evidence packs from a chain.
type Exporter struct {
	chain *Chain
	clock func() time.Time
}

// NewExporter creates an exporter over the given chain.
func NewExporter(chain *Chain) *Exporter {
	return &Exporter{chain: chain, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (e *Exporter) WithClock(clock func() time.Time) *Exporter {
	e.clock = clock
	return e
}

// GeneratePack creates a zip containing the selected events and a
// manifest with the chain head, and returns the zip bytes together
// with their sha256 checksum. The chain is verified before export so
// a tampered trail is never packaged.
func (e *Exporter) GeneratePack(req ExportRequest) ([]byte, string, error) {
	if e.chain == nil {
		return nil, "", fault.Unavailable(fault.CodeStoreUnavailable, nil, "audit chain not configured")
	}
	if !req.StartTime.IsZero() && !req.EndTime.IsZero() && req.StartTime.After(req.EndTime) {
		return nil, "", fault.Invalidf("bad-time-range", "start_time must be before end_time")
	}

	if ok, reason := e.chain.Verify(); !ok {
		return nil, "", fault.Preconditionf("chain-broken", "audit chain failed verification: %s", reason)
	}

	events := make([]Event, 0)
	for _, ev := range e.chain.Events() {
		if req.KindPrefix != "" && !strings.HasPrefix(ev.Kind, req.KindPrefix) {
			continue
		}
		if !req.StartTime.IsZero() && ev.Timestamp.Before(req.StartTime) {
			continue
		}
		if !req.EndTime.IsZero() && ev.Timestamp.After(req.EndTime) {
			continue
		}
		events = append(events, ev)
	}

	eventsJSON, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return nil, "", err
	}

	// The merkle root over the exported content hashes anchors the pack
	// in one value; holders can prove a single event's inclusion without
	// the full trail.
	leaves := make([][]byte, len(events))
	for i, ev := range events {
		leaves[i] = []byte(ev.ContentHash)
	}

	manifest := map[string]interface{}{
		"generated_at":       e.clock().UTC(),
		"event_count":        len(events),
		"chain_head":         e.chain.Head(),
		"chain_length":       e.chain.Len(),
		"events_merkle_root": merkle.Build(leaves).Root(),
	}
	if req.KindPrefix != "" {
		manifest["kind_prefix"] = req.KindPrefix
	}
	if !req.StartTime.IsZero() || !req.EndTime.IsZero() {
		manifest["period"] = map[string]interface{}{
			"start": req.StartTime,
			"end":   req.EndTime,
		}
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	f, err := w.Create("events.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(eventsJSON)

	f, err = w.Create("manifest.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(manifestJSON)

	f, err = w.Create("README.txt")
	if err != nil {
		return nil, "", err
	}
	_, _ = fmt.Fprintf(f, "Oversight evidence pack\nGenerated at %s\nChain head %s\n", e.clock().UTC().Format(time.RFC3339), e.chain.Head())

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	zipBytes := buf.Bytes()
	hash := sha256.Sum256(zipBytes)
	return zipBytes, hex.EncodeToString(hash[:]), nil
}
