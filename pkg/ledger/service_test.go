package ledger

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/artifacts"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/contracts"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/fault"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/keystore"
)

// newTestLedger wires a Service against a real sqlite file and a
// deterministic operator key. A file, not ":memory:": the database/sql
// pool hands each connection its own in-memory database.
func newTestLedger(t *testing.T, opts ...Option) (*Service, *SQLiteStore, keystore.Signer) {
	t.Helper()
	ctx := context.Background()

	ks, err := keystore.New(t.TempDir(), keystore.WithDevSecret("demo"))
	require.NoError(t, err)
	operator, err := ks.LoadOrCreateOperator()
	require.NoError(t, err)

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := NewSQLiteStore(db)
	require.NoError(t, store.Init(ctx))

	return New(store, operator, opts...), store, operator
}

func validInput() contracts.DecideInput {
	return contracts.DecideInput{
		ModelID:         "face-match",
		ModelVersion:    "1.4.2",
		InputType:       contracts.InputImage,
		InputCommitment: "deadbeef",
		Features:        map[string]float64{"match_score": 0.91},
		Confidence:      0.93,
		Decision:        contracts.OutcomeApproved,
	}
}

// Invariant: the persisted signature verifies against the canonical
// record bytes with the signature field removed, under the operator key
// embedded in the record.
func TestDecideSignsAndPersists(t *testing.T) {
	svc, _, operator := newTestLedger(t)
	ctx := context.Background()

	rec, err := svc.Decide(ctx, validInput())
	require.NoError(t, err)

	assert.Len(t, rec.DecisionID, 16)
	assert.Equal(t, contracts.OutcomeApproved, rec.Outcome)
	assert.Equal(t, hex.EncodeToString(operator.Public()), rec.ElderPub)
	require.NotEmpty(t, rec.Signature)

	unsigned, err := SigningBytes(rec)
	require.NoError(t, err)
	sig, err := hex.DecodeString(rec.Signature)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(operator.Public(), unsigned, sig))

	// No pinner configured: every content id must be null, and the
	// record is committed anyway.
	assert.Nil(t, rec.ExplanationCID)
	assert.Nil(t, rec.ExplanationPNGCID)
	assert.Nil(t, rec.ZKProofCID)

	got, err := svc.GetDecision(ctx, rec.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestDecidePinsArtifacts(t *testing.T) {
	cas, err := artifacts.NewFileStore(t.TempDir())
	require.NoError(t, err)
	pinner := artifacts.NewPinner(cas, artifacts.WithPinRate(600, 10))

	svc, _, _ := newTestLedger(t, WithPinner(pinner))
	ctx := context.Background()

	rec, err := svc.Decide(ctx, validInput())
	require.NoError(t, err)

	require.NotNil(t, rec.ExplanationCID)
	require.NotNil(t, rec.ExplanationPNGCID)
	require.NotNil(t, rec.ZKProofCID)

	// The explanation round-trips through the content-addressed store.
	blob, err := cas.Get(ctx, *rec.ExplanationCID)
	require.NoError(t, err)
	assert.Contains(t, string(blob), rec.DecisionID)
	assert.Contains(t, string(blob), "feature_importance")
}

// Invariant: a saturated pin bucket degrades to null content ids; the
// decision itself still commits.
func TestDecidePinSaturationNullCIDs(t *testing.T) {
	cas, err := artifacts.NewFileStore(t.TempDir())
	require.NoError(t, err)
	pinner := artifacts.NewPinner(cas, artifacts.WithPinRate(1, 1))
	ctx := context.Background()

	// One pin empties the single-token bucket; refill is 1/minute.
	_, err = pinner.Pin(ctx, "face-match", []byte("drain"))
	require.NoError(t, err)

	svc, _, _ := newTestLedger(t, WithPinner(pinner))

	rec, err := svc.Decide(ctx, validInput())
	require.NoError(t, err)

	assert.Nil(t, rec.ExplanationCID)
	assert.Nil(t, rec.ExplanationPNGCID)
	assert.Nil(t, rec.ZKProofCID)

	got, err := svc.GetDecision(ctx, rec.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestDecideValidation(t *testing.T) {
	svc, _, _ := newTestLedger(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		mutate   func(*contracts.DecideInput)
		wantCode string
	}{
		{"confidence above one", func(in *contracts.DecideInput) { in.Confidence = 1.5 }, fault.CodeBadConfidence},
		{"confidence below zero", func(in *contracts.DecideInput) { in.Confidence = -0.1 }, fault.CodeBadConfidence},
		{"unknown decision", func(in *contracts.DecideInput) { in.Decision = "maybe" }, fault.CodeBadDecisionEnum},
		{"unknown input type", func(in *contracts.DecideInput) { in.InputType = "audio" }, fault.CodeBadInput},
		{"missing model id", func(in *contracts.DecideInput) { in.ModelID = "" }, fault.CodeBadInput},
		{"not a semver", func(in *contracts.DecideInput) { in.ModelVersion = "not-semver" }, fault.CodeBadInput},
		{"missing commitment", func(in *contracts.DecideInput) { in.InputCommitment = "" }, fault.CodeBadInput},
		{"commitment not hex", func(in *contracts.DecideInput) { in.InputCommitment = "zzzz" }, fault.CodeBadInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			_, err := svc.Decide(ctx, in)
			require.Error(t, err)
			kind, _ := fault.KindOf(err)
			assert.True(t, fault.IsKind(err, fault.InvalidInput), "kind = %v", kind)
			assert.Equal(t, tc.wantCode, fault.CodeOf(err))
		})
	}
}

func TestGetDecisionNotFound(t *testing.T) {
	svc, _, _ := newTestLedger(t)

	_, err := svc.GetDecision(context.Background(), "0000000000000000")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.NotFound))
	assert.Equal(t, fault.CodeDecisionNotFound, fault.CodeOf(err))
}

// Invariant: inserting an id that already exists is a no-op, never an
// overwrite. The first write wins.
func TestInsertDecisionConflictNoOp(t *testing.T) {
	svc, store, _ := newTestLedger(t)
	ctx := context.Background()

	rec, err := svc.Decide(ctx, validInput())
	require.NoError(t, err)

	replay := rec
	replay.Outcome = contracts.OutcomeDenied
	require.NoError(t, store.InsertDecision(ctx, replay))

	got, err := svc.GetDecision(ctx, rec.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, contracts.OutcomeApproved, got.Outcome)
}

func TestListDecisionsFilterAndOrder(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	svc, _, _ := newTestLedger(t, WithClock(clock))
	ctx := context.Background()

	first := validInput()
	_, err := svc.Decide(ctx, first)
	require.NoError(t, err)

	second := validInput()
	second.Decision = contracts.OutcomeDenied
	second.Confidence = 0.4
	_, err = svc.Decide(ctx, second)
	require.NoError(t, err)

	third := validInput()
	third.ModelID = "gps-verify"
	third.InputType = contracts.InputGPS
	third.Decision = contracts.OutcomeFlagged
	_, err = svc.Decide(ctx, third)
	require.NoError(t, err)

	byModel, err := svc.ListDecisions(ctx, contracts.DecisionFilter{ModelID: "face-match"}, 0, 0)
	require.NoError(t, err)
	require.Len(t, byModel, 2)
	for _, rec := range byModel {
		assert.Equal(t, "face-match", rec.ModelID)
	}
	// Newest first.
	assert.True(t, byModel[0].Timestamp > byModel[1].Timestamp,
		"%s should sort after %s", byModel[0].Timestamp, byModel[1].Timestamp)

	page, err := svc.ListDecisions(ctx, contracts.DecisionFilter{}, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := svc.ListDecisions(ctx, contracts.DecisionFilter{}, 2, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	byOutcome, err := svc.ListDecisions(ctx, contracts.DecisionFilter{Outcome: contracts.OutcomeFlagged}, 0, 0)
	require.NoError(t, err)
	require.Len(t, byOutcome, 1)
	assert.Equal(t, "gps-verify", byOutcome[0].ModelID)
}

func TestAggregateStatsWindow(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	svc, _, _ := newTestLedger(t, WithClock(clock))
	ctx := context.Background()

	approve := validInput()
	approve.Confidence = 0.9
	_, err := svc.Decide(ctx, approve)
	require.NoError(t, err)

	approve.Confidence = 0.8
	_, err = svc.Decide(ctx, approve)
	require.NoError(t, err)

	deny := validInput()
	deny.Decision = contracts.OutcomeDenied
	deny.Confidence = 0.4
	_, err = svc.Decide(ctx, deny)
	require.NoError(t, err)

	all, err := svc.AggregateStats(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), all.Total)
	assert.Equal(t, int64(2), all.PerOutcome[contracts.OutcomeApproved])
	assert.Equal(t, int64(1), all.PerOutcome[contracts.OutcomeDenied])
	assert.InDelta(t, 0.7, all.MeanConfidence, 1e-9)

	// The whole-ledger form behaves the same here.
	whole, err := svc.AggregateStats(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), whole.Total)

	// A window shorter than the gap to the newest record admits nothing.
	empty, err := svc.AggregateStats(ctx, time.Nanosecond)
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.Total)
	assert.Empty(t, empty.PerOutcome)
}

// Invariant: the signed bytes are independent of the signature field,
// so a verifier can rebuild them from the stored record.
func TestSigningBytesExcludesSignature(t *testing.T) {
	svc, _, _ := newTestLedger(t)

	rec, err := svc.Decide(context.Background(), validInput())
	require.NoError(t, err)

	withSig, err := SigningBytes(rec)
	require.NoError(t, err)

	stripped := rec
	stripped.Signature = ""
	withoutSig, err := SigningBytes(stripped)
	require.NoError(t, err)

	assert.Equal(t, withSig, withoutSig)
	assert.Contains(t, string(withSig), `"decision_id"`)
	assert.NotContains(t, string(withSig), `"signature"`)
}

// failingStore refuses inserts; everything else is unreachable in the
// test that uses it.
type failingStore struct {
	Store
}

func (f *failingStore) InsertDecision(ctx context.Context, rec contracts.DecisionRecord) error {
	return fault.Unavailable(fault.CodeDBUnavailable, context.DeadlineExceeded, "insert decision %s", rec.DecisionID)
}

func TestDecideStoreFaultIsNotACommit(t *testing.T) {
	ks, err := keystore.New(t.TempDir(), keystore.WithDevSecret("demo"))
	require.NoError(t, err)
	operator, err := ks.LoadOrCreateOperator()
	require.NoError(t, err)

	svc := New(&failingStore{}, operator)
	_, err = svc.Decide(context.Background(), validInput())
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.Infrastructure))
	assert.Equal(t, fault.CodeDBUnavailable, fault.CodeOf(err))
}
