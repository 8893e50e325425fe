package ledger

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/contracts"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/fault"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

func sampleRecord() contracts.DecisionRecord {
	explCID := "bafkexpl"
	zkCID := "bafkzk"
	return contracts.DecisionRecord{
		DecisionID:      "a1b2c3d4e5f60718",
		ModelID:         "face-match",
		ModelVersion:    "1.4.2",
		InputType:       contracts.InputImage,
		InputCommitment: "deadbeef",
		Outcome:         contracts.OutcomeApproved,
		Confidence:      0.93,
		ExplanationCID:  &explCID,
		ZKProofCID:      &zkCID,
		ElderPub:        "aa11",
		Signature:       "bb22",
		Timestamp:       "2026-03-01T12:00:00Z",
	}
}

func TestPostgresStore_Init(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS decision_records")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Init(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertDecision(t *testing.T) {
	store, mock := newMockStore(t)
	rec := sampleRecord()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO decision_records")).
		WithArgs(
			rec.DecisionID, rec.ModelID, rec.ModelVersion, string(rec.InputType),
			rec.InputCommitment, string(rec.Outcome), rec.Confidence,
			"bafkexpl", nil, "bafkzk",
			rec.ElderPub, rec.Signature, rec.Timestamp,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.InsertDecision(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Invariant: ON CONFLICT DO NOTHING makes a replayed insert succeed
// without touching the stored row; zero rows affected is not an error.
func TestPostgresStore_InsertDecisionConflictNoOp(t *testing.T) {
	store, mock := newMockStore(t)
	rec := sampleRecord()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO decision_records")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.InsertDecision(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDecision(t *testing.T) {
	store, mock := newMockStore(t)
	rec := sampleRecord()

	rows := sqlmock.NewRows(strings.Split(decisionColumns, ", ")).
		AddRow(
			rec.DecisionID, rec.ModelID, rec.ModelVersion, string(rec.InputType),
			rec.InputCommitment, string(rec.Outcome), rec.Confidence,
			"bafkexpl", nil, "bafkzk",
			rec.ElderPub, rec.Signature, rec.Timestamp,
		)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT ` + decisionColumns + ` FROM decision_records WHERE decision_id = $1`)).
		WithArgs(rec.DecisionID).
		WillReturnRows(rows)

	got, err := store.GetDecision(context.Background(), rec.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.Nil(t, got.ExplanationPNGCID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDecisionNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(strings.Split(decisionColumns, ", ")))

	_, err := store.GetDecision(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.NotFound))
	assert.Equal(t, fault.CodeDecisionNotFound, fault.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDecisionDBFault(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).
		WithArgs("any").
		WillReturnError(errors.New("connection refused"))

	_, err := store.GetDecision(context.Background(), "any")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.Infrastructure))
	assert.Equal(t, fault.CodeDBUnavailable, fault.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListDecisionsBuildsConditions(t *testing.T) {
	store, mock := newMockStore(t)
	rec := sampleRecord()

	rows := sqlmock.NewRows(strings.Split(decisionColumns, ", ")).
		AddRow(
			rec.DecisionID, rec.ModelID, rec.ModelVersion, string(rec.InputType),
			rec.InputCommitment, string(rec.Outcome), rec.Confidence,
			nil, nil, nil,
			rec.ElderPub, rec.Signature, rec.Timestamp,
		)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE model_id = $1 AND outcome = $2 ORDER BY timestamp DESC, decision_id LIMIT $3 OFFSET $4")).
		WithArgs("face-match", "approved", 50, 0).
		WillReturnRows(rows)

	got, err := store.ListDecisions(context.Background(),
		contracts.DecisionFilter{ModelID: "face-match", Outcome: contracts.OutcomeApproved}, 50, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].ExplanationCID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StatsFoldsWeightedMean(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"outcome", "count", "avg"}).
		AddRow("approved", 3, 0.9).
		AddRow("denied", 1, 0.6)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT outcome, COUNT(*), AVG(confidence)")).
		WithArgs("2026-03-01T00:00:00Z").
		WillReturnRows(rows)

	stats, err := store.Stats(context.Background(), "2026-03-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(3), stats.PerOutcome[contracts.OutcomeApproved])
	assert.Equal(t, int64(1), stats.PerOutcome[contracts.OutcomeDenied])
	assert.InDelta(t, 0.825, stats.MeanConfidence, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertDispute(t *testing.T) {
	store, mock := newMockStore(t)

	d := contracts.Dispute{
		DisputeID:   "dsp-1",
		DecisionID:  "a1b2c3d4e5f60718",
		Reason:      "looks wrong",
		Status:      contracts.DisputeOpen,
		SubmittedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO disputes")).
		WithArgs("dsp-1", "a1b2c3d4e5f60718", "looks wrong", "open", "2026-03-01T12:00:00Z").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.InsertDispute(context.Background(), d))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateDisputeStatus(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE disputes SET status = $1 WHERE dispute_id = $2")).
		WithArgs("resolved", "dsp-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.UpdateDisputeStatus(context.Background(), "dsp-1", contracts.DisputeResolved))

	// Zero rows means the dispute row never existed.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE disputes SET status = $1 WHERE dispute_id = $2")).
		WithArgs("closed", "dsp-missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateDisputeStatus(context.Background(), "dsp-missing", contracts.DisputeClosed)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.NotFound))
	assert.Equal(t, fault.CodeDisputeNotFound, fault.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
