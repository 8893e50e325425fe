package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/contracts"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/fault"
)

// PostgresStore is the durable SQL implementation of Store.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Timestamps are TEXT columns holding ISO-8601 UTC strings; with a
// fixed Z suffix their lexicographic order is chronological, so range
// scans need no type conversion.
const pgSchema = `
CREATE TABLE IF NOT EXISTS decision_records (
	decision_id TEXT PRIMARY KEY,
	model_id TEXT NOT NULL,
	model_version TEXT NOT NULL,
	input_type TEXT NOT NULL,
	input_commitment TEXT NOT NULL,
	outcome TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	explanation_cid TEXT,
	explanation_png_cid TEXT,
	zk_proof_cid TEXT,
	elder_pub TEXT NOT NULL,
	signature TEXT NOT NULL,
	timestamp TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS decision_records_model_id_idx ON decision_records (model_id);
CREATE INDEX IF NOT EXISTS decision_records_timestamp_idx ON decision_records (timestamp);

CREATE TABLE IF NOT EXISTS disputes (
	dispute_id TEXT PRIMARY KEY,
	decision_id TEXT NOT NULL,
	reason TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS disputes_decision_id_idx ON disputes (decision_id);
`

// Init applies the schema idempotently.
func (s *PostgresStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, pgSchema); err != nil {
		return fault.Unavailable(fault.CodeDBUnavailable, err, "apply schema")
	}
	return nil
}

func (s *PostgresStore) InsertDecision(ctx context.Context, rec contracts.DecisionRecord) error {
	query := `
		INSERT INTO decision_records (` + decisionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (decision_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.DecisionID,
		rec.ModelID,
		rec.ModelVersion,
		rec.InputType,
		rec.InputCommitment,
		rec.Outcome,
		rec.Confidence,
		toNull(rec.ExplanationCID),
		toNull(rec.ExplanationPNGCID),
		toNull(rec.ZKProofCID),
		rec.ElderPub,
		rec.Signature,
		rec.Timestamp,
	)
	if err != nil {
		return fault.Unavailable(fault.CodeDBUnavailable, err, "insert decision %s", rec.DecisionID)
	}
	return nil
}

func (s *PostgresStore) GetDecision(ctx context.Context, decisionID string) (contracts.DecisionRecord, error) {
	query := `SELECT ` + decisionColumns + ` FROM decision_records WHERE decision_id = $1`
	rec, err := scanDecision(s.db.QueryRowContext(ctx, query, decisionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.DecisionRecord{}, fault.NotFoundf(fault.CodeDecisionNotFound, "decision %s not found", decisionID)
		}
		return contracts.DecisionRecord{}, fault.Unavailable(fault.CodeDBUnavailable, err, "read decision %s", decisionID)
	}
	return rec, nil
}

func (s *PostgresStore) ListDecisions(ctx context.Context, f contracts.DecisionFilter, limit, offset int) ([]contracts.DecisionRecord, error) {
	query := `SELECT ` + decisionColumns + ` FROM decision_records`
	var conds []string
	var args []any
	if f.ModelID != "" {
		args = append(args, f.ModelID)
		conds = append(conds, fmt.Sprintf("model_id = $%d", len(args)))
	}
	if f.Outcome != "" {
		args = append(args, f.Outcome)
		conds = append(conds, fmt.Sprintf("outcome = $%d", len(args)))
	}
	if f.InputType != "" {
		args = append(args, f.InputType)
		conds = append(conds, fmt.Sprintf("input_type = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY timestamp DESC, decision_id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fault.Unavailable(fault.CodeDBUnavailable, err, "list decisions")
	}
	defer func() { _ = rows.Close() }()

	var records []contracts.DecisionRecord
	for rows.Next() {
		rec, err := scanDecision(rows)
		if err != nil {
			return nil, fault.Unavailable(fault.CodeDBUnavailable, err, "scan decision row")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Unavailable(fault.CodeDBUnavailable, err, "list decisions")
	}
	return records, nil
}

// Stats aggregates per outcome since the given ISO-8601 UTC floor. An
// empty floor admits every row (any timestamp string sorts after "").
func (s *PostgresStore) Stats(ctx context.Context, since string) (contracts.DecisionStats, error) {
	query := `
		SELECT outcome, COUNT(*), AVG(confidence)
		FROM decision_records
		WHERE timestamp >= $1
		GROUP BY outcome
	`
	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return contracts.DecisionStats{}, fault.Unavailable(fault.CodeDBUnavailable, err, "aggregate decisions")
	}
	defer func() { _ = rows.Close() }()

	return foldStats(rows)
}

func (s *PostgresStore) InsertDispute(ctx context.Context, d contracts.Dispute) error {
	query := `
		INSERT INTO disputes (dispute_id, decision_id, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (dispute_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		d.DisputeID, d.DecisionID, d.Reason, d.Status, d.SubmittedAt.UTC().Format(isoFormat))
	if err != nil {
		return fault.Unavailable(fault.CodeDBUnavailable, err, "insert dispute %s", d.DisputeID)
	}
	return nil
}

func (s *PostgresStore) UpdateDisputeStatus(ctx context.Context, disputeID string, status contracts.DisputeStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE disputes SET status = $1 WHERE dispute_id = $2`, status, disputeID)
	if err != nil {
		return fault.Unavailable(fault.CodeDBUnavailable, err, "update dispute %s", disputeID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fault.Unavailable(fault.CodeDBUnavailable, err, "update dispute %s", disputeID)
	}
	if n == 0 {
		return fault.NotFoundf(fault.CodeDisputeNotFound, "dispute %s not found", disputeID)
	}
	return nil
}

// foldStats combines per-outcome rows into one DecisionStats. The mean
// is weighted by row count so it equals the mean over all records.
func foldStats(rows *sql.Rows) (contracts.DecisionStats, error) {
	stats := contracts.DecisionStats{PerOutcome: make(map[contracts.Outcome]int64)}
	var weighted float64
	for rows.Next() {
		var outcome contracts.Outcome
		var count int64
		var mean float64
		if err := rows.Scan(&outcome, &count, &mean); err != nil {
			return contracts.DecisionStats{}, fault.Unavailable(fault.CodeDBUnavailable, err, "scan stats row")
		}
		stats.PerOutcome[outcome] = count
		stats.Total += count
		weighted += mean * float64(count)
	}
	if err := rows.Err(); err != nil {
		return contracts.DecisionStats{}, fault.Unavailable(fault.CodeDBUnavailable, err, "aggregate decisions")
	}
	if stats.Total > 0 {
		stats.MeanConfidence = weighted / float64(stats.Total)
	}
	return stats, nil
}
