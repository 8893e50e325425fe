package ledger

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/contracts"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/fault"

	_ "modernc.org/sqlite"
)

// SQLiteStore backs lite mode: single-binary deployments and tests
// that want a real store without a Postgres server.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS decision_records (
		decision_id TEXT PRIMARY KEY,
		model_id TEXT NOT NULL,
		model_version TEXT NOT NULL,
		input_type TEXT NOT NULL,
		input_commitment TEXT NOT NULL,
		outcome TEXT NOT NULL,
		confidence REAL NOT NULL,
		explanation_cid TEXT,
		explanation_png_cid TEXT,
		zk_proof_cid TEXT,
		elder_pub TEXT NOT NULL,
		signature TEXT NOT NULL,
		timestamp TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS decision_records_model_id_idx ON decision_records (model_id)`,
	`CREATE INDEX IF NOT EXISTS decision_records_timestamp_idx ON decision_records (timestamp)`,
	`CREATE TABLE IF NOT EXISTS disputes (
		dispute_id TEXT PRIMARY KEY,
		decision_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS disputes_decision_id_idx ON disputes (decision_id)`,
}

// Init applies the schema idempotently, one statement at a time (the
// sqlite driver does not batch).
func (s *SQLiteStore) Init(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fault.Unavailable(fault.CodeDBUnavailable, err, "apply schema")
		}
	}
	return nil
}

func (s *SQLiteStore) InsertDecision(ctx context.Context, rec contracts.DecisionRecord) error {
	query := `
		INSERT INTO decision_records (` + decisionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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

func (s *SQLiteStore) GetDecision(ctx context.Context, decisionID string) (contracts.DecisionRecord, error) {
	query := `SELECT ` + decisionColumns + ` FROM decision_records WHERE decision_id = ?`
	rec, err := scanDecision(s.db.QueryRowContext(ctx, query, decisionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.DecisionRecord{}, fault.NotFoundf(fault.CodeDecisionNotFound, "decision %s not found", decisionID)
		}
		return contracts.DecisionRecord{}, fault.Unavailable(fault.CodeDBUnavailable, err, "read decision %s", decisionID)
	}
	return rec, nil
}

func (s *SQLiteStore) ListDecisions(ctx context.Context, f contracts.DecisionFilter, limit, offset int) ([]contracts.DecisionRecord, error) {
	query := `SELECT ` + decisionColumns + ` FROM decision_records`
	var conds []string
	var args []any
	if f.ModelID != "" {
		conds = append(conds, "model_id = ?")
		args = append(args, f.ModelID)
	}
	if f.Outcome != "" {
		conds = append(conds, "outcome = ?")
		args = append(args, f.Outcome)
	}
	if f.InputType != "" {
		conds = append(conds, "input_type = ?")
		args = append(args, f.InputType)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC, decision_id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

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

func (s *SQLiteStore) Stats(ctx context.Context, since string) (contracts.DecisionStats, error) {
	query := `
		SELECT outcome, COUNT(*), AVG(confidence)
		FROM decision_records
		WHERE timestamp >= ?
		GROUP BY outcome
	`
	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return contracts.DecisionStats{}, fault.Unavailable(fault.CodeDBUnavailable, err, "aggregate decisions")
	}
	defer func() { _ = rows.Close() }()

	return foldStats(rows)
}

func (s *SQLiteStore) InsertDispute(ctx context.Context, d contracts.Dispute) error {
	query := `
		INSERT INTO disputes (dispute_id, decision_id, reason, status, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (dispute_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		d.DisputeID, d.DecisionID, d.Reason, d.Status, d.SubmittedAt.UTC().Format(isoFormat))
	if err != nil {
		return fault.Unavailable(fault.CodeDBUnavailable, err, "insert dispute %s", d.DisputeID)
	}
	return nil
}

func (s *SQLiteStore) UpdateDisputeStatus(ctx context.Context, disputeID string, status contracts.DisputeStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE disputes SET status = ? WHERE dispute_id = ?`, status, disputeID)
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
