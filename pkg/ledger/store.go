// Package ledger records operator-signed decisions and serves the
// query surface over them. Records are append-only and at-most-once
// keyed by decision id; artifact plaintext never reaches the store,
// only content ids. Two Store implementations exist: Postgres for
// deployments and SQLite for lite mode and tests.
package ledger

import (
	"context"
	"database/sql"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/contracts"
)

// Store is the persistence boundary of the decision ledger. Insert is
// idempotent per decision id (a re-insert of an existing id is a
// no-op); reads are safe to retry. The dispute methods back the
// oversight state machine's write-through of narrow dispute rows.
type Store interface {
	Init(ctx context.Context) error
	InsertDecision(ctx context.Context, rec contracts.DecisionRecord) error
	GetDecision(ctx context.Context, decisionID string) (contracts.DecisionRecord, error)
	ListDecisions(ctx context.Context, f contracts.DecisionFilter, limit, offset int) ([]contracts.DecisionRecord, error)
	Stats(ctx context.Context, since string) (contracts.DecisionStats, error)
	InsertDispute(ctx context.Context, d contracts.Dispute) error
	UpdateDisputeStatus(ctx context.Context, disputeID string, status contracts.DisputeStatus) error
}

// decisionColumns is the select list shared by both stores, in scan
// order.
const decisionColumns = `decision_id, model_id, model_version, input_type, input_commitment, outcome, confidence, explanation_cid, explanation_png_cid, zk_proof_cid, elder_pub, signature, timestamp`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (contracts.DecisionRecord, error) {
	var rec contracts.DecisionRecord
	var explCID, pngCID, zkCID sql.NullString
	err := row.Scan(
		&rec.DecisionID,
		&rec.ModelID,
		&rec.ModelVersion,
		&rec.InputType,
		&rec.InputCommitment,
		&rec.Outcome,
		&rec.Confidence,
		&explCID,
		&pngCID,
		&zkCID,
		&rec.ElderPub,
		&rec.Signature,
		&rec.Timestamp,
	)
	if err != nil {
		return contracts.DecisionRecord{}, err
	}
	rec.ExplanationCID = fromNull(explCID)
	rec.ExplanationPNGCID = fromNull(pngCID)
	rec.ZKProofCID = fromNull(zkCID)
	return rec, nil
}

func fromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func toNull(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
