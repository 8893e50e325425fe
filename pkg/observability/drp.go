// DRP-specific instrumentation helpers.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DRP semantic convention attributes.
var (
	// Decision ledger attributes
	AttrModelID    = attribute.Key("drp.model.id")
	AttrDecisionID = attribute.Key("drp.decision.id")
	AttrOutcome    = attribute.Key("drp.decision.outcome")
	AttrConfidence = attribute.Key("drp.decision.confidence")

	// Quorum attributes
	AttrBlockIndex = attribute.Key("drp.block.index")
	AttrSignerN    = attribute.Key("drp.quorum.signers")
	AttrQuorumM    = attribute.Key("drp.quorum.threshold")

	// Dispute attributes
	AttrDisputeID     = attribute.Key("drp.dispute.id")
	AttrDisputeStatus = attribute.Key("drp.dispute.status")

	// Policy attributes
	AttrPolicyVerdict = attribute.Key("drp.policy.verdict")
	AttrPolicyScore   = attribute.Key("drp.policy.score")
)

// DecideOperation creates attributes for the decision commit path.
func DecideOperation(modelID string, outcome string, confidence float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrModelID.String(modelID),
		AttrOutcome.String(outcome),
		AttrConfidence.Float64(confidence),
	}
}

// QuorumOperation creates attributes for block signing and verification.
func QuorumOperation(blockIndex uint64, signers, threshold int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrBlockIndex.Int64(int64(blockIndex)),
		AttrSignerN.Int(signers),
		AttrQuorumM.Int(threshold),
	}
}

// DisputeOperation creates attributes for dispute lifecycle transitions.
func DisputeOperation(disputeID, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrDisputeID.String(disputeID),
		AttrDisputeStatus.String(status),
	}
}

// PolicyOperation creates attributes for activity assessment.
func PolicyOperation(verdict string, score float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPolicyVerdict.String(verdict),
		AttrPolicyScore.Float64(score),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus sets the span status based on error.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
