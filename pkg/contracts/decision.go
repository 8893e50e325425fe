package contracts

// Outcome is the tagged decision variant recorded in the ledger.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeFlagged  Outcome = "flagged"
	OutcomeDenied   Outcome = "denied"
)

// Valid reports whether o is a recognized outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeApproved, OutcomeFlagged, OutcomeDenied:
		return true
	}
	return false
}

// InputType names the modality of the committed input.
type InputType string

const (
	InputImage  InputType = "image"
	InputGPS    InputType = "gps"
	InputText   InputType = "text"
	InputSensor InputType = "sensor"
)

// Valid reports whether t is a recognized input type.
func (t InputType) Valid() bool {
	switch t {
	case InputImage, InputGPS, InputText, InputSensor:
		return true
	}
	return false
}

// DecisionRecord is the immutable, operator-signed row persisted per
// decision. InputCommitment is a hex hash binding to the upstream input;
// the raw input never reaches the core. The three CID fields are
// content addresses of encrypted artifacts and are null when pinning
// was skipped or failed. Signature is Ed25519 over the canonical JSON
// of the record with the signature field removed. Timestamp is kept as
// the ISO-8601 UTC string that was signed, so re-serialization cannot
// drift from the signed bytes.
type DecisionRecord struct {
	DecisionID        string    `json:"decision_id"`
	ModelID           string    `json:"model_id"`
	ModelVersion      string    `json:"model_version"`
	InputType         InputType `json:"input_type"`
	InputCommitment   string    `json:"input_commitment"`
	Outcome           Outcome   `json:"outcome"`
	Confidence        float64   `json:"confidence"`
	ExplanationCID    *string   `json:"explanation_cid"`
	ExplanationPNGCID *string   `json:"explanation_png_cid"`
	ZKProofCID        *string   `json:"zk_proof_cid"`
	ElderPub          string    `json:"elder_pub"`
	Signature         string    `json:"signature"`
	Timestamp         string    `json:"timestamp"`
}

// DecideInput is the request body for recording a decision. Features
// feed only the explanation artifact and are never stored raw.
type DecideInput struct {
	ModelID         string             `json:"model_id"`
	ModelVersion    string             `json:"model_version"`
	InputType       InputType          `json:"input_type"`
	InputCommitment string             `json:"input_commitment"`
	Features        map[string]float64 `json:"features,omitempty"`
	Confidence      float64            `json:"confidence"`
	Decision        Outcome            `json:"decision"`
}

// DecideResponse is the committed view returned to the caller.
type DecideResponse struct {
	DecisionID        string  `json:"decision_id"`
	Outcome           Outcome `json:"outcome"`
	Confidence        float64 `json:"confidence"`
	ExplanationCID    *string `json:"explanation_cid"`
	ExplanationPNGCID *string `json:"explanation_png_cid"`
	ZKProofCID        *string `json:"zk_proof_cid"`
	Signature         string  `json:"signature"`
	Timestamp         string  `json:"timestamp"`
}

// Response projects the committed record into the decide reply shape.
func (r DecisionRecord) Response() DecideResponse {
	return DecideResponse{
		DecisionID:        r.DecisionID,
		Outcome:           r.Outcome,
		Confidence:        r.Confidence,
		ExplanationCID:    r.ExplanationCID,
		ExplanationPNGCID: r.ExplanationPNGCID,
		ZKProofCID:        r.ZKProofCID,
		Signature:         r.Signature,
		Timestamp:         r.Timestamp,
	}
}

// DecisionFilter narrows list queries. Zero values mean "any".
type DecisionFilter struct {
	ModelID   string
	Outcome   Outcome
	InputType InputType
}

// DecisionStats aggregates the ledger over a time window.
type DecisionStats struct {
	Total          int64             `json:"total"`
	PerOutcome     map[Outcome]int64 `json:"per_outcome"`
	MeanConfidence float64           `json:"mean_confidence"`
}
