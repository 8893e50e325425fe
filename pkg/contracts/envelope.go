package contracts

// SingleSignature is one Elder's Ed25519 signature over the canonical
// bytes of a block header. SignerPublicKey is the raw 32-byte key,
// base64 in JSON; SignatureBytes is the raw 64-byte signature, hex in
// JSON. SignedAtTS is seconds since epoch, UTC.
type SingleSignature struct {
	ElderID         string `json:"elder_id"`
	SignerPublicKey string `json:"signer_public_key"`
	SignatureBytes  string `json:"signature_bytes"`
	SignedAtTS      int64  `json:"signed_at_ts"`
}

// QuorumPolicy carries the m-of-n arithmetic an envelope was produced
// under. It travels with the envelope so verifiers need no side channel.
type QuorumPolicy struct {
	M int `json:"m"`
	N int `json:"n"`
}

// QuorumEnvelope is an ordered list of independent signatures plus the
// policy they target. The envelope is valid iff at least M distinct
// signer public keys verify against the same canonical header bytes;
// duplicate signers collapse to one. Producing a sub-quorum envelope is
// legal (the producer reports what it collected), accepting one is not.
type QuorumEnvelope struct {
	Signatures []SingleSignature `json:"signatures"`
	Policy     QuorumPolicy      `json:"policy"`
}

// QuorumVerification is the structured outcome of envelope verification.
// ValidSigners lists the elder ids of committee members whose signatures
// verified, in committee order.
type QuorumVerification struct {
	Valid         bool     `json:"valid"`
	ValidSigners  []string `json:"valid_signers"`
	RequiredM     int      `json:"required_m"`
	TotalDistinct int      `json:"total_distinct"`
}
