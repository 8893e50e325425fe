package contracts

// BlockHeader is the structure Elders sign. Exactly these eight fields
// participate in the canonical serialization; adding a field here without
// updating the canonicalizer is a consensus break.
//
// Index, Timestamp, Nonce and Difficulty are unsigned 64-bit values;
// anything outside that range must be rejected at the API boundary
// before a header is constructed. PreviousHash must be non-empty;
// MerkleRoot and DataHash may be empty strings and still serialize
// as "" rather than being omitted.
type BlockHeader struct {
	Index        uint64 `json:"index"`
	PreviousHash string `json:"previous_hash"`
	Timestamp    uint64 `json:"timestamp"`
	MerkleRoot   string `json:"merkle_root"`
	DataHash     string `json:"data_hash"`
	MinerID      string `json:"miner_id"`
	Nonce        uint64 `json:"nonce"`
	Difficulty   uint64 `json:"difficulty"`
}
