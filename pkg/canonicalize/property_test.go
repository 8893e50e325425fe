package canonicalize_test

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/canonicalize"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/contracts"
)

// Property: canonical(parse(canonical(h))) == canonical(h) byte-for-byte
// for any valid header.
func TestHeaderCanonicalizationRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("canonical form survives a parse round-trip", prop.ForAll(
		func(index, timestamp, nonce, difficulty uint64, prevHash, merkleRoot, dataHash, minerID string) bool {
			h := contracts.BlockHeader{
				Index:        index,
				PreviousHash: "h" + prevHash, // keep non-empty
				Timestamp:    timestamp,
				MerkleRoot:   merkleRoot,
				DataHash:     dataHash,
				MinerID:      minerID,
				Nonce:        nonce,
				Difficulty:   difficulty,
			}

			first, err := canonicalize.Header(h)
			if err != nil {
				return false
			}

			var reparsed contracts.BlockHeader
			if err := json.Unmarshal(first, &reparsed); err != nil {
				return false
			}

			second, err := canonicalize.Header(reparsed)
			if err != nil {
				return false
			}
			return string(first) == string(second)
		},
		gen.UInt64(), gen.UInt64(), gen.UInt64(), gen.UInt64(),
		gen.AlphaString(), gen.AnyString(), gen.AnyString(), gen.AnyString(),
	))

	properties.Property("canonicalization is deterministic", prop.ForAll(
		func(index uint64, minerID string) bool {
			h := contracts.BlockHeader{
				Index:        index,
				PreviousHash: "0",
				MinerID:      minerID,
			}
			a, err1 := canonicalize.Header(h)
			b, err2 := canonicalize.Header(h)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return string(a) == string(b)
		},
		gen.UInt64(), gen.AnyString(),
	))

	properties.TestingRun(t)
}

func FuzzHeaderRoundTrip(f *testing.F) {
	f.Add(uint64(0), "0", uint64(1735142096), "", "", "genesis", uint64(0), uint64(0))
	f.Add(uint64(1), "abc", uint64(1), "root", "data", "elder-1 <&>", uint64(7), uint64(3))

	f.Fuzz(func(t *testing.T, index uint64, prevHash string, timestamp uint64,
		merkleRoot, dataHash, minerID string, nonce, difficulty uint64) {
		if prevHash == "" {
			t.Skip("previous_hash must be non-empty")
		}
		h := contracts.BlockHeader{
			Index:        index,
			PreviousHash: prevHash,
			Timestamp:    timestamp,
			MerkleRoot:   merkleRoot,
			DataHash:     dataHash,
			MinerID:      minerID,
			Nonce:        nonce,
			Difficulty:   difficulty,
		}

		first, err := canonicalize.Header(h)
		if err != nil {
			t.Skip("unrepresentable header")
		}

		var check any
		if err := json.Unmarshal(first, &check); err != nil {
			t.Fatalf("canonical output is not valid JSON: %s", first)
		}

		var reparsed contracts.BlockHeader
		if err := json.Unmarshal(first, &reparsed); err != nil {
			t.Fatalf("canonical output does not parse as a header: %v", err)
		}

		second, err := canonicalize.Header(reparsed)
		if err != nil {
			t.Fatalf("re-canonicalization failed: %v", err)
		}
		if string(first) != string(second) {
			t.Errorf("round-trip changed bytes:\n first:  %s\n second: %s", first, second)
		}
	})
}
