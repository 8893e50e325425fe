package quorum

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/canonicalize"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/contracts"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/keystore"
)

// Properties of envelope verification under a fixed 3-of-5 committee:
// the tally counts distinct committee signers only, and shrinking an
// envelope can never make it more valid.
func TestQuorumCountingProperties(t *testing.T) {
	ks, err := keystore.New(t.TempDir(), keystore.WithDevSecret("property"))
	if err != nil {
		t.Fatalf("keystore: %v", err)
	}
	s, err := New(Config{N: 5, M: 3}, ks)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	header := genesisHeader()
	canonical, err := canonicalize.Header(header)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	selection := gen.SliceOf(gen.IntRange(0, 4))

	properties.Property("distinct signers decide validity", prop.ForAll(
		func(idxs []int) bool {
			if len(idxs) == 0 {
				idxs = []int{0}
			}
			ids := make([]string, len(idxs))
			unique := make(map[int]bool, len(idxs))
			for i, idx := range idxs {
				ids[i] = keystore.ElderID(idx)
				unique[idx] = true
			}

			env, err := s.SignBlock(context.Background(), header, ids)
			if err != nil || len(env.Signatures) != len(ids) {
				return false
			}
			v := s.VerifyQuorum(canonical, env)
			return v.TotalDistinct == len(unique) && v.Valid == (len(unique) >= 3)
		},
		selection,
	))

	properties.Property("duplicating signatures never inflates the tally", prop.ForAll(
		func(idxs []int, dupPos int) bool {
			if len(idxs) == 0 {
				idxs = []int{0}
			}
			ids := make([]string, len(idxs))
			for i, idx := range idxs {
				ids[i] = keystore.ElderID(idx)
			}

			env, err := s.SignBlock(context.Background(), header, ids)
			if err != nil {
				return false
			}
			baseline := s.VerifyQuorum(canonical, env)

			padded := env
			padded.Signatures = append(append([]contracts.SingleSignature{}, env.Signatures...),
				env.Signatures[dupPos%len(env.Signatures)])
			again := s.VerifyQuorum(canonical, padded)
			return again.TotalDistinct == baseline.TotalDistinct && again.Valid == baseline.Valid
		},
		selection, gen.IntRange(0, 16),
	))

	properties.Property("removing a signature never increases the tally", prop.ForAll(
		func(idxs []int) bool {
			if len(idxs) == 0 {
				idxs = []int{0}
			}
			ids := make([]string, len(idxs))
			for i, idx := range idxs {
				ids[i] = keystore.ElderID(idx)
			}

			env, err := s.SignBlock(context.Background(), header, ids)
			if err != nil {
				return false
			}
			full := s.VerifyQuorum(canonical, env)

			trimmed := env
			trimmed.Signatures = env.Signatures[:len(env.Signatures)-1]
			less := s.VerifyQuorum(canonical, trimmed)

			if less.TotalDistinct > full.TotalDistinct {
				return false
			}
			if !full.Valid && less.Valid {
				return false
			}
			return true
		},
		selection,
	))

	properties.TestingRun(t)
}
