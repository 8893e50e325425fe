package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/fault"
)

// Invariant: header integers above 2^53 must survive decoding exactly;
// a float64 detour would silently corrupt them.
func TestDecodeValidatedKeepsUint64Exact(t *testing.T) {
	body := []byte(`{"header":{
		"index": 9223372036854775809,
		"previous_hash": "ab",
		"timestamp": 1700000000,
		"merkle_root": "",
		"data_hash": "",
		"miner_id": "",
		"nonce": 18446744073709551615,
		"difficulty": 0
	}}`)

	var req signBlockRequest
	require.NoError(t, decodeValidated(schemaSignBlock, body, &req))
	assert.Equal(t, uint64(9223372036854775809), req.Header.Index)
	assert.Equal(t, uint64(18446744073709551615), req.Header.Nonce)
}

func TestDecodeValidatedRejections(t *testing.T) {
	cases := []struct {
		name   string
		schema string
		body   string
	}{
		{"not json", schemaDecide, `{`},
		{"missing required field", schemaDecide, `{"model_id":"m"}`},
		{"wrong field type", schemaDecide, `{
			"model_id":"m","model_version":"1.0.0","input_type":"image",
			"input_commitment":"ab","confidence":"high","decision":"approved"
		}`},
		{"negative header integer", schemaSignBlock, `{"header":{
			"index":-1,"previous_hash":"ab","timestamp":1,"merkle_root":"",
			"data_hash":"","miner_id":"","nonce":0,"difficulty":0
		}}`},
		{"empty reviewer list", schemaAssign, `{"reviewers":[]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out map[string]any
			err := decodeValidated(tc.schema, []byte(tc.body), &out)
			require.Error(t, err)
			assert.True(t, fault.IsKind(err, fault.InvalidInput), "got %v", err)
		})
	}
}

func TestDecodeValidatedUnknownSchema(t *testing.T) {
	var out map[string]any
	err := decodeValidated("no-such-schema", []byte(`{}`), &out)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.InvalidInput))
}
