package api

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/fault"
)

// Request bodies are validated against compiled JSON Schemas before
// they reach a service. The schemas check shape only (types, required
// fields); domain rules such as enum membership and numeric ranges
// stay in the services so their specific fault codes survive to the
// response.
var requestSchemas = map[string]*jsonschema.Schema{}

const (
	schemaAssess      = "assess-activity"
	schemaSignBlock   = "sign-block"
	schemaVerify      = "verify-quorum"
	schemaRotate      = "rotate-elder"
	schemaRevoke      = "revoke-elder"
	schemaDecide      = "decide"
	schemaDisputeOpen = "dispute-open"
	schemaAssign      = "dispute-assign"
	schemaVote        = "dispute-vote"
)

var schemaSources = map[string]string{
	schemaAssess: `{
		"type": "object",
		"required": ["actor_id", "timestamp", "evidences"],
		"properties": {
			"actor_id": {"type": "string", "minLength": 1},
			"timestamp": {"type": "string", "minLength": 1},
			"evidences": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["kind"],
					"properties": {
						"kind": {"type": "string", "minLength": 1},
						"description": {"type": "string"},
						"proofs": {"type": "array", "items": {"type": "string"}},
						"energy_kwh": {"type": "number"},
						"geo_hint": {"type": "string"}
					}
				}
			}
		}
	}`,
	schemaSignBlock: `{
		"type": "object",
		"required": ["header"],
		"properties": {
			"header": {
				"type": "object",
				"required": ["index", "previous_hash", "timestamp", "merkle_root", "data_hash", "miner_id", "nonce", "difficulty"],
				"properties": {
					"index": {"type": "integer", "minimum": 0},
					"previous_hash": {"type": "string", "minLength": 1},
					"timestamp": {"type": "integer", "minimum": 0},
					"merkle_root": {"type": "string"},
					"data_hash": {"type": "string"},
					"miner_id": {"type": "string"},
					"nonce": {"type": "integer", "minimum": 0},
					"difficulty": {"type": "integer", "minimum": 0}
				}
			},
			"elder_ids": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	schemaVerify: `{
		"type": "object",
		"required": ["header_canonical", "quorum"],
		"properties": {
			"header_canonical": {"type": "string", "minLength": 1},
			"quorum": {
				"type": "object",
				"required": ["signatures", "policy"],
				"properties": {
					"signatures": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["elder_id", "signer_public_key", "signature_bytes"],
							"properties": {
								"elder_id": {"type": "string"},
								"signer_public_key": {"type": "string"},
								"signature_bytes": {"type": "string"},
								"signed_at_ts": {"type": "integer"}
							}
						}
					},
					"policy": {
						"type": "object",
						"required": ["m", "n"],
						"properties": {
							"m": {"type": "integer"},
							"n": {"type": "integer"}
						}
					}
				}
			}
		}
	}`,
	schemaRotate: `{
		"type": "object",
		"required": ["elder_id"],
		"properties": {
			"elder_id": {"type": "string", "minLength": 1}
		}
	}`,
	schemaRevoke: `{
		"type": "object",
		"required": ["elder_id"],
		"properties": {
			"elder_id": {"type": "string", "minLength": 1},
			"reason": {"type": "string"}
		}
	}`,
	schemaDecide: `{
		"type": "object",
		"required": ["model_id", "model_version", "input_type", "input_commitment", "confidence", "decision"],
		"properties": {
			"model_id": {"type": "string", "minLength": 1},
			"model_version": {"type": "string", "minLength": 1},
			"input_type": {"type": "string"},
			"input_commitment": {"type": "string", "minLength": 1},
			"features": {"type": "object", "additionalProperties": {"type": "number"}},
			"confidence": {"type": "number"},
			"decision": {"type": "string"}
		}
	}`,
	schemaDisputeOpen: `{
		"type": "object",
		"required": ["decision_id", "reason"],
		"properties": {
			"decision_id": {"type": "string", "minLength": 1},
			"reason": {"type": "string", "minLength": 1},
			"category": {"type": "string"},
			"submitter_id": {"type": "string"}
		}
	}`,
	schemaAssign: `{
		"type": "object",
		"required": ["reviewers"],
		"properties": {
			"reviewers": {
				"type": "array",
				"minItems": 1,
				"items": {"type": "string", "minLength": 1}
			}
		}
	}`,
	schemaVote: `{
		"type": "object",
		"required": ["choice"],
		"properties": {
			"choice": {"type": "string", "minLength": 1}
		}
	}`,
}

func init() {
	for name, src := range schemaSources {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := fmt.Sprintf("https://decentralizedrights.com/schemas/%s.schema.json", name)
		if err := c.AddResource(url, strings.NewReader(src)); err != nil {
			panic(fmt.Sprintf("api: schema %s load failed: %v", name, err))
		}
		requestSchemas[name] = c.MustCompile(url)
	}
}

// decodeValidated unmarshals body into out after checking it against
// the named schema. Schema violations surface as invalid-input faults
// with the validator's message, which names the offending field.
func decodeValidated(name string, body []byte, out any) error {
	schema, ok := requestSchemas[name]
	if !ok {
		return fault.Invalidf(fault.CodeBadInput, "unknown request schema %s", name)
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fault.Invalidf(fault.CodeBadInput, "request body is not valid JSON")
	}
	if err := schema.Validate(decoded); err != nil {
		return fault.Invalidf(fault.CodeBadInput, "request body invalid: %v", err)
	}
	// Decode again from the raw bytes so 64-bit integers keep their
	// exact values; the any-tree above goes through float64.
	if err := json.Unmarshal(body, out); err != nil {
		return fault.Invalidf(fault.CodeBadInput, "request body does not match the expected shape: %v", err)
	}
	return nil
}
