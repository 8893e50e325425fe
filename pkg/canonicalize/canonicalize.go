// Package canonicalize produces the exact bytes the protocol signs and
// hashes. Two implementations that disagree on a single byte fail
// quorum verification, so the rules are strict: object keys sorted
// lexicographically by UTF-8 bytes, no whitespace between tokens,
// integers as minimal decimals, UTF-8 output, no HTML escaping.
//
// Block headers go through the hand-rolled encoder below, which
// round-trips numbers as json.Number and therefore keeps full 64-bit
// values exact. Decision records, which carry no 64-bit integers, go
// through the RFC 8785 transform in Record.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gowebpki/jcs"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/contracts"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/fault"
)

// Header returns the canonical serialization of h: a JSON object
// holding exactly the eight header fields, sorted keys, no whitespace,
// numeric fields as minimal integer decimals. Empty strings serialize
// as "" and are never omitted.
func Header(h contracts.BlockHeader) ([]byte, error) {
	if err := ValidateHeader(h); err != nil {
		return nil, err
	}
	return Marshal(h)
}

// ValidateHeader enforces the header constraints checked before any
// canonicalization: previous_hash must be non-empty. The unsigned
// 64-bit range of the numeric fields is enforced by their types; JSON
// boundaries must reject out-of-range values before building a header.
func ValidateHeader(h contracts.BlockHeader) error {
	if h.PreviousHash == "" {
		return fault.Invalidf("empty-previous-hash", "block header previous_hash must be non-empty")
	}
	return nil
}

// HashHeader returns the hex SHA-256 digest of the canonical header
// bytes. This is the value header hashes and signatures commit to.
func HashHeader(h contracts.BlockHeader) (string, error) {
	b, err := Header(h)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// Marshal canonicalizes any JSON-marshalable value. The value is
// marshaled once with encoding/json (honoring struct tags), decoded
// back with UseNumber so numeric literals survive verbatim, then
// re-encoded canonically.
func Marshal(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(intermediate))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicalize: decode: %w", err)
	}

	var buf bytes.Buffer
	if err := encodeValue(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Record canonicalizes a decision-record document per RFC 8785. The
// document must already be free of 64-bit integers (decision records
// are); values that large would lose precision in the transform.
func Record(doc any) ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: record marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: record transform: %w", err)
	}
	return out, nil
}

// HashBytes returns the hex SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// encodeValue writes the canonical form of a decoded JSON value.
// After a UseNumber decode the only possible types are nil, bool,
// json.Number, string, []any and map[string]any; anything else is a
// programming error and fails loudly.
func encodeValue(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(t.String())
	case string:
		return encodeString(buf, t)
	case []any:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encodeValue(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonicalize: unsupported type %T", v)
	}
	return nil
}

// encodeString writes a JSON string without HTML escaping. The stock
// marshaler escapes <, > and &, which RFC 8785 forbids.
func encodeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'}))
	return nil
}
