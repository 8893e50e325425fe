// Package artifacts is the content-addressed store for decision
// evidence: explanation documents, rendered explanation charts, and
// proof placeholders. Blobs are addressed by the sha256 of their
// plaintext ("sha256:<hex>"), so storing the same bytes twice is a
// no-op on every backend. Backends: local filesystem (optionally
// encrypted at rest), S3-compatible object storage, and GCS behind
// the gcp build tag.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/fault"
)

// Stable machine codes for artifact faults.
const (
	CodeBadCID         = "bad-artifact-cid"
	CodeTooLarge       = "artifact-too-large"
	CodePinRateLimited = "pin-rate-limited"
)

// maxArtifactSize caps a single blob. Explanation charts stay in the
// tens of kilobytes; anything near this limit is abuse.
const maxArtifactSize = 10 * 1024 * 1024

// Store is the contract for content-addressed artifact storage.
type Store interface {
	// Store persists data and returns its content id "sha256:<hex>".
	Store(ctx context.Context, data []byte) (string, error)
	// Get retrieves data by content id.
	Get(ctx context.Context, cid string) ([]byte, error)
	// Exists checks for an artifact without fetching it.
	Exists(ctx context.Context, cid string) (bool, error)
	// Delete removes an artifact. Deleting an absent artifact is not
	// an error.
	Delete(ctx context.Context, cid string) error
}

// CID computes the content id for a blob.
func CID(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// parseCID validates "sha256:<64 hex>" and returns the hex part.
func parseCID(cid string) (string, error) {
	raw, ok := strings.CutPrefix(cid, "sha256:")
	if !ok {
		return "", fault.Invalidf(CodeBadCID, "content id %q lacks sha256: prefix", cid)
	}
	if len(raw) != 64 {
		return "", fault.Invalidf(CodeBadCID, "content id digest has %d chars, want 64", len(raw))
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fault.Invalidf(CodeBadCID, "content id digest is not hex: %v", err)
	}
	return raw, nil
}

func checkSize(data []byte) error {
	if len(data) == 0 {
		return fault.Invalidf(CodeBadCID, "empty artifact")
	}
	if len(data) > maxArtifactSize {
		return fault.Invalidf(CodeTooLarge, "artifact of %d bytes exceeds the %d byte cap", len(data), maxArtifactSize)
	}
	return nil
}

// FileStore is a plaintext filesystem backend. Blobs live at
// <baseDir>/<hex>.blob and are committed with a temp-file rename.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates (or opens) a filesystem store.
func NewFileStore(baseDir string) (*FileStore, error) {
	//nolint:gosec // G301: artifacts are shared, non-secret blobs
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fault.Unavailable(fault.CodeStoreUnavailable, err, "creating artifact dir %s", baseDir)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Store(ctx context.Context, data []byte) (string, error) {
	_ = ctx
	if err := checkSize(data); err != nil {
		return "", err
	}
	cid := CID(data)
	raw := cid[len("sha256:"):]

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.baseDir, raw+".blob")
	if _, err := os.Stat(path); err == nil {
		return cid, nil
	}

	tmpPath := path + ".tmp"
	//nolint:gosec // G306: blobs are world-readable evidence
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return "", fault.Unavailable(fault.CodeStoreUnavailable, err, "writing blob %s", raw)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fault.Unavailable(fault.CodeStoreUnavailable, err, "committing blob %s", raw)
	}
	return cid, nil
}

func (s *FileStore) Get(ctx context.Context, cid string) ([]byte, error) {
	_ = ctx
	raw, err := parseCID(cid)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(filepath.Join(s.baseDir, raw+".blob")) //nolint:gosec // digest validated as hex
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fault.NotFoundf(CodeBadCID, "artifact %s not found", cid)
		}
		return nil, fault.Unavailable(fault.CodeStoreUnavailable, err, "opening blob %s", raw)
	}
	defer f.Close() //nolint:errcheck // best-effort close

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fault.Unavailable(fault.CodeStoreUnavailable, err, "reading blob %s", raw)
	}
	return data, nil
}

func (s *FileStore) Exists(ctx context.Context, cid string) (bool, error) {
	_ = ctx
	raw, err := parseCID(cid)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err = os.Stat(filepath.Join(s.baseDir, raw+".blob"))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fault.Unavailable(fault.CodeStoreUnavailable, err, "checking blob %s", raw)
}

func (s *FileStore) Delete(ctx context.Context, cid string) error {
	_ = ctx
	raw, err := parseCID(cid)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(filepath.Join(s.baseDir, raw+".blob")); err != nil && !os.IsNotExist(err) {
		return fault.Unavailable(fault.CodeStoreUnavailable, err, "deleting blob %s", raw)
	}
	return nil
}
