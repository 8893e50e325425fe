package artifacts

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/fault"
)

// artifactKeyInfo is the HKDF info label for per-object keys. Bump the
// version if the derivation ever changes.
var artifactKeyInfo = []byte("drp/artifact-key/v1")

// EncryptedFileStore keeps blobs encrypted at rest while preserving
// content addressing: ids are still the sha256 of the plaintext, and
// each object is sealed under its own AES-256-GCM key derived from a
// master key with the plaintext digest as HKDF salt. Files hold
// nonce||ciphertext. A fetched blob is re-hashed after decryption, so
// a swapped or bit-rotted file can never impersonate a content id.
type EncryptedFileStore struct {
	baseDir string
	master  []byte
	mu      sync.RWMutex
}

// NewEncryptedFileStore creates an encrypted filesystem store. The
// master key must be exactly 32 bytes.
func NewEncryptedFileStore(baseDir string, masterKey []byte) (*EncryptedFileStore, error) {
	if len(masterKey) != 32 {
		return nil, fault.Invalidf(CodeBadCID, "master key is %d bytes, want 32", len(masterKey))
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fault.Unavailable(fault.CodeStoreUnavailable, err, "creating artifact dir %s", baseDir)
	}
	key := make([]byte, 32)
	copy(key, masterKey)
	return &EncryptedFileStore{baseDir: baseDir, master: key}, nil
}

func (s *EncryptedFileStore) Store(ctx context.Context, data []byte) (string, error) {
	_ = ctx
	if err := checkSize(data); err != nil {
		return "", err
	}
	digest := sha256.Sum256(data)
	cid := "sha256:" + hex.EncodeToString(digest[:])

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.baseDir, hex.EncodeToString(digest[:])+".blob")
	if _, err := os.Stat(path); err == nil {
		return cid, nil
	}

	sealed, err := s.seal(digest[:], data)
	if err != nil {
		return "", err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, sealed, 0600); err != nil {
		return "", fault.Unavailable(fault.CodeStoreUnavailable, err, "writing sealed blob")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fault.Unavailable(fault.CodeStoreUnavailable, err, "committing sealed blob")
	}
	return cid, nil
}

func (s *EncryptedFileStore) Get(ctx context.Context, cid string) ([]byte, error) {
	_ = ctx
	raw, err := parseCID(cid)
	if err != nil {
		return nil, err
	}
	digest, _ := hex.DecodeString(raw)

	s.mu.RLock()
	defer s.mu.RUnlock()

	sealed, err := os.ReadFile(filepath.Join(s.baseDir, raw+".blob")) //nolint:gosec // digest validated as hex
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fault.NotFoundf(CodeBadCID, "artifact %s not found", cid)
		}
		return nil, fault.Unavailable(fault.CodeStoreUnavailable, err, "reading sealed blob")
	}

	data, err := s.open(digest, sealed)
	if err != nil {
		return nil, err
	}
	check := sha256.Sum256(data)
	if !bytes.Equal(check[:], digest) {
		return nil, fault.Unavailable(fault.CodeStoreUnavailable, nil,
			"decrypted blob does not match content id %s", cid)
	}
	return data, nil
}

func (s *EncryptedFileStore) Exists(ctx context.Context, cid string) (bool, error) {
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
	return false, fault.Unavailable(fault.CodeStoreUnavailable, err, "checking sealed blob %s", raw)
}

func (s *EncryptedFileStore) Delete(ctx context.Context, cid string) error {
	_ = ctx
	raw, err := parseCID(cid)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(filepath.Join(s.baseDir, raw+".blob")); err != nil && !os.IsNotExist(err) {
		return fault.Unavailable(fault.CodeStoreUnavailable, err, "deleting sealed blob %s", raw)
	}
	return nil
}

// objectKey derives the per-object AES key: HKDF-SHA256 over the
// master key, salted with the plaintext digest.
func (s *EncryptedFileStore) objectKey(digest []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, s.master, digest, artifactKeyInfo)
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fault.Unavailable(fault.CodeStoreUnavailable, err, "deriving object key")
	}
	return key, nil
}

func (s *EncryptedFileStore) seal(digest, plaintext []byte) ([]byte, error) {
	key, err := s.objectKey(digest)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fault.Unavailable(fault.CodeStoreUnavailable, err, "aes cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fault.Unavailable(fault.CodeStoreUnavailable, err, "gcm")
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fault.Unavailable(fault.CodeStoreUnavailable, err, "nonce")
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *EncryptedFileStore) open(digest, sealed []byte) ([]byte, error) {
	key, err := s.objectKey(digest)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fault.Unavailable(fault.CodeStoreUnavailable, err, "aes cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fault.Unavailable(fault.CodeStoreUnavailable, err, "gcm")
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fault.Unavailable(fault.CodeStoreUnavailable, nil, "sealed blob shorter than nonce")
	}
	nonce, ct := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fault.Unavailable(fault.CodeStoreUnavailable, err, "opening sealed blob")
	}
	return plaintext, nil
}
