// Package keystore owns all Elder and operator signing material: raw
// Ed25519 key files on disk, deterministic development-mode derivation,
// and atomic rotation. Private key bytes never leave this package;
// callers get a Signer capability, which also leaves room for HSM or
// remote-signer backends without touching the quorum code.
package keystore

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/contracts"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/fault"
)

// Signer is the capability handed to the quorum and ledger services.
// Sign may suspend (remote signers, HSMs), so it takes a context.
type Signer interface {
	Sign(ctx context.Context, data []byte) ([]byte, error)
	Public() ed25519.PublicKey
}

// Store is a directory of raw-byte key files. Each Elder index owns a
// pair elder_<i>.key (32-byte seed) and elder_<i>.pub (32-byte public
// key); the operator key lives at operator.key/operator.pub. Files are
// created 0600 inside a 0700 directory.
type Store struct {
	mu        sync.Mutex
	dir       string
	devSecret []byte
}

// Option configures a Store.
type Option func(*Store)

// WithDevSecret enables deterministic key derivation for reproducible
// development clusters. Never set in production.
func WithDevSecret(secret string) Option {
	return func(s *Store) {
		if secret != "" {
			s.devSecret = []byte(secret)
		}
	}
}

// New opens (or creates) the keystore directory.
func New(dir string, opts ...Option) (*Store, error) {
	s := &Store{dir: dir}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fault.Unavailable(fault.CodeKeyLoad, err, "creating keystore dir %s", dir)
	}
	return s, nil
}

// DeriveSeed computes the deterministic development seed for a key:
// SHA256(secret ":" namespace ":" decimal(index)). Without a
// configured development secret the call fails; production keys come
// from the cryptographic RNG only.
func (s *Store) DeriveSeed(namespace string, index int) ([]byte, error) {
	if len(s.devSecret) == 0 {
		return nil, fault.Preconditionf(fault.CodeUnsafeDerivation,
			"deterministic derivation requires a development seed")
	}
	var buf bytes.Buffer
	buf.Write(s.devSecret)
	buf.WriteByte(':')
	buf.WriteString(namespace)
	buf.WriteByte(':')
	buf.WriteString(strconv.Itoa(index))
	sum := sha256.Sum256(buf.Bytes())
	return sum[:], nil
}

// LoadOrCreateElder returns the Elder identity and signing handle for
// the given committee index, loading existing key files or generating
// and persisting a fresh pair. With a development secret configured the
// pair is derived deterministically; otherwise it comes from the RNG.
func (s *Store) LoadOrCreateElder(index int) (contracts.Elder, Signer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elderID := ElderID(index)
	priv, err := s.loadOrCreatePair(s.keyPath(index), s.pubPath(index), "elder", index)
	if err != nil {
		return contracts.Elder{}, nil, err
	}

	elder := contracts.Elder{
		ElderID:    elderID,
		PublicKey:  priv.Public().(ed25519.PublicKey),
		Status:     contracts.ElderActive,
		Reputation: 1.0,
	}
	return elder, &fileKey{priv: priv}, nil
}

// LoadOrCreateOperator returns the operator signing handle used by the
// decision ledger. The operator key is separate from all Elder keys.
func (s *Store) LoadOrCreateOperator() (Signer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	priv, err := s.loadOrCreatePair(
		filepath.Join(s.dir, "operator.key"),
		filepath.Join(s.dir, "operator.pub"),
		"operator", 0,
	)
	if err != nil {
		return nil, err
	}
	return &fileKey{priv: priv}, nil
}

// GenerateKeypair produces a fresh random keypair for rotation. Rotated
// keys never use the development derivation, even in dev clusters.
func (s *Store) GenerateKeypair() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fault.Unavailable(fault.CodeKeyLoad, err, "generating keypair")
	}
	return priv, nil
}

// Rotate atomically replaces the stored keypair for an Elder index.
// Both files are written to temps and fsynced before any rename; if the
// second rename fails the first is rolled back, so readers observe
// either the old pair or the new one, never a mix.
func (s *Store) Rotate(index int, priv ed25519.PrivateKey) (Signer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(priv) != ed25519.PrivateKeySize {
		return nil, fault.Invalidf(fault.CodeKeyLoad, "private key must be %d bytes", ed25519.PrivateKeySize)
	}

	keyPath, pubPath := s.keyPath(index), s.pubPath(index)
	oldSeed, oldErr := os.ReadFile(keyPath)

	keyTmp, err := writeTemp(keyPath, priv.Seed())
	if err != nil {
		return nil, fault.Unavailable(fault.CodeKeyLoad, err, "staging rotated key for index %d", index)
	}
	pubTmp, err := writeTemp(pubPath, priv.Public().(ed25519.PublicKey))
	if err != nil {
		_ = os.Remove(keyTmp)
		return nil, fault.Unavailable(fault.CodeKeyLoad, err, "staging rotated pub for index %d", index)
	}

	if err := os.Rename(keyTmp, keyPath); err != nil {
		_ = os.Remove(keyTmp)
		_ = os.Remove(pubTmp)
		return nil, fault.Unavailable(fault.CodeKeyLoad, err, "committing rotated key for index %d", index)
	}
	if err := os.Rename(pubTmp, pubPath); err != nil {
		// Roll the key file back so the pair stays consistent.
		if oldErr == nil {
			if tmp, werr := writeTemp(keyPath, oldSeed); werr == nil {
				_ = os.Rename(tmp, keyPath)
			}
		}
		_ = os.Remove(pubTmp)
		return nil, fault.Unavailable(fault.CodeKeyLoad, err, "committing rotated pub for index %d", index)
	}

	return &fileKey{priv: priv}, nil
}

// ElderID is the canonical identifier form for a committee index.
func ElderID(index int) string {
	return fmt.Sprintf("elder-%d", index)
}

func (s *Store) keyPath(index int) string {
	return filepath.Join(s.dir, fmt.Sprintf("elder_%d.key", index))
}

func (s *Store) pubPath(index int) string {
	return filepath.Join(s.dir, fmt.Sprintf("elder_%d.pub", index))
}

func (s *Store) loadOrCreatePair(keyPath, pubPath, namespace string, index int) (ed25519.PrivateKey, error) {
	seed, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		if len(seed) != ed25519.SeedSize {
			return nil, fault.Unavailable(fault.CodeKeyLoad, nil,
				"key file %s holds %d bytes, want %d", keyPath, len(seed), ed25519.SeedSize)
		}
		priv := ed25519.NewKeyFromSeed(seed)
		pub, err := os.ReadFile(pubPath)
		if err != nil {
			return nil, fault.Unavailable(fault.CodeKeyLoad, err, "reading %s", pubPath)
		}
		if !bytes.Equal(pub, priv.Public().(ed25519.PublicKey)) {
			return nil, fault.Unavailable(fault.CodeKeyLoad, nil,
				"public key file %s does not match private key", pubPath)
		}
		return priv, nil

	case os.IsNotExist(err):
		var priv ed25519.PrivateKey
		if len(s.devSecret) > 0 {
			devSeed, derr := s.DeriveSeed(namespace, index)
			if derr != nil {
				return nil, derr
			}
			priv = ed25519.NewKeyFromSeed(devSeed)
		} else {
			_, generated, gerr := ed25519.GenerateKey(rand.Reader)
			if gerr != nil {
				return nil, fault.Unavailable(fault.CodeKeyLoad, gerr, "generating key for %s", keyPath)
			}
			priv = generated
		}
		if err := s.persistPair(keyPath, pubPath, priv); err != nil {
			return nil, err
		}
		return priv, nil

	default:
		return nil, fault.Unavailable(fault.CodeKeyLoad, err, "reading %s", keyPath)
	}
}

func (s *Store) persistPair(keyPath, pubPath string, priv ed25519.PrivateKey) error {
	keyTmp, err := writeTemp(keyPath, priv.Seed())
	if err != nil {
		return fault.Unavailable(fault.CodeKeyLoad, err, "writing %s", keyPath)
	}
	pubTmp, err := writeTemp(pubPath, priv.Public().(ed25519.PublicKey))
	if err != nil {
		_ = os.Remove(keyTmp)
		return fault.Unavailable(fault.CodeKeyLoad, err, "writing %s", pubPath)
	}
	if err := os.Rename(keyTmp, keyPath); err != nil {
		_ = os.Remove(keyTmp)
		_ = os.Remove(pubTmp)
		return fault.Unavailable(fault.CodeKeyLoad, err, "committing %s", keyPath)
	}
	if err := os.Rename(pubTmp, pubPath); err != nil {
		_ = os.Remove(pubTmp)
		return fault.Unavailable(fault.CodeKeyLoad, err, "committing %s", pubPath)
	}
	return nil
}

// writeTemp writes data to a temp file next to path, fsyncs it, and
// returns the temp name ready for rename.
func writeTemp(path string, data []byte) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", err
	}
	name := f.Name()
	if err := f.Chmod(0600); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

// fileKey keeps private bytes private to this package.
type fileKey struct {
	priv ed25519.PrivateKey
}

func (k *fileKey) Sign(ctx context.Context, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ed25519.Sign(k.priv, data), nil
}

func (k *fileKey) Public() ed25519.PublicKey {
	return k.priv.Public().(ed25519.PublicKey)
}
