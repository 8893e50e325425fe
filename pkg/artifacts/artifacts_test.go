package artifacts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/fault"
)

func TestFileStoreRoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()
	data := []byte(`{"method":"feature_importance"}`)

	cid, err := s.Store(ctx, data)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	want := sha256.Sum256(data)
	if cid != "sha256:"+hex.EncodeToString(want[:]) {
		t.Errorf("cid = %s, want plaintext digest", cid)
	}

	got, err := s.Get(ctx, cid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("round-trip changed bytes")
	}

	ok, err := s.Exists(ctx, cid)
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v; want true", ok, err)
	}
}

func TestFileStoreIdempotentStore(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()
	data := []byte("same bytes")

	first, err := s.Store(ctx, data)
	if err != nil {
		t.Fatalf("first store: %v", err)
	}
	second, err := s.Store(ctx, data)
	if err != nil {
		t.Fatalf("second store: %v", err)
	}
	if first != second {
		t.Errorf("re-store produced different cid: %s vs %s", first, second)
	}
}

func TestFileStoreRejectsBadCID(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	for _, cid := range []string{"", "md5:abcd", "sha256:zzzz", "sha256:" + "ab"} {
		if _, err := s.Get(ctx, cid); !fault.IsKind(err, fault.InvalidInput) {
			t.Errorf("Get(%q): expected invalid-input, got %v", cid, err)
		}
	}
}

func TestFileStoreMissingArtifact(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	missing := CID([]byte("never stored"))

	_, err = s.Get(context.Background(), missing)
	if !fault.IsKind(err, fault.NotFound) {
		t.Errorf("expected not-found, got %v", err)
	}

	ok, err := s.Exists(context.Background(), missing)
	if err != nil || ok {
		t.Errorf("Exists = %v, %v; want false, nil", ok, err)
	}
	// Deleting an absent blob is not an error.
	if err := s.Delete(context.Background(), missing); err != nil {
		t.Errorf("Delete absent: %v", err)
	}
}

func TestFileStoreDelete(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	cid, err := s.Store(ctx, []byte("delete me"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := s.Delete(ctx, cid); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := s.Exists(ctx, cid); ok {
		t.Error("artifact still exists after delete")
	}
}

func TestStoreRejectsOversizedAndEmpty(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	if _, err := s.Store(ctx, nil); !fault.IsKind(err, fault.InvalidInput) {
		t.Errorf("empty blob: expected invalid-input, got %v", err)
	}

	huge := make([]byte, maxArtifactSize+1)
	_, err = s.Store(ctx, huge)
	if !fault.IsKind(err, fault.InvalidInput) || fault.CodeOf(err) != CodeTooLarge {
		t.Errorf("oversized blob: expected invalid-input/%s, got %v", CodeTooLarge, err)
	}
}

func TestEncryptedStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	master := bytes.Repeat([]byte{0x42}, 32)
	s, err := NewEncryptedFileStore(dir, master)
	if err != nil {
		t.Fatalf("NewEncryptedFileStore: %v", err)
	}
	ctx := context.Background()
	data := []byte(`{"type":"confidence_threshold","valid":true}`)

	cid, err := s.Store(ctx, data)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	// Content ids address the plaintext, so they match the plain store.
	if cid != CID(data) {
		t.Errorf("cid = %s, want plaintext digest %s", cid, CID(data))
	}

	got, err := s.Get(ctx, cid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("round-trip changed bytes")
	}
}

func TestEncryptedStoreSealsAtRest(t *testing.T) {
	dir := t.TempDir()
	master := bytes.Repeat([]byte{0x01}, 32)
	s, err := NewEncryptedFileStore(dir, master)
	if err != nil {
		t.Fatalf("NewEncryptedFileStore: %v", err)
	}
	data := []byte("sensitive explanation payload")

	cid, err := s.Store(context.Background(), data)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	raw := cid[len("sha256:"):]
	onDisk, err := os.ReadFile(filepath.Join(dir, raw+".blob"))
	if err != nil {
		t.Fatalf("read blob file: %v", err)
	}
	if bytes.Contains(onDisk, data) {
		t.Error("plaintext visible on disk")
	}
	if len(onDisk) <= len(data) {
		t.Error("sealed blob should carry nonce and tag overhead")
	}
}

func TestEncryptedStoreWrongKeyFailsClosed(t *testing.T) {
	dir := t.TempDir()
	s1, err := NewEncryptedFileStore(dir, bytes.Repeat([]byte{0x01}, 32))
	if err != nil {
		t.Fatalf("store 1: %v", err)
	}
	cid, err := s1.Store(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	s2, err := NewEncryptedFileStore(dir, bytes.Repeat([]byte{0x02}, 32))
	if err != nil {
		t.Fatalf("store 2: %v", err)
	}
	if _, err := s2.Get(context.Background(), cid); !fault.IsKind(err, fault.Infrastructure) {
		t.Errorf("expected infrastructure fault under wrong key, got %v", err)
	}
}

func TestEncryptedStoreRejectsShortKey(t *testing.T) {
	if _, err := NewEncryptedFileStore(t.TempDir(), []byte("short")); !fault.IsKind(err, fault.InvalidInput) {
		t.Errorf("expected invalid-input for short master key, got %v", err)
	}
}

func TestNewStoreFromEnvDefault(t *testing.T) {
	t.Setenv("ARTIFACT_STORAGE_TYPE", "")
	t.Setenv("DATA_DIR", t.TempDir())

	store, err := NewStoreFromEnv(context.Background())
	if err != nil {
		t.Fatalf("NewStoreFromEnv: %v", err)
	}
	if _, ok := store.(*FileStore); !ok {
		t.Fatalf("expected *FileStore, got %T", store)
	}
}

func TestNewStoreFromEnvEncrypted(t *testing.T) {
	t.Setenv("ARTIFACT_STORAGE_TYPE", "fs")
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("ARTIFACT_ENCRYPTION_KEY", hex.EncodeToString(bytes.Repeat([]byte{0x07}, 32)))

	store, err := NewStoreFromEnv(context.Background())
	if err != nil {
		t.Fatalf("NewStoreFromEnv: %v", err)
	}
	if _, ok := store.(*EncryptedFileStore); !ok {
		t.Fatalf("expected *EncryptedFileStore, got %T", store)
	}
}

func TestNewStoreFromEnvBadKey(t *testing.T) {
	t.Setenv("ARTIFACT_STORAGE_TYPE", "fs")
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("ARTIFACT_ENCRYPTION_KEY", "not-hex")

	if _, err := NewStoreFromEnv(context.Background()); !fault.IsKind(err, fault.InvalidInput) {
		t.Errorf("expected invalid-input for bad key, got %v", err)
	}
}

func TestNewStoreFromEnvUnsupported(t *testing.T) {
	t.Setenv("ARTIFACT_STORAGE_TYPE", "tape")

	if _, err := NewStoreFromEnv(context.Background()); !fault.IsKind(err, fault.InvalidInput) {
		t.Errorf("expected invalid-input for unsupported type, got %v", err)
	}
}

func TestNewStoreFromEnvS3RequiresBucket(t *testing.T) {
	t.Setenv("ARTIFACT_STORAGE_TYPE", "s3")
	t.Setenv("ARTIFACT_S3_BUCKET", "")

	if _, err := NewStoreFromEnv(context.Background()); err == nil {
		t.Error("expected refusal without a bucket")
	}
}

func TestPinnerLocalBucket(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	// 1 pin/minute with burst 2: two pins pass, the third is refused.
	p := NewPinner(store, WithPinRate(1, 2))
	ctx := context.Background()

	if _, err := p.Pin(ctx, "model-a", []byte("one")); err != nil {
		t.Fatalf("pin 1: %v", err)
	}
	if _, err := p.Pin(ctx, "model-a", []byte("two")); err != nil {
		t.Fatalf("pin 2: %v", err)
	}
	_, err = p.Pin(ctx, "model-a", []byte("three"))
	if !fault.IsKind(err, fault.Infrastructure) || fault.CodeOf(err) != CodePinRateLimited {
		t.Errorf("expected %s fault, got %v", CodePinRateLimited, err)
	}
}

func TestPinnerUnpin(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	p := NewPinner(store)
	ctx := context.Background()

	cid, err := p.Pin(ctx, "model-a", []byte("pinned"))
	if err != nil {
		t.Fatalf("Pin: %v", err)
	}
	if err := p.Unpin(ctx, cid); err != nil {
		t.Fatalf("Unpin: %v", err)
	}
	if ok, _ := store.Exists(ctx, cid); ok {
		t.Error("artifact still pinned after unpin")
	}
}
