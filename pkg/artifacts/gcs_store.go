//go:build gcp

package artifacts

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/fault"
)

// GCSStore keeps artifacts in a Google Cloud Storage bucket under
// <prefix><hex>.blob objects.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSStoreConfig configures a GCSStore.
type GCSStoreConfig struct {
	Bucket string
	Prefix string
}

// NewGCSStore creates a GCS-backed artifact store using application
// default credentials.
func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fault.Unavailable(fault.CodeStoreUnavailable, err, "creating GCS client")
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) Store(ctx context.Context, data []byte) (string, error) {
	if err := checkSize(data); err != nil {
		return "", err
	}
	cid := CID(data)
	objectPath := s.prefix + cid[len("sha256:"):] + ".blob"

	obj := s.client.Bucket(s.bucket).Object(objectPath)
	if _, err := obj.Attrs(ctx); err == nil {
		return cid, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fault.Unavailable(fault.CodeStoreUnavailable, err, "gcs write %s", objectPath)
	}
	if err := w.Close(); err != nil {
		return "", fault.Unavailable(fault.CodeStoreUnavailable, err, "gcs commit %s", objectPath)
	}
	return cid, nil
}

func (s *GCSStore) Get(ctx context.Context, cid string) ([]byte, error) {
	raw, err := parseCID(cid)
	if err != nil {
		return nil, err
	}
	objectPath := s.prefix + raw + ".blob"

	reader, err := s.client.Bucket(s.bucket).Object(objectPath).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fault.NotFoundf(CodeBadCID, "artifact %s not found", cid)
		}
		return nil, fault.Unavailable(fault.CodeStoreUnavailable, err, "gcs get %s", objectPath)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fault.Unavailable(fault.CodeStoreUnavailable, err, "gcs read %s", objectPath)
	}
	return data, nil
}

func (s *GCSStore) Exists(ctx context.Context, cid string) (bool, error) {
	raw, err := parseCID(cid)
	if err != nil {
		return false, err
	}
	objectPath := s.prefix + raw + ".blob"

	_, err = s.client.Bucket(s.bucket).Object(objectPath).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fault.Unavailable(fault.CodeStoreUnavailable, err, "gcs attrs %s", objectPath)
	}
	return true, nil
}

func (s *GCSStore) Delete(ctx context.Context, cid string) error {
	raw, err := parseCID(cid)
	if err != nil {
		return err
	}
	objectPath := s.prefix + raw + ".blob"

	err = s.client.Bucket(s.bucket).Object(objectPath).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fault.Unavailable(fault.CodeStoreUnavailable, err, "gcs delete %s", objectPath)
	}
	return nil
}

// Close releases the underlying GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
