package artifacts

import (
	"bytes"
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/fault"
)

// S3Store keeps artifacts in an S3-compatible bucket under
// <prefix><hex>.blob keys.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3StoreConfig configures an S3Store.
type S3StoreConfig struct {
	Bucket string
	Region string
	// Endpoint overrides the AWS endpoint for MinIO or LocalStack.
	Endpoint string
	Prefix   string
}

// NewS3Store creates an S3-backed artifact store using the default
// AWS credential chain.
func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fault.Unavailable(fault.CodeStoreUnavailable, err, "loading AWS config")
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// Path-style addressing for MinIO/LocalStack.
			o.UsePathStyle = true
		}
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg, clientOpts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *S3Store) Store(ctx context.Context, data []byte) (string, error) {
	if err := checkSize(data); err != nil {
		return "", err
	}
	cid := CID(data)
	key := s.prefix + cid[len("sha256:"):] + ".blob"

	// HeadObject first keeps re-stores idempotent without an upload.
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return cid, nil
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fault.Unavailable(fault.CodeStoreUnavailable, err, "s3 put %s", key)
	}
	return cid, nil
}

func (s *S3Store) Get(ctx context.Context, cid string) ([]byte, error) {
	raw, err := parseCID(cid)
	if err != nil {
		return nil, err
	}
	key := s.prefix + raw + ".blob"

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fault.Unavailable(fault.CodeStoreUnavailable, err, "s3 get %s", key)
	}
	defer func() { _ = result.Body.Close() }()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fault.Unavailable(fault.CodeStoreUnavailable, err, "s3 read %s", key)
	}
	return data, nil
}

func (s *S3Store) Exists(ctx context.Context, cid string) (bool, error) {
	raw, err := parseCID(cid)
	if err != nil {
		return false, err
	}
	key := s.prefix + raw + ".blob"

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		// HeadObject errors collapse to "absent"; transient failures
		// resurface on the subsequent Get.
		return false, nil
	}
	return true, nil
}

func (s *S3Store) Delete(ctx context.Context, cid string) error {
	raw, err := parseCID(cid)
	if err != nil {
		return err
	}
	key := s.prefix + raw + ".blob"

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fault.Unavailable(fault.CodeStoreUnavailable, err, "s3 delete %s", key)
	}
	return nil
}
