package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"contract-backend/internal/shared/storage/object"
)

// api is the subset of the S3 client the store calls.
type api interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type presignAPI interface {
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

const presignExpires = 15 * time.Minute

// Store implements ObjectStore using Amazon S3.
type Store struct {
	client    api
	presigner presignAPI
	bucket    string
	prefix    string
	kmsKeyID  string
}

// New creates a new S3-backed object store.
func New(ctx context.Context, region, bucket, prefix, kmsKeyID string) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	store := newStore(client, bucket, prefix, kmsKeyID)
	store.presigner = s3.NewPresignClient(client)
	return store, nil
}

func newStore(client api, bucket, prefix, kmsKeyID string) *Store {
	return &Store{
		client:   client,
		bucket:   bucket,
		prefix:   normalizePrefix(prefix),
		kmsKeyID: strings.TrimSpace(kmsKeyID),
	}
}

// Save uploads the reader contents to S3 under the owner's namespace.
func (s *Store) Save(ctx context.Context, ownerID, fileName string, r io.Reader) (object.Stored, error) {
	if err := ctx.Err(); err != nil {
		return object.Stored{}, err
	}
	key, err := object.NewKey(ownerID, fileName)
	if err != nil {
		return object.Stored{}, fmt.Errorf("storage key: %w", err)
	}
	objectKey := applyPrefix(s.prefix, key)

	// PutObject needs a seekable body to compute checksums.
	data, err := io.ReadAll(r)
	if err != nil {
		return object.Stored{}, fmt.Errorf("read body: %w", err)
	}
	mimeType := http.DetectContentType(data)

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(mimeType),
	}
	s.applyEncryption(input)

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return object.Stored{}, fmt.Errorf("s3 put object bucket=%s key=%s: %w", s.bucket, objectKey, err)
	}
	return object.Stored{Key: key, SizeBytes: int64(len(data)), MimeType: mimeType}, nil
}

// PresignUpload returns a PUT URL the client can upload a contract to
// directly. The returned key is what callers later pass to Open.
func (s *Store) PresignUpload(ctx context.Context, ownerID, fileName, contentType string) (object.PresignedUpload, error) {
	if s.presigner == nil {
		return object.PresignedUpload{}, fmt.Errorf("s3 presigner not configured")
	}
	key, err := object.NewKey(ownerID, fileName)
	if err != nil {
		return object.PresignedUpload{}, fmt.Errorf("storage key: %w", err)
	}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(applyPrefix(s.prefix, key)),
		ContentType: aws.String(contentType),
	}
	s.applyEncryption(input)

	out, err := s.presigner.PresignPutObject(ctx, input, func(opts *s3.PresignOptions) {
		opts.Expires = presignExpires
	})
	if err != nil {
		return object.PresignedUpload{}, fmt.Errorf("s3 presign put bucket=%s: %w", s.bucket, err)
	}
	return object.PresignedUpload{
		URL:       out.URL,
		Key:       key,
		Headers:   out.SignedHeader,
		ExpiresIn: presignExpires,
	}, nil
}

func (s *Store) applyEncryption(input *s3.PutObjectInput) {
	if s.kmsKeyID != "" {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAwsKms
		input.SSEKMSKeyId = aws.String(s.kmsKeyID)
		return
	}
	input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
}

// Open downloads a stored object for reading.
func (s *Store) Open(ctx context.Context, storageKey string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := object.CleanKey(storageKey)
	if err != nil {
		return nil, err
	}
	objectKey := applyPrefix(s.prefix, key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get object bucket=%s key=%s: %w", s.bucket, objectKey, err)
	}
	return out.Body, nil
}

// Delete removes a stored object.
func (s *Store) Delete(ctx context.Context, storageKey string) error {
	key, err := object.CleanKey(storageKey)
	if err != nil {
		return err
	}
	objectKey := applyPrefix(s.prefix, key)
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	}); err != nil {
		return fmt.Errorf("s3 delete object bucket=%s key=%s: %w", s.bucket, objectKey, err)
	}
	return nil
}

func normalizePrefix(prefix string) string {
	return strings.Trim(strings.TrimSpace(prefix), "/")
}

func applyPrefix(prefix, key string) string {
	cleanPrefix := strings.Trim(prefix, "/")
	cleanKey := strings.TrimLeft(key, "/")
	if cleanPrefix == "" {
		return cleanKey
	}
	if cleanKey == "" {
		return cleanPrefix
	}
	return cleanPrefix + "/" + cleanKey
}

var _ object.ObjectStore = (*Store)(nil)
