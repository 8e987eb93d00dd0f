package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/ruteri/mpc-rendezvous/interfaces"
)

// Object metadata key carrying the value version.
const s3VersionMetadataKey = "Rendezvous-Version"

// S3KVStore implements a key-value store with one S3 object per key.
// The version lives in object metadata; CompareAndSwap relies on S3
// conditional writes so concurrent writers in different processes cannot
// overwrite each other.
type S3KVStore struct {
	client      *s3.S3
	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewS3KVStore creates a new S3 store. Without static credentials the
// default AWS credential chain is used.
func NewS3KVStore(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3KVStore, error) {
	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)
	if accessKey != "" {
		uri = fmt.Sprintf("s3://%s:***@%s/%s?region=%s", accessKey, bucketName, prefix, region)
	}
	if endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", endpoint)
	}

	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3KVStore{
		client:      s3.New(sess),
		bucketName:  bucketName,
		prefix:      strings.Trim(prefix, "/"),
		log:         log,
		locationURI: uri,
	}, nil
}

// Get downloads the object for key.
func (b *S3KVStore) Get(ctx context.Context, key string) (*interfaces.VersionedValue, error) {
	start := time.Now()
	objectKey := b.getObjectKey(key)

	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, interfaces.ErrKeyNotFound
		}
		b.log.Error("Failed to get object from S3",
			slog.String("bucket", b.bucketName),
			slog.String("key", objectKey),
			"err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read object body: %v", interfaces.ErrStoreUnavailable, err)
	}

	version, err := parseS3Version(result.Metadata)
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", objectKey, err)
	}

	b.log.Debug("Fetched value from S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", objectKey),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return &interfaces.VersionedValue{Value: data, Version: version}, nil
}

// Put uploads value as the next version of key.
func (b *S3KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	current, _, err := b.currentVersion(ctx, key)
	if err != nil {
		return 0, err
	}
	return b.upload(ctx, key, value, current+1, nil)
}

// CompareAndSwap uploads value if the object's version equals expectedVersion.
//
// The upload is a conditional PUT: If-None-Match: * when the key must not
// exist, If-Match with the ETag of the version that was checked otherwise.
// A writer that got in between makes S3 answer 412, reported as
// ErrVersionConflict.
func (b *S3KVStore) CompareAndSwap(ctx context.Context, key string, value []byte, expectedVersion uint64) (uint64, error) {
	current, etag, err := b.currentVersion(ctx, key)
	if err != nil {
		return 0, err
	}
	if current != expectedVersion {
		return current, fmt.Errorf("%w: key %s at version %d, expected %d", interfaces.ErrVersionConflict, key, current, expectedVersion)
	}

	condition := http.Header{}
	if expectedVersion == 0 {
		condition.Set("If-None-Match", "*")
	} else {
		condition.Set("If-Match", etag)
	}
	return b.upload(ctx, key, value, current+1, condition)
}

// currentVersion returns the version and ETag of key, or 0 if it does not exist.
func (b *S3KVStore) currentVersion(ctx context.Context, key string) (uint64, string, error) {
	head, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.getObjectKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return 0, "", nil
		}
		return 0, "", fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	version, err := parseS3Version(head.Metadata)
	if err != nil {
		return 0, "", err
	}
	return version, aws.StringValue(head.ETag), nil
}

func (b *S3KVStore) upload(ctx context.Context, key string, value []byte, version uint64, condition http.Header) (uint64, error) {
	objectKey := b.getObjectKey(key)
	req, _ := b.client.PutObjectRequest(&s3.PutObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(objectKey),
		Body:   bytes.NewReader(value),
		Metadata: map[string]*string{
			s3VersionMetadataKey: aws.String(strconv.FormatUint(version, 10)),
		},
	})
	req.SetContext(ctx)
	for name, values := range condition {
		req.HTTPRequest.Header[name] = values
	}

	if err := req.Send(); err != nil {
		if isS3PreconditionFailed(err) {
			b.log.Debug("S3 conditional write lost",
				slog.String("bucket", b.bucketName),
				slog.String("key", objectKey),
				slog.Uint64("version", version))
			return version - 1, fmt.Errorf("%w: key %s changed before version %d was written", interfaces.ErrVersionConflict, key, version)
		}
		b.log.Error("Failed to upload object to S3",
			slog.String("bucket", b.bucketName),
			slog.String("key", objectKey),
			"err", err)
		return 0, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	b.log.Debug("Stored value in S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", objectKey),
		slog.Uint64("version", version))
	return version, nil
}

// Delete removes the object for key.
func (b *S3KVStore) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.getObjectKey(key)),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

// Available checks if the S3 backend is accessible by attempting to head the bucket.
func (b *S3KVStore) Available(ctx context.Context) bool {
	_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucketName),
	})
	if err != nil {
		b.log.Warn("S3 store unavailable", slog.String("bucket", b.bucketName), "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this store.
func (b *S3KVStore) Name() string {
	return fmt.Sprintf("s3-%s", b.bucketName)
}

// LocationURI returns the URI that identifies this store.
func (b *S3KVStore) LocationURI() string {
	return b.locationURI
}

func (b *S3KVStore) getObjectKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return path.Join(b.prefix, key)
}

func isS3NotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aErr awserr.Error
	if errors.As(err, &aErr) {
		switch aErr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

// isS3PreconditionFailed reports a lost conditional write. S3 answers 412 for
// a failed If-Match/If-None-Match and 409 when a concurrent conditional write
// to the same key is still in flight.
func isS3PreconditionFailed(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) {
		switch reqErr.StatusCode() {
		case http.StatusPreconditionFailed, http.StatusConflict:
			return true
		}
	}
	var aErr awserr.Error
	if errors.As(err, &aErr) {
		switch aErr.Code() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}

// parseS3Version reads the version metadata. Objects written by other tools
// carry none and are treated as version 1.
func parseS3Version(metadata map[string]*string) (uint64, error) {
	for k, v := range metadata {
		if !strings.EqualFold(k, s3VersionMetadataKey) || v == nil {
			continue
		}
		version, err := strconv.ParseUint(*v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid version metadata %q: %w", *v, err)
		}
		return version, nil
	}
	return 1, nil
}
