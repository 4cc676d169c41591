// S3 chunk store backend for modelgate.
//
// Chunk payloads and the finalized artifact live in an upstream S3 bucket;
// the artifact spool stays on local disk because S3 objects cannot be
// appended to in place. Finalization streams the spool through SHA-256 and
// publishes it with a single PutObject.
//
// Key mapping:
//
//	Chunks:    {prefix}.chunks/{session_id}/{index}
//	Artifacts: {prefix}artifacts/{session_id}.bin
//
// Credentials are resolved via the standard AWS credential chain
// (env vars, ~/.aws/credentials, IAM role, etc.).
package chunkstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API defines the subset of the AWS S3 client interface that the chunk
// store uses. This allows mocking in tests.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Options configures the S3 chunk store backend.
type S3Options struct {
	// Bucket is the upstream S3 bucket name.
	Bucket string
	// Region is the AWS region of the upstream bucket.
	Region string
	// Prefix is the key prefix for all keys in the upstream bucket.
	Prefix string
	// EndpointURL overrides the S3 endpoint (MinIO, localstack).
	EndpointURL string
	// UsePathStyle forces path-style addressing for custom endpoints.
	UsePathStyle bool
	// AccessKeyID and SecretAccessKey override the default credential chain
	// when both are set.
	AccessKeyID     string
	SecretAccessKey string
	// SpoolDir is the local directory holding artifact spools.
	SpoolDir string
}

// S3Store implements the Store interface against an upstream Amazon S3
// bucket. The artifact spool is delegated to a LocalStore in SpoolDir.
type S3Store struct {
	// Bucket is the upstream S3 bucket name.
	Bucket string
	// Prefix is the key prefix for all keys in the upstream bucket.
	Prefix string
	// client is the AWS S3 client (satisfying the S3API interface).
	client S3API
	// spool handles local append/truncate for the artifact spool.
	spool *LocalStore
}

// NewS3Store creates a new S3Store from the given options. It initializes the
// AWS SDK client using the default credential chain, with optional overrides
// for custom endpoint, path-style addressing, and static credentials, and
// verifies that the upstream bucket is accessible.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))

	// Use static credentials if provided, otherwise fall back to default chain.
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if opts.EndpointURL != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.EndpointURL)
		})
	}
	if opts.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(cfg, s3Opts...)

	spool, err := NewLocalStore(opts.SpoolDir)
	if err != nil {
		return nil, fmt.Errorf("initializing artifact spool: %w", err)
	}

	b := &S3Store{
		Bucket: opts.Bucket,
		Prefix: opts.Prefix,
		client: client,
		spool:  spool,
	}

	// Verify the upstream bucket is accessible.
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(opts.Bucket),
	}); err != nil {
		return nil, fmt.Errorf("cannot access upstream S3 bucket %q: %w", opts.Bucket, err)
	}

	slog.Info("S3 chunk store initialized", "bucket", opts.Bucket, "region", opts.Region, "prefix", opts.Prefix)
	return b, nil
}

// NewS3StoreWithClient creates an S3Store with a pre-configured S3 client.
// This is primarily used for testing with mock clients.
func NewS3StoreWithClient(bucket, prefix, spoolDir string, client S3API) (*S3Store, error) {
	spool, err := NewLocalStore(spoolDir)
	if err != nil {
		return nil, fmt.Errorf("initializing artifact spool: %w", err)
	}
	return &S3Store{
		Bucket: bucket,
		Prefix: prefix,
		client: client,
		spool:  spool,
	}, nil
}

// chunkKey maps a chunk to an upstream S3 key.
func (b *S3Store) chunkKey(sessionID string, index uint32) string {
	return fmt.Sprintf("%s.chunks/%s/%d", b.Prefix, sessionID, index)
}

// artifactKey maps a finalized artifact to an upstream S3 key.
func (b *S3Store) artifactKey(sessionID string) string {
	return b.Prefix + "artifacts/" + sessionID + ".bin"
}

// PutChunk uploads a chunk payload to the upstream bucket. S3 PutObject is
// atomic per key, so last write wins without a temp-rename dance.
func (b *S3Store) PutChunk(ctx context.Context, sessionID string, index uint32, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.Bucket),
		Key:           aws.String(b.chunkKey(sessionID, index)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("uploading chunk %d to S3: %w", index, err)
	}
	return nil
}

// GetChunk downloads a chunk payload from the upstream bucket.
func (b *S3Store) GetChunk(ctx context.Context, sessionID string, index uint32) ([]byte, error) {
	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.chunkKey(sessionID, index)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("chunk %d not found for session %s", index, sessionID)
		}
		return nil, fmt.Errorf("getting chunk %d from S3: %w", index, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading chunk %d data: %w", index, err)
	}
	return data, nil
}

// DeleteChunks lists and batch-deletes every chunk object for the session.
func (b *S3Store) DeleteChunks(ctx context.Context, sessionID string) error {
	prefix := b.Prefix + ".chunks/" + sessionID + "/"

	for {
		listResp, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket: aws.String(b.Bucket),
			Prefix: aws.String(prefix),
		})
		if err != nil {
			return fmt.Errorf("listing chunks for session %s: %w", sessionID, err)
		}

		if len(listResp.Contents) == 0 {
			break
		}

		var objects []types.ObjectIdentifier
		for _, obj := range listResp.Contents {
			objects = append(objects, types.ObjectIdentifier{
				Key: obj.Key,
			})
		}

		_, err = b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.Bucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("batch-deleting chunks for session %s: %w", sessionID, err)
		}

		if !aws.ToBool(listResp.IsTruncated) {
			break
		}
	}

	return nil
}

// AppendArtifact appends to the local spool; S3 only sees the artifact at
// finalization.
func (b *S3Store) AppendArtifact(ctx context.Context, sessionID string, data []byte) (int64, error) {
	return b.spool.AppendArtifact(ctx, sessionID, data)
}

// TruncateArtifact rewinds the local spool.
func (b *S3Store) TruncateArtifact(ctx context.Context, sessionID string, size int64) error {
	return b.spool.TruncateArtifact(ctx, sessionID, size)
}

// FinalizeArtifact finalizes the spool locally (which computes the streamed
// SHA-256), then uploads the artifact to the upstream bucket.
func (b *S3Store) FinalizeArtifact(ctx context.Context, sessionID string) (string, int64, error) {
	hash, size, err := b.spool.FinalizeArtifact(ctx, sessionID)
	if err != nil {
		return "", 0, err
	}

	f, _, err := b.spool.OpenArtifact(ctx, sessionID)
	if err != nil {
		return "", 0, fmt.Errorf("reopening finalized artifact: %w", err)
	}
	defer f.Close()

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.Bucket),
		Key:           aws.String(b.artifactKey(sessionID)),
		Body:          f,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return "", 0, fmt.Errorf("uploading artifact to S3: %w", err)
	}

	return hash, size, nil
}

// OpenArtifact prefers the local copy and falls back to downloading from S3
// (e.g., after the host moved and only the bucket has the artifact).
func (b *S3Store) OpenArtifact(ctx context.Context, sessionID string) (io.ReadCloser, int64, error) {
	if rc, size, err := b.spool.OpenArtifact(ctx, sessionID); err == nil {
		return rc, size, nil
	}

	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.artifactKey(sessionID)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, 0, fmt.Errorf("artifact not found for session %s", sessionID)
		}
		return nil, 0, fmt.Errorf("getting artifact from S3: %w", err)
	}

	var size int64
	if resp.ContentLength != nil {
		size = *resp.ContentLength
	}
	return resp.Body, size, nil
}

// DeleteArtifact removes the local spool/artifact and the S3 copy. Idempotent:
// S3 DeleteObject does not error on missing keys.
func (b *S3Store) DeleteArtifact(ctx context.Context, sessionID string) error {
	if err := b.spool.DeleteArtifact(ctx, sessionID); err != nil {
		return err
	}
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.artifactKey(sessionID)),
	})
	if err != nil {
		return fmt.Errorf("deleting artifact from S3: %w", err)
	}
	return nil
}

// HealthCheck verifies that the upstream bucket and the local spool directory
// are both accessible.
func (b *S3Store) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(b.spool.RootDir); err != nil {
		return err
	}
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.Bucket),
	})
	return err
}

// isS3NotFound checks if an AWS error is a 404/NoSuchKey/NotFound error.
func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NoSuchKey" || code == "NotFound" || code == "404" || code == "NoSuchBucket" {
			return true
		}
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		if respErr.HTTPStatusCode() == 404 {
			return true
		}
	}
	return false
}

// Ensure S3Store implements Store at compile time.
var _ Store = (*S3Store)(nil)
