package publish

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/rasterbench/pkg/results"
)

// Sentinel errors for upload failures.
var (
	ErrBucketNotFound = errors.New("bucket not found")
	ErrAccessDenied   = errors.New("access denied")
	ErrThrottled      = errors.New("throttled")
	ErrUnavailable    = errors.New("storage unavailable")
)

// PutObjectAPI is the subset of the S3 client the publisher uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// UploadError describes a failed upload.
type UploadError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload s3://%s/%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Publisher uploads artifacts under <prefix>/<run_id>/.
type Publisher struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// New creates a publisher backed by a real S3 client.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg), nil
}

// NewWithClient creates a publisher around an existing client.
func NewWithClient(client PutObjectAPI, cfg Config) *Publisher {
	return &Publisher{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

// Key returns the object key for a run-relative name.
func (p *Publisher) Key(runID string, parts ...string) string {
	elems := make([]string, 0, len(parts)+2)
	if p.prefix != "" {
		elems = append(elems, p.prefix)
	}
	elems = append(elems, runID)
	for _, part := range parts {
		elems = append(elems, filepath.ToSlash(part))
	}
	return path.Join(elems...)
}

// PublishFile uploads a local file to key.
func (p *Publisher) PublishFile(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}
	size := info.Size()

	in := &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(size),
	}
	if ct := mime.TypeByExtension(filepath.Ext(localPath)); ct != "" {
		in.ContentType = aws.String(ct)
	}

	if _, err := p.client.PutObject(ctx, in); err != nil {
		return &UploadError{Bucket: p.bucket, Key: key, Err: classify(err)}
	}
	return nil
}

// Report summarizes a PublishRun call.
type Report struct {
	Uploaded []string
	Failed   map[string]error
}

// PublishRun uploads every successful outcome's file as
// <prefix>/<run_id>/<job>/<backend>/<file name>, then the results file as
// <prefix>/<run_id>/<results file name>. Individual failures are collected
// in the report; only context cancellation aborts the loop.
func (p *Publisher) PublishRun(ctx context.Context, runID string, set *results.Set, resultsPath string) (*Report, error) {
	rep := &Report{Failed: make(map[string]error)}

	upload := func(local, key string) {
		if err := p.PublishFile(ctx, local, key); err != nil {
			rep.Failed[key] = err
			return
		}
		rep.Uploaded = append(rep.Uploaded, key)
	}

	if set != nil {
		for _, o := range set.Outcomes() {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			if !o.DownloadSuccessful || o.File == "" {
				continue
			}
			upload(o.File, p.Key(runID, o.Job, o.Backend, filepath.Base(o.File)))
		}
	}

	if resultsPath != "" {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		upload(resultsPath, p.Key(runID, filepath.Base(resultsPath)))
	}
	return rep, nil
}

// classify attaches a sentinel to known S3 failures.
func classify(err error) error {
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return fmt.Errorf("%w: %w", ErrBucketNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket":
			return fmt.Errorf("%w: %w", ErrBucketNotFound, err)
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%w: %w", ErrAccessDenied, err)
		case "SlowDown", "Throttling", "RequestLimitExceeded":
			return fmt.Errorf("%w: %w", ErrThrottled, err)
		case "ServiceUnavailable", "InternalError":
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}
	return err
}
