package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Client is the subset of *s3.Client used by S3Storage.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Storage implements Storage for Amazon S3 and S3-compatible services.
// It is safe for concurrent use.
type S3Storage struct {
	client        S3Client
	bucket        string
	baseURL       string
	uploadTimeout time.Duration
}

// S3Config selects the bucket and, for S3-compatible services such as MinIO,
// the endpoint. Static credentials are optional; without them the default AWS
// credential chain applies.
type S3Config struct {
	Bucket         string        `env:"S3_BUCKET"`
	Region         string        `env:"S3_REGION" envDefault:"us-east-1"`
	AccessKeyID    string        `env:"S3_ACCESS_KEY_ID"`
	SecretKey      string        `env:"S3_SECRET_ACCESS_KEY"`
	Endpoint       string        `env:"S3_ENDPOINT"`
	BaseURL        string        `env:"S3_BASE_URL"`
	ForcePathStyle bool          `env:"S3_FORCE_PATH_STYLE" envDefault:"false"`
	UploadTimeout  time.Duration `env:"S3_UPLOAD_TIMEOUT" envDefault:"5m"`
}

// publicBase is the URL prefix media links are built from, always ending in "/".
func (c S3Config) publicBase() string {
	base := c.BaseURL
	switch {
	case base != "":
	case c.Endpoint != "":
		base = strings.TrimSuffix(c.Endpoint, "/") + "/" + c.Bucket
	default:
		base = "https://" + c.Bucket + ".s3." + c.Region + ".amazonaws.com"
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base
}

type S3Option func(*s3Options)

type s3Options struct {
	client     S3Client
	httpClient *http.Client
}

// WithS3Client replaces the SDK client, typically with a mock.
func WithS3Client(client S3Client) S3Option {
	return func(o *s3Options) { o.client = client }
}

func WithHTTPClient(client *http.Client) S3Option {
	return func(o *s3Options) { o.httpClient = client }
}

// NewS3Storage returns media storage backed by cfg.Bucket.
func NewS3Storage(ctx context.Context, cfg S3Config, opts ...S3Option) (*S3Storage, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, fmt.Errorf("%w: bucket and region are required", ErrInvalidConfig)
	}
	var o s3Options
	for _, opt := range opts {
		opt(&o)
	}

	client := o.client
	if client == nil {
		c, err := newS3Client(ctx, cfg, o.httpClient)
		if err != nil {
			return nil, err
		}
		client = c
	}

	return &S3Storage{
		client:        client,
		bucket:        cfg.Bucket,
		baseURL:       cfg.publicBase(),
		uploadTimeout: cfg.UploadTimeout,
	}, nil
}

func newS3Client(ctx context.Context, cfg S3Config, hc *http.Client) (*s3.Client, error) {
	load := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, "")
		load = append(load, config.WithCredentialsProvider(creds))
	}
	if hc != nil {
		load = append(load, config.WithHTTPClient(hc))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, load...)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadConfig, err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	}), nil
}

// apiCodes maps S3 error codes to package errors.
var apiCodes = map[string]error{
	"NoSuchKey":          ErrNotFound,
	"NotFound":           ErrNotFound,
	"NoSuchBucket":       ErrBucketNotFound,
	"AccessDenied":       ErrAccessDenied,
	"Forbidden":          ErrAccessDenied,
	"RequestTimeout":     ErrOperationTimeout,
	"SlowDown":           ErrServiceUnavailable,
	"ServiceUnavailable": ErrServiceUnavailable,
}

// classifyS3Error wraps err with the package error matching its cause.
func classifyS3Error(err error, op string) error {
	var (
		noKey    *types.NoSuchKey
		notFound *types.NotFound
		noBucket *types.NoSuchBucket
		apiErr   smithy.APIError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, ErrOperationTimeout)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, ErrOperationCanceled)
	case errors.As(err, &noKey), errors.As(err, &notFound):
		return fmt.Errorf("%s: %w", op, errors.Join(ErrNotFound, err))
	case errors.As(err, &noBucket):
		return fmt.Errorf("%s: %w", op, ErrBucketNotFound)
	case errors.As(err, &apiErr):
		if sentinel, ok := apiCodes[apiErr.ErrorCode()]; ok {
			return fmt.Errorf("%s: %w", op, errors.Join(sentinel, err))
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Put uploads body under key.
func (s *S3Storage) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (Object, error) {
	key, err := CleanKey(key)
	if err != nil {
		return Object{}, err
	}
	if size <= 0 {
		return Object{}, ErrEmptyObject
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if s.uploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.uploadTimeout)
		defer cancel()
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return Object{}, classifyS3Error(err, "upload object")
	}

	return Object{Key: key, Size: size, ContentType: contentType}, nil
}

// Delete removes key from the bucket. S3 treats deleting a missing key as
// success.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classifyS3Error(err, "delete object")
	}
	return nil
}

// Exists reports whether key is present in the bucket.
func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	key, err := CleanKey(key)
	if err != nil {
		return false, err
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		err = classifyS3Error(err, "check object")
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// URL returns the public URL for key.
func (s *S3Storage) URL(key string) string {
	return s.baseURL + strings.TrimPrefix(key, "/")
}
