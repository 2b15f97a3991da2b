package storage

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/chhayvoinvy/promptexify-sub001/settings"
)

var loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

// S3Storage is the Cloud-A variant: any S3-compatible object store.
type S3Storage struct {
	client *s3.Client
	bucket string
	public string
	bases  []string
	logger *slog.Logger
}

func NewS3Storage(ctx context.Context, cfg settings.StorageConfig, logger *slog.Logger) (*S3Storage, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(cfg.S3.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3.AccessKeyID, cfg.S3.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, &settings.ConfigError{Issues: []string{"load S3 configuration: " + err.Error()}}
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
		}
		o.UsePathStyle = cfg.S3.UsePathStyle
	})
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("using S3 object storage", "endpoint", cfg.S3.Endpoint, "bucket", cfg.S3.Bucket)

	direct := cfg
	direct.CDNURL = ""
	return &S3Storage{
		client: client,
		bucket: cfg.S3.Bucket,
		public: BaseURL(cfg),
		bases:  []string{BaseURL(cfg), BaseURL(direct)},
		logger: logger,
	}, nil
}

func (s *S3Storage) Variant() settings.Variant { return settings.VariantS3 }

func (s *S3Storage) Upload(ctx context.Context, data []byte, key, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		CacheControl:  aws.String(CacheControl),
	})
	if err != nil {
		return "", &BackendError{Variant: settings.VariantS3, Op: "upload", Key: key, Err: err}
	}
	return s.public + "/" + key, nil
}

func (s *S3Storage) Delete(ctx context.Context, target string) error {
	key := KeyFromTarget(target, s.bases...)
	if err := CheckKey(key); err != nil {
		s.logger.Error("refusing to delete object outside media prefixes", "target", target, "key", key)
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isS3NotFound(err) {
		return &BackendError{Variant: settings.VariantS3, Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (s *S3Storage) Exists(ctx context.Context, key string) bool {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err == nil
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey"
}
