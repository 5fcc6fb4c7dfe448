package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader stores one document under key and returns where it landed.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

// LocalUploader writes documents beneath BaseDir.
type LocalUploader struct {
	BaseDir string
}

func (l *LocalUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	p := filepath.Join(l.BaseDir, sanitizeKey(key))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(p, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return p, nil
}

// putObjectAPI is the slice of the S3 client the uploader uses.
type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config selects the bucket that mirrors summary documents.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
	Prefix    string
}

// S3Uploader mirrors documents to an S3 bucket.
type S3Uploader struct {
	client putObjectAPI
	bucket string
	prefix string
}

// NewS3Uploader loads AWS configuration from the environment and builds an uploader.
func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return &S3Uploader{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// WithPrefix returns a copy of s that nests keys under sub.
func (s *S3Uploader) WithPrefix(sub string) *S3Uploader {
	c := *s
	c.prefix = path.Join(s.prefix, sanitizeKey(sub))
	return &c
}

func (s *S3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	full := sanitizeKey(key)
	if s.prefix != "" {
		full = path.Join(s.prefix, full)
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(full),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, full), nil
}

// Publisher writes every document locally and copies it to any mirrors.
// Mirror failures are logged and never fail the write.
type Publisher struct {
	local   *LocalUploader
	mirrors []Uploader
	logger  Logger
}

// NewPublisher writes under baseDir. logger may be nil.
func NewPublisher(baseDir string, logger Logger, mirrors ...Uploader) *Publisher {
	return &Publisher{local: &LocalUploader{BaseDir: baseDir}, mirrors: mirrors, logger: logger}
}

// BaseDir is the local root documents are written under.
func (p *Publisher) BaseDir() string { return p.local.BaseDir }

// Publish stores a markdown document and returns its local path.
func (p *Publisher) Publish(ctx context.Context, key string, body []byte) (string, error) {
	local, err := p.local.Upload(ctx, key, body, "text/markdown")
	if err != nil {
		return "", err
	}
	for _, m := range p.mirrors {
		if m == nil {
			continue
		}
		dest, err := m.Upload(ctx, key, body, "text/markdown")
		if err != nil {
			p.logf("mirror %s: %v", key, err)
			continue
		}
		p.logf("mirrored %s to %s", key, dest)
	}
	return local, nil
}

func (p *Publisher) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

func sanitizeKey(key string) string {
	key = filepath.ToSlash(filepath.Clean("/" + key))
	return strings.TrimPrefix(key, "/")
}
