package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// sink receives the encoded bytes. Commit makes them visible at the
// destination; Abort discards them.
type sink interface {
	io.Writer
	Commit(ctx context.Context) error
	Abort()
}

// fileSink writes to a temporary file next to the target and renames it
// into place on Commit.
type fileSink struct {
	f      *os.File
	target string
}

func newFileSink(target string) (*fileSink, error) {
	dir := filepath.Dir(target)
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("export: results directory %s: %w", dir, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("export: results directory %s is not a directory", dir)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("export: create temp file: %w", err)
	}
	return &fileSink{f: f, target: target}, nil
}

func (s *fileSink) Write(p []byte) (int, error) { return s.f.Write(p) }

func (s *fileSink) Commit(context.Context) error {
	name := s.f.Name()
	if err := s.f.Chmod(0o644); err != nil {
		s.Abort()
		return fmt.Errorf("export: chmod %s: %w", name, err)
	}
	if err := s.f.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("export: close %s: %w", name, err)
	}
	if err := os.Rename(name, s.target); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("export: rename to %s: %w", s.target, err)
	}
	return nil
}

func (s *fileSink) Abort() {
	_ = s.f.Close()
	_ = os.Remove(s.f.Name())
}

// objectPutter is the part of *s3.Client used for uploads.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options configure uploads to s3:// destinations. Without a static key
// pair, credentials come from the default AWS chain.
type S3Options struct {
	Region string
	// Endpoint selects an S3 compatible service such as MinIO and enables
	// path-style addressing.
	Endpoint string

	AccessKeyID     string
	SecretAccessKey string
}

func (o S3Options) loadOptions() []func(*config.LoadOptions) error {
	region := o.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if o.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AccessKeyID, o.SecretAccessKey, "")))
	}
	return opts
}

// newS3Client is a seam for tests.
var newS3Client = func(ctx context.Context, o S3Options) (objectPutter, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, o.loadOptions()...)
	if err != nil {
		return nil, fmt.Errorf("export: aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(so *s3.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
			so.UsePathStyle = true
		}
	}), nil
}

// s3Sink buffers the whole object and uploads it on Commit.
type s3Sink struct {
	buf         bytes.Buffer
	bucket, key string
	contentType string
	opts        S3Options
}

func (s *s3Sink) Write(p []byte) (int, error) { return s.buf.Write(p) }

func (s *s3Sink) Commit(ctx context.Context) error {
	client, err := newS3Client(ctx, s.opts)
	if err != nil {
		return err
	}
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key),
		Body:          bytes.NewReader(s.buf.Bytes()),
		ContentLength: aws.Int64(int64(s.buf.Len())),
		ContentType:   aws.String(s.contentType),
	})
	if err != nil {
		return fmt.Errorf("export: put s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}

func (s *s3Sink) Abort() { s.buf.Reset() }

// destination is a parsed results location.
type destination struct {
	raw    string
	bucket string // set for s3://
	key    string // object key or local path
}

func parseDestination(raw string) (destination, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return destination{}, fmt.Errorf("export: empty destination")
	}
	if !strings.HasPrefix(strings.ToLower(raw), "s3://") {
		return destination{raw: raw, key: raw}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return destination{}, fmt.Errorf("export: destination %q: %w", raw, err)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" || strings.HasSuffix(key, "/") {
		return destination{}, fmt.Errorf("export: destination %q must be s3://bucket/key", raw)
	}
	return destination{raw: raw, bucket: u.Host, key: key}, nil
}

func (d destination) isS3() bool { return d.bucket != "" }

func (d destination) ext() string {
	if d.isS3() {
		return strings.ToLower(path.Ext(d.key))
	}
	return strings.ToLower(filepath.Ext(d.key))
}

// compressor wraps w according to the destination extension. The returned
// closer flushes the compressed stream without closing w.
func (d destination) compressor(w io.Writer) (io.WriteCloser, string, error) {
	switch d.ext() {
	case ".gz":
		return gzip.NewWriter(w), "application/gzip", nil
	case ".zst":
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, "", fmt.Errorf("export: zstd: %w", err)
		}
		return zw, "application/zstd", nil
	default:
		return nopCloser{w}, "text/csv", nil
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
