// Package archive keeps snappy-compressed JSON snapshots of saved canvases in
// S3 so earlier versions of a workflow can be recovered.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/golang/snappy"
	"github.com/meikuraledutech/canvas"
	"github.com/meikuraledutech/canvas/config"
	"github.com/meikuraledutech/canvas/metrics"
	"go.uber.org/zap"
)

const contentType = "application/x-snappy"

// Archiver stores a snapshot of a workflow and its canvas.
type Archiver interface {
	Archive(ctx context.Context, w *canvas.Workflow) error
}

// PutObjectAPI is the slice of the S3 client the archiver needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes one object per snapshot under
// <prefix><workflow id>/<timestamp>.json.sz.
type S3Archiver struct {
	client  PutObjectAPI
	bucket  string
	prefix  string
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Registry
}

// Option configures an S3Archiver.
type Option func(*S3Archiver)

func WithLogger(l *zap.Logger) Option {
	return func(a *S3Archiver) { a.logger = l }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(a *S3Archiver) { a.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(a *S3Archiver) { a.now = now }
}

// New returns an archiver writing to bucket through client.
func New(client PutObjectAPI, bucket, prefix string, opts ...Option) *S3Archiver {
	a := &S3Archiver{
		client: client,
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewS3 builds an S3 client from cfg and the default AWS credential chain.
// Static keys and a custom endpoint (MinIO, LocalStack) are honoured when set.
func NewS3(ctx context.Context, cfg config.ArchiveConfig, opts ...Option) (*S3Archiver, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return New(client, cfg.Bucket, cfg.Prefix, opts...), nil
}

// Key returns the object key for a snapshot of workflowID taken at t.
func (a *S3Archiver) Key(workflowID int64, t time.Time) string {
	prefix := a.prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return fmt.Sprintf("%s%d/%s.json.sz", prefix, workflowID, t.UTC().Format("20060102T150405.000Z"))
}

// Archive uploads a compressed snapshot of w.
func (a *S3Archiver) Archive(ctx context.Context, w *canvas.Workflow) error {
	if w == nil {
		return nil
	}
	err := a.put(ctx, w)
	a.metrics.RecordArchive(err)
	if err != nil {
		a.logger.Warn("failed to archive canvas", zap.Int64("workflow", w.ID), zap.Error(err))
		return err
	}
	return nil
}

func (a *S3Archiver) put(ctx context.Context, w *canvas.Workflow) error {
	body, err := Encode(w)
	if err != nil {
		return err
	}
	key := a.Key(w.ID, a.now())

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"workflow-id": fmt.Sprint(w.ID),
			"actions":     fmt.Sprint(len(w.Actions)),
		},
	})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	a.logger.Debug("canvas archived", zap.String("key", key), zap.Int("bytes", len(body)))
	return nil
}

// Encode serializes a snapshot the way Archive stores it.
func Encode(w *canvas.Workflow) ([]byte, error) {
	raw, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("archive: encode workflow: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

// Decode reads a snapshot written by Archive.
func Decode(data []byte) (*canvas.Workflow, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("archive: decompress snapshot: %w", err)
	}
	var w canvas.Workflow
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("archive: decode snapshot: %w", err)
	}
	return &w, nil
}
