package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/maneesh/scatterstore/internal/models"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const objectPrefix = "chunks/"

// MinioProvider keeps chunks as objects in a MinIO/S3 bucket
type MinioProvider struct {
	name       string
	client     *minio.Client
	bucketName string
}

// MinioOptions holds connection settings for NewMinioProvider
type MinioOptions struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	BucketName string
	UseSSL     bool
}

// NewMinioProvider connects and makes sure the bucket exists.
func NewMinioProvider(ctx context.Context, name string, opts MinioOptions, log logrus.FieldLogger) (*MinioProvider, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		log.WithField("bucket", opts.BucketName).Info("Creating bucket")
		if err := client.MakeBucket(ctx, opts.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinioProvider{name: name, client: client, bucketName: opts.BucketName}, nil
}

func (p *MinioProvider) Name() string { return p.name }

// objectKey maps "<fileID>_chunk_<n>" to "chunks/<fileID>/<n>".
func objectKey(chunkID string) string {
	const marker = "_chunk_"
	if i := strings.LastIndex(chunkID, marker); i > 0 {
		return objectPrefix + chunkID[:i] + "/" + chunkID[i+len(marker):]
	}
	return objectPrefix + chunkID
}

func (p *MinioProvider) Store(ctx context.Context, chunkID string, data []byte) (string, error) {
	key := objectKey(chunkID)
	ctx, span := tracer.Start(ctx, "minio.upload_chunk",
		trace.WithAttributes(
			attribute.String("object_key", key),
			attribute.Int("size_bytes", len(data)),
		),
	)
	defer span.End()

	if err := validateChunkID(chunkID); err != nil {
		return "", err
	}

	_, err := p.client.PutObject(ctx, p.bucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to upload chunk: %w", err)
	}

	span.SetAttributes(attribute.Bool("upload_success", true))
	return fmt.Sprintf("s3://%s/%s", p.bucketName, key), nil
}

func (p *MinioProvider) Retrieve(ctx context.Context, chunkID string) ([]byte, error) {
	key := objectKey(chunkID)
	ctx, span := tracer.Start(ctx, "minio.download_chunk",
		trace.WithAttributes(
			attribute.String("object_key", key),
		),
	)
	defer span.End()

	object, err := p.client.GetObject(ctx, p.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		span.RecordError(err)
		return nil, p.wrapError(chunkID, "failed to get object", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		span.RecordError(err)
		return nil, p.wrapError(chunkID, "failed to read object data", err)
	}

	span.SetAttributes(
		attribute.Int("size_bytes", len(data)),
		attribute.Bool("download_success", true),
	)
	return data, nil
}

func (p *MinioProvider) Delete(ctx context.Context, chunkID string) error {
	key := objectKey(chunkID)
	ctx, span := tracer.Start(ctx, "minio.delete_chunk",
		trace.WithAttributes(
			attribute.String("object_key", key),
		),
	)
	defer span.End()

	if err := p.client.RemoveObject(ctx, p.bucketName, key, minio.RemoveObjectOptions{}); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete chunk: %w", err)
	}
	return nil
}

func (p *MinioProvider) Exists(ctx context.Context, chunkID string) (bool, error) {
	_, err := p.client.StatObject(ctx, p.bucketName, objectKey(chunkID), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat chunk: %w", err)
}

func (p *MinioProvider) Stats(ctx context.Context) (models.ProviderStats, error) {
	stats := models.ProviderStats{Name: p.name}
	for obj := range p.client.ListObjects(ctx, p.bucketName, minio.ListObjectsOptions{Prefix: objectPrefix, Recursive: true}) {
		if obj.Err != nil {
			return stats, fmt.Errorf("failed to list chunks: %w", obj.Err)
		}
		stats.ChunkCount++
		stats.TotalBytes += obj.Size
	}
	return stats, nil
}

func (p *MinioProvider) wrapError(chunkID, msg string, err error) error {
	if isNoSuchKey(err) {
		return fmt.Errorf("%w: chunk %s in %s", models.ErrNotFound, chunkID, p.name)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
