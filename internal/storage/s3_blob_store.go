package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3BlobStore maps containers onto buckets and blobs onto object keys.
type S3BlobStore struct {
	client     *s3.Client
	downloader *manager.Downloader
	uploader   *manager.Uploader
}

var _ BlobStore = (*S3BlobStore)(nil)

func NewS3BlobStore(cfg S3ClientConfig) (*S3BlobStore, error) {
	client, err := initializeS3Client(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize s3 client: %w", err)
	}

	return &S3BlobStore{
		client:     client,
		downloader: manager.NewDownloader(client),
		uploader:   manager.NewUploader(client),
	}, nil
}

func (s *S3BlobStore) DownloadBlob(ctx context.Context, bucket, key, dest string) error {
	err := writeFileAtomic(dest, func(f *os.File) error {
		_, err := s.downloader.Download(ctx, f, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		return err
	})
	if err != nil {
		if isS3NotFound(err) {
			return fmt.Errorf("%w: s3://%s/%s", ErrBlobNotFound, bucket, key)
		}
		return fmt.Errorf("failed to download object s3://%s/%s to %s: %w", bucket, key, dest, err)
	}

	slog.Info("object downloaded successfully", "bucket", bucket, "key", key, "dest", dest)
	return nil
}

func (s *S3BlobStore) PutBlob(ctx context.Context, bucket, key string, data io.Reader) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   data,
	})
	if err != nil {
		return fmt.Errorf("failed to upload object to s3://%s/%s: %w", bucket, key, err)
	}
	slog.Info("object uploaded successfully", "bucket", bucket, "key", key)

	return nil
}

func (s *S3BlobStore) CreateBucket(ctx context.Context, bucket string) error {
	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		var existErr *types.BucketAlreadyExists
		var ownedErr *types.BucketAlreadyOwnedByYou
		if errors.As(err, &existErr) || errors.As(err, &ownedErr) {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}

	return nil
}

func isS3NotFound(err error) bool {
	var noKey *types.NoSuchKey
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noKey) || errors.As(err, &noBucket) {
		return true
	}

	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}
