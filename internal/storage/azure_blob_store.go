package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

type AzureBlobStore struct {
	client *azblob.Client
}

var _ BlobStore = (*AzureBlobStore)(nil)

func NewAzureBlobStore(connectionString string) (*AzureBlobStore, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid azure storage connection string: %w", err)
	}
	return &AzureBlobStore{client: client}, nil
}

func (s *AzureBlobStore) DownloadBlob(ctx context.Context, container, blob, dest string) error {
	var size int64
	err := writeFileAtomic(dest, func(f *os.File) error {
		n, err := s.client.DownloadFile(ctx, container, blob, f, nil)
		size = n
		return err
	})
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound) {
			return fmt.Errorf("%w: %s/%s", ErrBlobNotFound, container, blob)
		}
		return fmt.Errorf("failed to download blob %s/%s to %s: %w", container, blob, dest, err)
	}

	slog.Info("blob downloaded successfully", "container", container, "blob", blob, "dest", dest, "bytes", size)
	return nil
}

func (s *AzureBlobStore) PutBlob(ctx context.Context, container, blob string, data io.Reader) error {
	if _, err := s.client.UploadStream(ctx, container, blob, data, nil); err != nil {
		return fmt.Errorf("failed to upload blob %s/%s: %w", container, blob, err)
	}
	slog.Info("blob uploaded successfully", "container", container, "blob", blob)
	return nil
}
