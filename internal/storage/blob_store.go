package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

var ErrBlobNotFound = errors.New("blob not found")

type BlobStore interface {
	// DownloadBlob writes the blob to dest, creating any missing parent directories.
	DownloadBlob(ctx context.Context, container, blob, dest string) error

	PutBlob(ctx context.Context, container, blob string, data io.Reader) error
}

const (
	ProviderAzure = "azure"
	ProviderS3    = "s3"
	ProviderLocal = "local"
)

func NewBlobStore(provider, connectionString string) (BlobStore, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("storage connection string is empty")
	}

	switch provider {
	case ProviderAzure:
		return NewAzureBlobStore(connectionString)
	case ProviderS3:
		params, err := ParseConnectionString(connectionString)
		if err != nil {
			return nil, err
		}
		return NewS3BlobStore(S3ClientConfig{
			Endpoint:        params.Get("Endpoint"),
			Region:          params.Get("Region"),
			AccessKeyID:     params.Get("AccessKeyId"),
			SecretAccessKey: params.Get("SecretAccessKey"),
		})
	case ProviderLocal:
		baseDir := connectionString
		if params, err := ParseConnectionString(connectionString); err == nil && params.Get("BaseDir") != "" {
			baseDir = params.Get("BaseDir")
		}
		return NewLocalBlobStore(baseDir)
	default:
		return nil, fmt.Errorf("unknown storage provider '%s': must be one of %s, %s, %s", provider, ProviderAzure, ProviderS3, ProviderLocal)
	}
}

// writeFileAtomic passes write a temp file next to dest and renames it into place
// only if write succeeds.
func writeFileAtomic(dest string, write func(f *os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(dest), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory for download %s: %w", filepath.Dir(dest), err)
	}

	tmp := filepath.Join(filepath.Dir(dest), "."+filepath.Base(dest)+"."+uuid.NewString()+".tmp")
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", tmp, err)
	}

	if err := write(file); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}

	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close file %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move download into place at %s: %w", dest, err)
	}

	return nil
}
